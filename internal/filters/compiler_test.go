package filters

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

type actionMap map[int64]*types.Action

func (m actionMap) GetAction(_ context.Context, id int64) (*types.Action, error) {
	action, ok := m[id]
	if !ok {
		return nil, &types.ActionNotFoundError{ID: id}
	}
	return action, nil
}

type failingLookup struct{ err error }

func (f failingLookup) GetAction(context.Context, int64) (*types.Action, error) {
	return nil, f.err
}

func newTestCompiler(actions ActionLookup, settings Settings) *Compiler {
	logger, _ := logtest.NewNullLogger()
	c := NewCompiler(actions, settings, logger)
	c.now = func() time.Time { return time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestCompileEntity(t *testing.T) {
	actions := actionMap{
		1: {ID: 1, Name: "Signed up", Steps: []types.ActionStep{{Event: "signed_up"}}},
	}
	c := newTestCompiler(actions, DefaultSettings())

	tests := []struct {
		name   string
		entity types.Entity
		want   string
	}{
		{
			name:   "action",
			entity: types.Entity{Kind: types.EntityActions, ActionID: 1},
			want:   "event = 'signed_up'",
		},
		{
			name: "action with properties",
			entity: types.Entity{
				Kind:       types.EntityActions,
				ActionID:   1,
				Properties: []types.PropertyLeaf{{Type: types.PropertyTypeEvent, Key: "source", Value: "ads"}},
			},
			want: "(event = 'signed_up' AND properties.source = 'ads')",
		},
		{
			name:   "event",
			entity: types.Entity{Kind: types.EntityEvents, Event: "$pageview"},
			want:   "event = '$pageview'",
		},
		{
			name:   "all events",
			entity: types.Entity{Kind: types.EntityEvents},
			want:   "true",
		},
		{
			name: "all events with properties",
			entity: types.Entity{
				Kind:       types.EntityEvents,
				Properties: []types.PropertyLeaf{{Type: types.PropertyTypeEvent, Key: "$browser", Value: "Chrome"}},
			},
			want: "properties.$browser = 'Chrome'",
		},
		{
			name: "event with person property",
			entity: types.Entity{
				Kind:       types.EntityEvents,
				Event:      "$pageview",
				Properties: []types.PropertyLeaf{{Type: types.PropertyTypePerson, Key: "plan", Value: "pro"}},
			},
			want: "(event = '$pageview' AND distinct_id IN (SELECT distinct_id FROM person_distinct_ids WHERE person.properties.plan = 'pro'))",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := c.CompileEntity(context.Background(), &tt.entity, types.QueryContext{})
			if err != nil {
				t.Fatalf("CompileEntity() error = %v, want nil", err)
			}
			if got := mustPrint(t, expr); got != tt.want {
				t.Errorf("CompileEntity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompileEntity_ActionNotFound(t *testing.T) {
	for name, lookup := range map[string]ActionLookup{
		"missing id": actionMap{},
		"no lookup":  nil,
	} {
		c := newTestCompiler(lookup, DefaultSettings())
		_, err := c.CompileEntity(context.Background(), &types.Entity{Kind: types.EntityActions, ActionID: 42}, types.QueryContext{})
		if !errors.Is(err, types.ErrActionNotFound) {
			t.Errorf("%s: CompileEntity() error = %v, want ErrActionNotFound", name, err)
			continue
		}
		var notFound *types.ActionNotFoundError
		if !errors.As(err, &notFound) || notFound.ID != 42 {
			t.Errorf("%s: CompileEntity() error = %v, want ActionNotFoundError{42}", name, err)
		}
	}
}

func TestCompileEntity_LookupFailure(t *testing.T) {
	boom := errors.New("connection refused")
	c := newTestCompiler(failingLookup{err: boom}, DefaultSettings())

	_, err := c.CompileEntity(context.Background(), &types.Entity{Kind: types.EntityActions, ActionID: 3}, types.QueryContext{})
	if !errors.Is(err, boom) {
		t.Errorf("CompileEntity() error = %v, want wrapped %v", err, boom)
	}
	if errors.Is(err, types.ErrActionNotFound) {
		t.Errorf("CompileEntity() error = %v, should not be ErrActionNotFound", err)
	}
}

func TestCompileEntity_InvalidKind(t *testing.T) {
	c := newTestCompiler(nil, DefaultSettings())
	_, err := c.CompileEntity(context.Background(), &types.Entity{Kind: "funnels"}, types.QueryContext{})
	if !errors.Is(err, types.ErrInvalidEntity) {
		t.Errorf("CompileEntity() error = %v, want ErrInvalidEntity", err)
	}
}

func TestCompileEntities(t *testing.T) {
	c := newTestCompiler(nil, DefaultSettings())
	entities := []types.Entity{
		{Kind: types.EntityEvents, Event: "a"},
		{Kind: types.EntityEvents, Event: "b"},
	}

	expr, err := c.CompileEntities(context.Background(), entities, types.QueryContext{Combinator: types.CombinatorOr})
	if err != nil {
		t.Fatalf("CompileEntities() error = %v", err)
	}
	if got, want := mustPrint(t, expr), "(event = 'a' OR event = 'b')"; got != want {
		t.Errorf("CompileEntities() = %q, want %q", got, want)
	}

	expr, err = c.CompileEntities(context.Background(), nil, types.QueryContext{})
	if err != nil || expr != nil {
		t.Errorf("CompileEntities(nil) = %v, %v, want nil, nil", expr, err)
	}
}

func TestTimeWindow(t *testing.T) {
	qctx := types.QueryContext{
		DateRange: types.DateRange{
			From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		},
		TTLDays: 30,
	}
	want := "(timestamp >= toDateTime('2024-01-01 00:00:00')" +
		" AND timestamp <= toDateTime('2024-01-08 00:00:00')" +
		" AND timestamp >= minus(now(), toIntervalDay(30)))"
	if got := mustPrint(t, TimeWindow(qctx)); got != want {
		t.Errorf("TimeWindow() = %q, want %q", got, want)
	}

	if got := TimeWindow(types.QueryContext{}); got != nil {
		t.Errorf("TimeWindow(empty) = %#v, want nil", got)
	}
}

func TestQueryContext(t *testing.T) {
	c := newTestCompiler(nil, Settings{Combinator: types.CombinatorAnd, SessionTTLDays: 30, Lookback: 24 * time.Hour})

	qctx := c.QueryContext(&types.CompileRequest{Combinator: types.CombinatorOr}, &types.Team{SessionTTLDays: 90, PersonOnEvents: true})
	if qctx.Combinator != types.CombinatorOr {
		t.Errorf("Combinator = %q, want OR", qctx.Combinator)
	}
	if qctx.TTLDays != 90 {
		t.Errorf("TTLDays = %d, want 90", qctx.TTLDays)
	}
	if !qctx.PersonPropertiesDenormalized {
		t.Errorf("PersonPropertiesDenormalized = false, want true")
	}
	wantFrom := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	if !qctx.DateRange.From.Equal(wantFrom) {
		t.Errorf("DateRange.From = %v, want %v", qctx.DateRange.From, wantFrom)
	}

	qctx = c.QueryContext(&types.CompileRequest{}, nil)
	if qctx.TTLDays != 30 || qctx.PersonPropertiesDenormalized {
		t.Errorf("QueryContext(no team) = %+v, want settings defaults", qctx)
	}
}

func TestQueryContext_PersonOnEventsMerge(t *testing.T) {
	tests := []struct {
		name    string
		process bool
		team    *types.Team
		want    bool
	}{
		{name: "both off", team: &types.Team{}, want: false},
		{name: "team on", team: &types.Team{PersonOnEvents: true}, want: true},
		{name: "process on team off", process: true, team: &types.Team{}, want: true},
		{name: "process on no team", process: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCompiler(nil, Settings{Combinator: types.CombinatorAnd, PersonOnEvents: tt.process})
			qctx := c.QueryContext(&types.CompileRequest{}, tt.team)
			if qctx.PersonPropertiesDenormalized != tt.want {
				t.Errorf("PersonPropertiesDenormalized = %v, want %v", qctx.PersonPropertiesDenormalized, tt.want)
			}
		})
	}
}

func TestBuildEventsQuery(t *testing.T) {
	c := newTestCompiler(nil, Settings{Combinator: types.CombinatorAnd, Lookback: 24 * time.Hour})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	req := &types.CompileRequest{
		Properties: types.And(eventLeaf("$browser", types.OpExact, "Chrome")),
		Entities:   []types.Entity{{Kind: types.EntityEvents, Event: "$pageview"}},
		DateFrom:   &from,
		DateTo:     &to,
	}

	query, err := c.BuildEventsQuery(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("BuildEventsQuery() error = %v", err)
	}

	want := "SELECT distinct_id, min(timestamp) AS start_time, max(timestamp) AS end_time, count() AS event_count" +
		" FROM events" +
		" WHERE ((timestamp >= toDateTime('2024-01-01 00:00:00') AND timestamp <= toDateTime('2024-01-02 00:00:00'))" +
		" AND event = '$pageview' AND properties.$browser = 'Chrome')" +
		" GROUP BY distinct_id"
	if got := mustPrint(t, query); got != want {
		t.Errorf("BuildEventsQuery() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestBuildEventsQuery_TestAccountFilters(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewCompiler(nil, DefaultSettings(), logger)
	logger.SetLevel(logrus.DebugLevel)

	team := &types.Team{
		ID: 5,
		TestAccountFilters: []map[string]any{
			{"key": "email", "type": "person", "operator": "not_icontains", "value": "@example.com"},
		},
		PersonOnEvents: true,
	}

	query, err := c.BuildEventsQuery(context.Background(), &types.CompileRequest{TeamID: 5, FilterTestAccounts: true}, team)
	if err != nil {
		t.Fatalf("BuildEventsQuery() error = %v", err)
	}
	sql := mustPrint(t, query)
	if !strings.Contains(sql, "not(person.properties.email ILIKE '%@example.com%')") {
		t.Errorf("BuildEventsQuery() = %q, want test account exclusion inline", sql)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "Built events query" {
		t.Fatalf("last log entry = %v, want debug build message", entry)
	}
	if got := entry.Data["subqueries"]; got != 0 {
		t.Errorf("subqueries = %v, want 0 with person properties on events", got)
	}
}

func TestCountSubqueries(t *testing.T) {
	cohort := &types.PropertyLeaf{Type: types.PropertyTypeCohort, Key: "id", Value: int64(7)}
	expr, err := CompileGroup(types.And(eventLeaf("$browser", types.OpExact, "Chrome"), cohort), types.QueryContext{})
	if err != nil {
		t.Fatalf("CompileGroup() error = %v", err)
	}
	// the cohort subquery plus the membership select nested in it
	if got := countSubqueries(expr); got != 2 {
		t.Errorf("countSubqueries() = %d, want 2", got)
	}
	if got := countSubqueries(nil); got != 0 {
		t.Errorf("countSubqueries(nil) = %d, want 0", got)
	}
}

func TestBuildEventsQuery_Errors(t *testing.T) {
	c := newTestCompiler(nil, DefaultSettings())

	_, err := c.BuildEventsQuery(context.Background(), &types.CompileRequest{Combinator: "XOR"}, nil)
	if !errors.Is(err, types.ErrInvalidCombinator) {
		t.Errorf("BuildEventsQuery(XOR) error = %v, want ErrInvalidCombinator", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.BuildEventsQuery(ctx, &types.CompileRequest{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("BuildEventsQuery(cancelled) error = %v, want context.Canceled", err)
	}

	team := &types.Team{TestAccountFilters: []map[string]any{{"key": "x", "type": "bogus"}}}
	_, err = c.BuildEventsQuery(context.Background(), &types.CompileRequest{FilterTestAccounts: true}, team)
	if !errors.Is(err, types.ErrUnknownPropertyType) {
		t.Errorf("BuildEventsQuery(bad filters) error = %v, want ErrUnknownPropertyType", err)
	}
}

func TestCompileGroup_Evaluates(t *testing.T) {
	expr, err := CompileGroup(types.Or(
		eventLeaf("$browser", types.OpExact, "Chrome"),
		eventLeaf("$os", types.OpIsNot, "Windows"),
	), types.QueryContext{})
	if err != nil {
		t.Fatalf("CompileGroup() error = %v", err)
	}
	if ast.IsTrue(expr) {
		t.Fatalf("CompileGroup() = true, want predicate")
	}

	for row, want := range map[string]bool{
		`{"properties": {"$browser": "Chrome", "$os": "Windows"}}`:  true,
		`{"properties": {"$browser": "Firefox", "$os": "Windows"}}`: false,
		`{"properties": {"$browser": "Firefox"}}`:                   true,
	} {
		got, err := Evaluate(expr, []byte(row))
		if err != nil {
			t.Fatalf("Evaluate(%s) error = %v", row, err)
		}
		if got != want {
			t.Errorf("Evaluate(%s) = %v, want %v", row, got, want)
		}
	}
}
