// internal/filters/compiler.go
package filters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

// ActionLookup resolves actions by id.
// Implementations return an error matching types.ErrActionNotFound for unknown ids.
type ActionLookup interface {
	GetAction(ctx context.Context, id int64) (*types.Action, error)
}

// Settings are the process-wide compilation defaults. A team's positive
// session TTL overrides SessionTTLDays. PersonOnEvents is a deployment
// capability: person properties are read from events when either the process
// or the team enables it, and a team cannot switch it off.
type Settings struct {
	Combinator     types.Combinator
	SessionTTLDays int
	Lookback       time.Duration
	PersonOnEvents bool
}

// DefaultSettings returns the defaults used when no configuration is loaded.
func DefaultSettings() Settings {
	return Settings{
		Combinator:     types.CombinatorAnd,
		SessionTTLDays: 30,
		Lookback:       7 * 24 * time.Hour,
	}
}

// Compiler compiles entities and complete requests. It holds no mutable state;
// one Compiler may serve concurrent requests for the team its lookup is bound to.
type Compiler struct {
	actions  ActionLookup
	expander *Expander
	settings Settings
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewCompiler creates a compiler. actions may be nil when no action entities
// will be compiled; any action reference then fails as not found.
func NewCompiler(actions ActionLookup, settings Settings, log logrus.FieldLogger) *Compiler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Compiler{
		actions:  actions,
		expander: NewExpander(log),
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// CompileEntity compiles an action reference or an event name, AND-ed with the
// entity's fixed properties. An events entity without a name matches every event.
func (c *Compiler) CompileEntity(ctx context.Context, entity *types.Entity, qctx types.QueryContext) (ast.Expr, error) {
	var exprs []ast.Expr

	switch entity.Kind {
	case types.EntityActions:
		action, err := c.lookupAction(ctx, entity.ActionID)
		if err != nil {
			return nil, err
		}
		expr, err := CompileAction(action)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", action.ID, err)
		}
		exprs = append(exprs, expr)
	case types.EntityEvents:
		if entity.Event != "" {
			exprs = append(exprs, ast.Cmp(ast.Eq, ast.FieldRef("event"), ast.Const(entity.Event)))
		}
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidEntity, entity.Kind)
	}

	if len(entity.Properties) > 0 {
		group := &types.PropertyGroup{Combinator: types.CombinatorAnd}
		for i := range entity.Properties {
			group.Children = append(group.Children, &entity.Properties[i])
		}
		expr, err := CompileGroup(group, qctx)
		if err != nil {
			return nil, err
		}
		if !ast.IsTrue(expr) {
			exprs = append(exprs, expr)
		}
	}

	if len(exprs) == 0 {
		return ast.True(), nil
	}
	return combine(types.CombinatorAnd, exprs), nil
}

func (c *Compiler) lookupAction(ctx context.Context, id int64) (*types.Action, error) {
	if c.actions == nil {
		return nil, &types.ActionNotFoundError{ID: id}
	}
	action, err := c.actions.GetAction(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrActionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load action %d: %w", id, err)
	}
	return action, nil
}

// CompileEntities combines entities with the context combinator.
// Returns nil when there are no entities.
func (c *Compiler) CompileEntities(ctx context.Context, entities []types.Entity, qctx types.QueryContext) (ast.Expr, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	exprs := make([]ast.Expr, 0, len(entities))
	for i := range entities {
		expr, err := c.CompileEntity(ctx, &entities[i], qctx)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	combinator := qctx.Combinator
	if combinator == "" {
		combinator = types.CombinatorAnd
	}
	return combine(combinator, exprs), nil
}

// QueryContext resolves the execution mode of req for team.
func (c *Compiler) QueryContext(req *types.CompileRequest, team *types.Team) types.QueryContext {
	now := c.now().UTC()
	qctx := types.QueryContext{
		Combinator:                   c.settings.Combinator,
		DateRange:                    types.DateRange{From: now.Add(-c.settings.Lookback), To: now},
		TTLDays:                      c.settings.SessionTTLDays,
		PersonPropertiesDenormalized: c.settings.PersonOnEvents,
	}
	if req.Combinator != "" {
		qctx.Combinator = req.Combinator
	}
	if req.DateFrom != nil {
		qctx.DateRange.From = req.DateFrom.UTC()
	}
	if req.DateTo != nil {
		qctx.DateRange.To = req.DateTo.UTC()
	}
	if team != nil {
		if team.SessionTTLDays > 0 {
			qctx.TTLDays = team.SessionTTLDays
		}
		qctx.PersonPropertiesDenormalized = qctx.PersonPropertiesDenormalized || team.PersonOnEvents
	}
	return qctx
}

// TimeWindow bounds the event timestamp by the date range and the retention TTL.
// Returns nil when the context imposes no bound.
func TimeWindow(qctx types.QueryContext) ast.Expr {
	timestamp := ast.FieldRef("timestamp")
	var exprs []ast.Expr
	if !qctx.DateRange.From.IsZero() {
		exprs = append(exprs, ast.Cmp(ast.GtEq, timestamp, ast.Const(qctx.DateRange.From)))
	}
	if !qctx.DateRange.To.IsZero() {
		exprs = append(exprs, ast.Cmp(ast.LtEq, timestamp, ast.Const(qctx.DateRange.To)))
	}
	if qctx.TTLDays > 0 {
		exprs = append(exprs, ast.Cmp(ast.GtEq, timestamp, &ast.Call{Name: "minus", Args: []ast.Expr{
			&ast.Call{Name: "now"},
			&ast.Call{Name: "toIntervalDay", Args: []ast.Expr{ast.Const(int64(qctx.TTLDays))}},
		}}))
	}
	if len(exprs) == 0 {
		return nil
	}
	return combine(types.CombinatorAnd, exprs)
}

// BuildEventsQuery assembles the per-distinct-id events query for req.
func (c *Compiler) BuildEventsQuery(ctx context.Context, req *types.CompileRequest, team *types.Team) (*ast.Select, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qctx := c.QueryContext(req, team)
	if !qctx.Combinator.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCombinator, qctx.Combinator)
	}

	var where []ast.Expr
	if window := TimeWindow(qctx); window != nil {
		where = append(where, window)
	}

	entities, err := c.CompileEntities(ctx, req.Entities, qctx)
	if err != nil {
		return nil, err
	}
	if entities != nil && !ast.IsTrue(entities) {
		where = append(where, entities)
	}

	properties, err := CompileGroup(req.Properties, qctx)
	if err != nil {
		return nil, err
	}
	if !ast.IsTrue(properties) {
		where = append(where, properties)
	}

	if req.FilterTestAccounts && team != nil && len(team.TestAccountFilters) > 0 {
		leaves, err := c.expander.Expand(team.TestAccountFilters, team)
		if err != nil {
			return nil, err
		}
		group := &types.PropertyGroup{Combinator: types.CombinatorAnd}
		for i := range leaves {
			group.Children = append(group.Children, &leaves[i])
		}
		expr, err := CompileGroup(group, qctx)
		if err != nil {
			return nil, fmt.Errorf("test account filters: %w", err)
		}
		if !ast.IsTrue(expr) {
			where = append(where, expr)
		}
	}

	query := &ast.Select{
		Select: []ast.Expr{
			ast.FieldRef("distinct_id"),
			&ast.Alias{Alias: "start_time", Expr: &ast.Call{Name: "min", Args: []ast.Expr{ast.FieldRef("timestamp")}}},
			&ast.Alias{Alias: "end_time", Expr: &ast.Call{Name: "max", Args: []ast.Expr{ast.FieldRef("timestamp")}}},
			&ast.Alias{Alias: "event_count", Expr: &ast.Call{Name: "count"}},
		},
		From:    &ast.Table{Name: "events"},
		GroupBy: []ast.Expr{ast.FieldRef("distinct_id")},
	}
	if len(where) > 0 {
		query.Where = combine(types.CombinatorAnd, where)
	}

	c.log.WithFields(logrus.Fields{
		"entities":             len(req.Entities),
		"subqueries":           countSubqueries(query.Where),
		"person_on_events":     qctx.PersonPropertiesDenormalized,
		"filter_test_accounts": req.FilterTestAccounts,
	}).Debug("Built events query")
	return query, nil
}

// countSubqueries counts the Select nodes nested in e.
func countSubqueries(e ast.Expr) int {
	n := 0
	ast.Walk(e, func(x ast.Expr) bool {
		if _, ok := x.(*ast.Select); ok {
			n++
		}
		return true
	})
	return n
}
