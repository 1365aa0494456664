package filters

import (
	"errors"
	"testing"

	"github.com/solatis/propfilter/internal/types"
)

func TestExplainGroup(t *testing.T) {
	group := types.And(
		eventLeaf("$browser", types.OpExact, "Chrome"),
		types.Or(
			personLeaf("plan", "pro"),
			&types.PropertyLeaf{Type: types.PropertyTypeCohort, Key: "id", Value: float64(7)},
		),
	)

	tests := []struct {
		name       string
		qctx       types.QueryContext
		wantRoutes []Route
	}{
		{
			name:       "person subquery",
			qctx:       types.QueryContext{},
			wantRoutes: []Route{RouteInline, RoutePersonSubquery, RouteCohortSubquery},
		},
		{
			name:       "denormalized",
			qctx:       types.QueryContext{PersonPropertiesDenormalized: true},
			wantRoutes: []Route{RouteInline, RouteInline, RouteCohortSubquery},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plans, err := ExplainGroup(group, tt.qctx)
			if err != nil {
				t.Fatalf("ExplainGroup() error = %v", err)
			}
			if len(plans) != len(tt.wantRoutes) {
				t.Fatalf("len(ExplainGroup()) = %d, want %d", len(plans), len(tt.wantRoutes))
			}
			for i, want := range tt.wantRoutes {
				if plans[i].Route != want {
					t.Errorf("plans[%d].Route = %s, want %s", i, plans[i].Route, want)
				}
			}
		})
	}

	plans, _ := ExplainGroup(group, types.QueryContext{})
	if plans[0].Path != "0" || plans[1].Path != "1.0" || plans[2].Path != "1.1" {
		t.Errorf("paths = %q %q %q, want 0 1.0 1.1", plans[0].Path, plans[1].Path, plans[2].Path)
	}
	if plans[0].SQL != "properties.$browser = 'Chrome'" {
		t.Errorf("plans[0].SQL = %q", plans[0].SQL)
	}
	if plans[2].Operator != types.OpIn || plans[2].Scope != ScopeCohort {
		t.Errorf("plans[2] = %+v, want cohort with operator in", plans[2])
	}
}

func TestExplainGroup_Errors(t *testing.T) {
	if plans, err := ExplainGroup(nil, types.QueryContext{}); err != nil || plans != nil {
		t.Errorf("ExplainGroup(nil) = %v, %v, want nil, nil", plans, err)
	}

	_, err := ExplainGroup(types.And(eventLeaf("a", "bogus", "x")), types.QueryContext{})
	if !errors.Is(err, types.ErrUnsupportedOperator) {
		t.Errorf("ExplainGroup() error = %v, want ErrUnsupportedOperator", err)
	}
}

func TestRoute_String(t *testing.T) {
	for route, want := range map[Route]string{
		RouteInline:         "inline",
		RouteCohortSubquery: "cohort_subquery",
		RoutePersonSubquery: "person_subquery",
		Route(9):            "route(9)",
	} {
		if got := route.String(); got != want {
			t.Errorf("Route(%d).String() = %q, want %q", int(route), got, want)
		}
	}
}
