// internal/filters/explain.go
package filters

import (
	"fmt"
	"strconv"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

// Route is where a leaf ends up in the compiled query.
type Route int

const (
	RouteInline Route = iota
	RouteCohortSubquery
	RoutePersonSubquery
)

func (r Route) String() string {
	switch r {
	case RouteInline:
		return "inline"
	case RouteCohortSubquery:
		return "cohort_subquery"
	case RoutePersonSubquery:
		return "person_subquery"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

// LeafPlan describes the routing of one leaf.
type LeafPlan struct {
	Path     string // dotted child indexes from the root group, e.g. "1.0"
	Type     types.PropertyType
	Key      string
	Operator types.Operator
	Scope    Scope
	Route    Route
	SQL      string // the leaf compiled on its own
}

// RouteFor returns the route leaves of scope take under qctx.
func RouteFor(scope Scope, qctx types.QueryContext) Route {
	switch {
	case scope == ScopeCohort:
		return RouteCohortSubquery
	case scope == ScopePerson && !qctx.PersonPropertiesDenormalized:
		return RoutePersonSubquery
	default:
		return RouteInline
	}
}

// ExplainGroup lists every leaf of group in depth-first order with its scope
// and route. It fails on the same inputs CompileGroup fails on.
func ExplainGroup(group *types.PropertyGroup, qctx types.QueryContext) ([]LeafPlan, error) {
	if group == nil {
		return nil, nil
	}
	scoped, err := classifyGroup(group, 0)
	if err != nil {
		return nil, err
	}
	var plans []LeafPlan
	if err := explainInto(&plans, scoped, "", qctx); err != nil {
		return nil, err
	}
	return plans, nil
}

func explainInto(plans *[]LeafPlan, g *scopedGroup, prefix string, qctx types.QueryContext) error {
	for i, child := range g.children {
		path := strconv.Itoa(i)
		if prefix != "" {
			path = prefix + "." + path
		}
		if child.group != nil {
			if err := explainInto(plans, child.group, path, qctx); err != nil {
				return err
			}
			continue
		}

		expr, err := PropertyToExpr(child.leaf)
		if err != nil {
			return fmt.Errorf("leaf %s: %w", path, err)
		}
		sql, err := ast.Print(expr)
		if err != nil {
			return fmt.Errorf("leaf %s: %w", path, err)
		}
		op := operatorOrDefault(child.leaf.Operator)
		if child.leaf.Operator == "" && child.scope == ScopeCohort {
			op = types.OpIn
		}
		*plans = append(*plans, LeafPlan{
			Path:     path,
			Type:     child.leaf.Type,
			Key:      child.leaf.Key,
			Operator: op,
			Scope:    child.scope,
			Route:    RouteFor(child.scope, qctx),
			SQL:      sql,
		})
	}
	return nil
}
