// internal/filters/planner.go
package filters

import (
	"fmt"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * Subquery planning.
 *
 * A property group is classified leaf by leaf. The children of a group are
 * then bucketed by route and the buckets are combined with the group's own
 * combinator:
 *
 *   <inline part>                      event, group and raw leaves
 *   distinct_id IN (<cohort subquery>) cohort leaves
 *   distinct_id IN (<person subquery>) person leaves
 *
 * With person properties denormalized onto events, person leaves move into
 * the inline part and no person subquery is produced.
 *
 * A nested group whose leaves all take one route joins that route's bucket
 * whole, keeping its shape. A nested group whose leaves take several routes
 * is planned the same way on its own and lands in the inline part at its
 * position, so every group keeps its combinator. AND and OR commute, and
 * membership in a subquery over a disjunction or conjunction of per-row
 * predicates equals the disjunction or conjunction of memberships, so the
 * buckets filter the same rows as the tree they came from.
 *
 * A bucket with no leaves is absent rather than "true", so an all-event group
 * never produces an empty subquery. Empty nested groups are dropped.
 */

// scopedNode is a classified leaf or group.
type scopedNode struct {
	leaf  *types.PropertyLeaf
	scope Scope
	group *scopedGroup
}

type scopedGroup struct {
	combinator types.Combinator
	children   []scopedNode
}

// classifyGroup classifies every leaf of g, validating combinators and depth.
func classifyGroup(g *types.PropertyGroup, depth int) (*scopedGroup, error) {
	if depth >= types.MaxGroupDepth {
		return nil, fmt.Errorf("%w: limit %d", types.ErrGroupTooDeep, types.MaxGroupDepth)
	}
	combinator := g.Combinator
	if combinator == "" {
		combinator = types.CombinatorAnd
	}
	if !combinator.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidCombinator, g.Combinator)
	}

	out := &scopedGroup{combinator: combinator, children: make([]scopedNode, 0, len(g.Children))}
	for _, child := range g.Children {
		switch n := child.(type) {
		case *types.PropertyLeaf:
			scope, err := Classify(n)
			if err != nil {
				return nil, err
			}
			out.children = append(out.children, scopedNode{leaf: n, scope: scope})
		case *types.PropertyGroup:
			sub, err := classifyGroup(n, depth+1)
			if err != nil {
				return nil, err
			}
			out.children = append(out.children, scopedNode{group: sub})
		default:
			return nil, fmt.Errorf("unexpected property node %T", child)
		}
	}
	return out, nil
}

// partition keeps the leaves whose scope satisfies keep.
// Returns nil when no leaf survives.
func (g *scopedGroup) partition(keep func(Scope) bool) *scopedGroup {
	out := &scopedGroup{combinator: g.combinator}
	for _, child := range g.children {
		if child.group != nil {
			if sub := child.group.partition(keep); sub != nil {
				out.children = append(out.children, scopedNode{group: sub})
			}
			continue
		}
		if keep(child.scope) {
			out.children = append(out.children, child)
		}
	}
	if len(out.children) == 0 {
		return nil
	}
	return out
}

// compile compiles every leaf inline, preserving the tree shape.
func (g *scopedGroup) compile() (ast.Expr, error) {
	exprs := make([]ast.Expr, 0, len(g.children))
	for _, child := range g.children {
		var (
			expr ast.Expr
			err  error
		)
		if child.group != nil {
			expr, err = child.group.compile()
		} else {
			expr, err = PropertyToExpr(child.leaf)
		}
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return combine(g.combinator, exprs), nil
}

// combine joins exprs with combinator. A single expression is returned
// unwrapped; an empty AND is true and an empty OR is false.
func combine(combinator types.Combinator, exprs []ast.Expr) ast.Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	if combinator == types.CombinatorOr {
		return &ast.Or{Exprs: exprs}
	}
	if len(exprs) == 0 {
		return ast.True()
	}
	return &ast.And{Exprs: exprs}
}

// compilesInline reports whether leaves of scope compile against the events table.
func compilesInline(scope Scope, qctx types.QueryContext) bool {
	switch scope {
	case ScopeEvent, ScopeGroup, ScopeRawExpr:
		return true
	case ScopePerson:
		return qctx.PersonPropertiesDenormalized
	case ScopeCohort:
		return false
	}
	return false
}

func only(scope Scope) func(Scope) bool {
	return func(s Scope) bool { return s == scope }
}

// routeKey is the bucket a leaf of scope lands in. Inline scopes share
// ScopeEvent.
func routeKey(scope Scope, qctx types.QueryContext) Scope {
	if compilesInline(scope, qctx) {
		return ScopeEvent
	}
	return scope
}

// routes records the route of every leaf under n.
func (n scopedNode) routes(qctx types.QueryContext, seen map[Scope]bool) {
	if n.group == nil {
		seen[routeKey(n.scope, qctx)] = true
		return
	}
	for _, child := range n.group.children {
		child.routes(qctx, seen)
	}
}

func keepAll(Scope) bool { return true }

// plan compiles g, bucketing its children by route. Returns nil when g has
// no leaves.
func (g *scopedGroup) plan(qctx types.QueryContext) (ast.Expr, error) {
	var (
		inline  []ast.Expr
		buckets = map[Scope]*scopedGroup{
			ScopeCohort: {combinator: g.combinator},
			ScopePerson: {combinator: g.combinator},
		}
	)
	for _, child := range g.children {
		seen := map[Scope]bool{}
		child.routes(qctx, seen)

		switch len(seen) {
		case 0:
			continue
		case 1:
			node := child
			if child.group != nil {
				node = scopedNode{group: child.group.partition(keepAll)}
			}
			for route := range seen {
				if route != ScopeEvent {
					buckets[route].children = append(buckets[route].children, node)
					continue
				}
				var (
					expr ast.Expr
					err  error
				)
				if node.group != nil {
					expr, err = node.group.compile()
				} else {
					expr, err = PropertyToExpr(node.leaf)
				}
				if err != nil {
					return nil, err
				}
				inline = append(inline, expr)
			}
		default:
			expr, err := child.group.plan(qctx)
			if err != nil {
				return nil, err
			}
			inline = append(inline, expr)
		}
	}

	var parts []ast.Expr
	if len(inline) > 0 {
		parts = append(parts, combine(g.combinator, inline))
	}
	for _, scope := range []Scope{ScopeCohort, ScopePerson} {
		sub, err := planScoped(scope, buckets[scope], qctx)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			parts = append(parts, ast.Cmp(ast.In, ast.FieldRef("distinct_id"), sub))
		}
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return combine(g.combinator, parts), nil
}

// CompileGroup compiles a property group into a single predicate over the
// events table, routing cohort and person leaves through subqueries.
// A nil or empty group compiles to true.
func CompileGroup(group *types.PropertyGroup, qctx types.QueryContext) (ast.Expr, error) {
	if group == nil {
		return ast.True(), nil
	}
	scoped, err := classifyGroup(group, 0)
	if err != nil {
		return nil, err
	}

	expr, err := scoped.plan(qctx)
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return ast.True(), nil
	}
	return expr, nil
}

// CompileInline compiles every leaf of group against the events table without
// subqueries. Used for action step properties.
func CompileInline(group *types.PropertyGroup) (ast.Expr, error) {
	if group == nil {
		return ast.True(), nil
	}
	scoped, err := classifyGroup(group, 0)
	if err != nil {
		return nil, err
	}
	return scoped.compile()
}

// PlanSubquery returns the distinct_id subquery for the leaves of group in scope.
// Returns nil when the group has no such leaves, for person scope when person
// properties are denormalized onto events, and for the scopes that always
// compile inline. Returns ErrScopeNotPlannable for an unknown scope.
func PlanSubquery(scope Scope, group *types.PropertyGroup, qctx types.QueryContext) (*ast.Select, error) {
	switch scope {
	case ScopeEvent, ScopeGroup, ScopeRawExpr:
		return nil, nil
	case ScopeCohort, ScopePerson:
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrScopeNotPlannable, scope)
	}
	if group == nil {
		return nil, nil
	}
	scoped, err := classifyGroup(group, 0)
	if err != nil {
		return nil, err
	}
	return planScoped(scope, scoped, qctx)
}

func planScoped(scope Scope, g *scopedGroup, qctx types.QueryContext) (*ast.Select, error) {
	switch scope {
	case ScopeCohort:
		part := g.partition(only(ScopeCohort))
		if part == nil {
			return nil, nil
		}
		predicate, err := part.compile()
		if err != nil {
			return nil, err
		}
		return cohortSubquery(predicate), nil

	case ScopePerson:
		if qctx.PersonPropertiesDenormalized {
			return nil, nil
		}
		part := g.partition(only(ScopePerson))
		if part == nil {
			return nil, nil
		}
		predicate, err := part.compile()
		if err != nil {
			return nil, err
		}
		return personSubquery(predicate), nil
	}
	return nil, fmt.Errorf("%w: %s", types.ErrScopeNotPlannable, scope)
}

// cohortSubquery selects the distinct ids whose latest mapping row is live and
// whose person satisfies predicate. Inside the grouped select a bare person_id
// would resolve against the aggregate, so references are qualified with pdi.
func cohortSubquery(predicate ast.Expr) *ast.Select {
	const alias = "pdi"
	return &ast.Select{
		Select:  []ast.Expr{ast.FieldRef(alias, "distinct_id")},
		From:    &ast.Table{Name: "person_distinct_ids", Alias: alias},
		Where:   IdentifierRewriter{Alias: alias}.Rewrite(predicate),
		GroupBy: []ast.Expr{ast.FieldRef(alias, "distinct_id")},
		Having: ast.Cmp(ast.Eq,
			&ast.Call{Name: "argMax", Args: []ast.Expr{ast.FieldRef(alias, "is_deleted"), ast.FieldRef(alias, "version")}},
			ast.Const(int64(0)),
		),
	}
}

// personSubquery selects the distinct ids of persons matching predicate.
func personSubquery(predicate ast.Expr) *ast.Select {
	return &ast.Select{
		Select: []ast.Expr{ast.FieldRef("distinct_id")},
		From:   &ast.Table{Name: "person_distinct_ids"},
		Where:  predicate,
	}
}
