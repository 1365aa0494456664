// internal/filters/property.go
package filters

import (
	"fmt"
	"strconv"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

// PropertyToExpr compiles a single leaf for evaluation against the events table.
// Cohort leaves compile to a membership test on person_id; person leaves read
// person.properties through the events table's person join.
func PropertyToExpr(leaf *types.PropertyLeaf) (ast.Expr, error) {
	scope, err := Classify(leaf)
	if err != nil {
		return nil, err
	}

	switch scope {
	case ScopeCohort:
		return cohortToExpr(leaf)
	case ScopeRawExpr:
		return &ast.Raw{SQL: leaf.Key}, nil
	case ScopeEvent:
		switch leaf.Type {
		case types.PropertyTypeElement:
			return elementToExpr(leaf)
		case types.PropertyTypeHogQL:
			return &ast.Raw{SQL: leaf.Key}, nil
		}
		return compareToExpr(ast.FieldRef("properties", leaf.Key), leaf.Operator, leaf.Value)
	case ScopePerson:
		if leaf.Type == types.PropertyTypeHogQL {
			return &ast.Raw{SQL: leaf.Key}, nil
		}
		return compareToExpr(ast.FieldRef("person", "properties", leaf.Key), leaf.Operator, leaf.Value)
	case ScopeGroup:
		index := 0
		if leaf.GroupTypeIndex != nil {
			index = *leaf.GroupTypeIndex
		}
		group := "group_" + strconv.Itoa(index)
		return compareToExpr(ast.FieldRef(group, "properties", leaf.Key), leaf.Operator, leaf.Value)
	}
	return nil, fmt.Errorf("%w: scope %s", types.ErrUnknownPropertyType, scope)
}

// cohortToExpr compiles person_id IN (<members of cohort>). Column references in
// the membership select are table-qualified so identifier rewriting leaves it alone.
func cohortToExpr(leaf *types.PropertyLeaf) (ast.Expr, error) {
	op := leaf.Operator
	if op == "" {
		op = types.OpIn
	}
	if positive, ok := Inverse(op); ok {
		inner, err := cohortToExpr(&types.PropertyLeaf{Type: leaf.Type, Key: leaf.Key, Operator: positive, Value: leaf.Value})
		if err != nil {
			return nil, err
		}
		return &ast.Not{Expr: inner}, nil
	}
	if op != types.OpIn && op != types.OpExact {
		return nil, fmt.Errorf("%w: %q on cohort", types.ErrUnsupportedOperator, op)
	}

	id, err := cohortID(leaf.Value)
	if err != nil {
		return nil, err
	}

	table := "cohortpeople"
	if leaf.Type == types.PropertyTypeStaticCohort {
		table = "person_static_cohort"
	}
	members := &ast.Select{
		Select: []ast.Expr{ast.FieldRef(table, "person_id")},
		From:   &ast.Table{Name: table},
		Where:  ast.Cmp(ast.Eq, ast.FieldRef(table, "cohort_id"), ast.Const(id)),
	}
	return ast.Cmp(ast.In, ast.FieldRef("person_id"), members), nil
}

func cohortID(value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: cohort id %v", types.ErrInvalidValue, value)
}

// elementToExpr compiles selector, tag_name, href and text leaves.
// A list value matches any of its entries, or none of them for negative operators.
func elementToExpr(leaf *types.PropertyLeaf) (ast.Expr, error) {
	op := operatorOrDefault(leaf.Operator)

	values, _, err := constantValues(leaf.Value)
	if err != nil {
		return nil, err
	}

	exprs := make([]ast.Expr, 0, len(values))
	for _, v := range values {
		expr, err := elementValueToExpr(leaf.Key, fmt.Sprint(v), op)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	if IsNegative(op) {
		return combine(types.CombinatorAnd, exprs), nil
	}
	return combine(types.CombinatorOr, exprs), nil
}

func elementValueToExpr(key, value string, op types.Operator) (ast.Expr, error) {
	switch key {
	case "selector", "tag_name":
		var positive ast.Expr
		switch op {
		case types.OpExact, types.OpIsNot:
		default:
			return nil, fmt.Errorf("%w: %q on element %s", types.ErrUnsupportedOperator, op, key)
		}
		if key == "selector" {
			expr, err := SelectorToExpr(value)
			if err != nil {
				return nil, err
			}
			positive = expr
		} else {
			positive = TagNameToExpr(value)
		}
		if op == types.OpIsNot {
			return &ast.Not{Expr: positive}, nil
		}
		return positive, nil
	case "href", "text":
		return ElementAttributeToExpr(key, value, op)
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedElementKey, key)
}
