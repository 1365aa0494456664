// internal/filters/operators.go
package filters

import (
	"fmt"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * Operator normalization and comparison compilation.
 *
 * Every negative operator has a positive inverse, and a negative leaf is
 * compiled as ifNull(not(<positive leaf>), true). A comparison against a
 * missing property is NULL in the store, and so is its negation, so the
 * ifNull makes "is_not 'x'" match rows where the property is missing.
 * is_not_set negates a presence test, which is never NULL, and is left bare.
 *
 * Negative set: is_not_set, is_not, not_in, not_regex, not_icontains.
 *
 * The inverse table additionally maps not_between to between so that range
 * exclusion compiles through the same negation path, even though
 * not_between is not in the negative set. IsNegative and Inverse therefore
 * disagree on exactly one operator.
 */

var negativeOperators = []types.Operator{
	types.OpIsNotSet,
	types.OpIsNot,
	types.OpNotIn,
	types.OpNotRegex,
	types.OpNotIContains,
}

// NegativeOperators returns the operators that negate a positive counterpart.
func NegativeOperators() []types.Operator {
	out := make([]types.Operator, len(negativeOperators))
	copy(out, negativeOperators)
	return out
}

// IsNegative reports whether op is in the negative set.
func IsNegative(op types.Operator) bool {
	for _, n := range negativeOperators {
		if n == op {
			return true
		}
	}
	return false
}

// Inverse returns the positive counterpart of op.
// The second result is false when op has no inverse.
func Inverse(op types.Operator) (types.Operator, bool) {
	switch op {
	case types.OpIsNotSet:
		return types.OpIsSet, true
	case types.OpIsNot:
		return types.OpExact, true
	case types.OpNotIn:
		return types.OpIn, true
	case types.OpNotRegex:
		return types.OpRegex, true
	case types.OpNotIContains:
		return types.OpIContains, true
	case types.OpNotBetween:
		return types.OpBetween, true
	default:
		return "", false
	}
}

// operatorOrDefault returns op, or exact when op is empty.
func operatorOrDefault(op types.Operator) types.Operator {
	if op == "" {
		return types.OpExact
	}
	return op
}

// compareToExpr compiles "field <op> value".
func compareToExpr(field ast.Expr, op types.Operator, value any) (ast.Expr, error) {
	op = operatorOrDefault(op)
	if positive, ok := Inverse(op); ok {
		inner, err := compareToExpr(field, positive, value)
		if err != nil {
			return nil, err
		}
		if positive == types.OpIsSet {
			return &ast.Not{Expr: inner}, nil
		}
		return nullAsMatch(&ast.Not{Expr: inner}), nil
	}

	switch op {
	case types.OpExact:
		values, isList, err := constantValues(value)
		if err != nil {
			return nil, err
		}
		if isList && len(values) != 1 {
			return ast.Cmp(ast.In, field, tupleOf(values)), nil
		}
		return ast.Cmp(ast.Eq, field, ast.Const(values[0])), nil

	case types.OpIn:
		values, _, err := constantValues(value)
		if err != nil {
			return nil, err
		}
		return ast.Cmp(ast.In, field, tupleOf(values)), nil

	case types.OpIContains:
		return eachValue(field, value, func(v any) ast.Expr {
			return ast.Cmp(ast.ILike, field, ast.Const("%"+fmt.Sprint(v)+"%"))
		})

	case types.OpRegex:
		return eachValue(field, value, func(v any) ast.Expr {
			return ast.Cmp(ast.Regex, field, ast.Const(fmt.Sprint(v)))
		})

	case types.OpGt, types.OpGte, types.OpLt, types.OpLte,
		types.OpIsDateExact, types.OpIsDateBefore, types.OpIsDateAfter:
		v, err := scalarValue(value)
		if err != nil {
			return nil, err
		}
		return ast.Cmp(scalarCompareOps[op], field, ast.Const(v)), nil

	case types.OpIsSet:
		return ast.Cmp(ast.NotEq, field, ast.Const(nil)), nil

	case types.OpBetween:
		values, isList, err := constantValues(value)
		if err != nil {
			return nil, err
		}
		if !isList || len(values) != 2 {
			return nil, fmt.Errorf("%w: between needs [low, high], got %v", types.ErrInvalidValue, value)
		}
		return &ast.And{Exprs: []ast.Expr{
			ast.Cmp(ast.GtEq, field, ast.Const(values[0])),
			ast.Cmp(ast.LtEq, field, ast.Const(values[1])),
		}}, nil
	}

	return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedOperator, op)
}

// nullAsMatch turns a NULL result of e into true.
func nullAsMatch(e ast.Expr) ast.Expr {
	return &ast.Call{Name: "ifNull", Args: []ast.Expr{e, ast.Const(true)}}
}

var scalarCompareOps = map[types.Operator]ast.CompareOp{
	types.OpGt:           ast.Gt,
	types.OpGte:          ast.GtEq,
	types.OpLt:           ast.Lt,
	types.OpLte:          ast.LtEq,
	types.OpIsDateExact:  ast.Eq,
	types.OpIsDateBefore: ast.Lt,
	types.OpIsDateAfter:  ast.Gt,
}

// eachValue applies build to each value of a list (joined with OR) or to a scalar.
func eachValue(field ast.Expr, value any, build func(any) ast.Expr) (ast.Expr, error) {
	values, _, err := constantValues(value)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		return build(values[0]), nil
	}
	exprs := make([]ast.Expr, len(values))
	for i, v := range values {
		exprs[i] = build(v)
	}
	return &ast.Or{Exprs: exprs}, nil
}

func tupleOf(values []any) *ast.Tuple {
	exprs := make([]ast.Expr, len(values))
	for i, v := range values {
		exprs[i] = ast.Const(v)
	}
	return &ast.Tuple{Exprs: exprs}
}

// constantValues normalizes a leaf value into a non-empty list of constants.
// isList reports whether the input was a list.
func constantValues(value any) (values []any, isList bool, err error) {
	list, isList := value.([]any)
	if !isList {
		v, err := scalarValue(value)
		if err != nil {
			return nil, false, err
		}
		return []any{v}, false, nil
	}
	if len(list) == 0 {
		return nil, true, fmt.Errorf("%w: empty list", types.ErrInvalidValue)
	}
	values = make([]any, len(list))
	for i, item := range list {
		v, err := scalarValue(item)
		if err != nil {
			return nil, true, err
		}
		values[i] = v
	}
	return values, true, nil
}

// scalarValue accepts the JSON scalar types the printer can render.
func scalarValue(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, float64, int64:
		return v, nil
	case int:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case nil:
		return nil, fmt.Errorf("%w: missing value", types.ErrInvalidValue)
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", types.ErrInvalidValue, value)
	}
}
