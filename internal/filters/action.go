// internal/filters/action.go
package filters

import (
	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * Action compilation.
 *
 * An action matches an event if any of its steps matches. A step is the
 * conjunction of its present conditions:
 *
 *   event name            event = '<name>'
 *   selector, tag name    element chain regex (autocapture steps only)
 *   href                  element chain attribute regex (autocapture only)
 *   text                  arrayExists over elements_chain_texts (autocapture only)
 *   url                   properties.$current_url, per url_matching
 *   properties            inline property group, AND
 *
 * Absent (empty) fields are omitted. A step with no conditions matches
 * everything, and so does an action with no steps.
 */

// AutocaptureEvent is the event name for automatically captured DOM interactions.
const AutocaptureEvent = "$autocapture"

// CompileAction compiles action into a predicate over the events table.
// Errors surface only from step properties (unknown type tags) and from
// selectors above the part limit.
func CompileAction(action *types.Action) (ast.Expr, error) {
	if len(action.Steps) == 0 {
		return ast.True(), nil
	}
	alternatives := make([]ast.Expr, 0, len(action.Steps))
	for i := range action.Steps {
		expr, err := compileStep(&action.Steps[i])
		if err != nil {
			return nil, err
		}
		alternatives = append(alternatives, expr)
	}
	return combine(types.CombinatorOr, alternatives), nil
}

func compileStep(step *types.ActionStep) (ast.Expr, error) {
	var exprs []ast.Expr

	if step.Event != "" {
		exprs = append(exprs, ast.Cmp(ast.Eq, ast.FieldRef("event"), ast.Const(step.Event)))
	}

	if step.Event == AutocaptureEvent {
		if step.Selector != "" {
			expr, err := SelectorToExpr(step.Selector)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
		if step.TagName != "" {
			exprs = append(exprs, TagNameToExpr(step.TagName))
		}
		if step.Href != "" {
			expr, err := ElementAttributeToExpr("href", step.Href, matchOperator(step.HrefMatching))
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
		if step.Text != "" {
			exprs = append(exprs, textExpr(step.Text, step.TextMatching))
		}
	}

	if step.URL != "" {
		exprs = append(exprs, urlExpr(step.URL, step.URLMatching))
	}

	if len(step.Properties) > 0 {
		group := &types.PropertyGroup{Combinator: types.CombinatorAnd}
		for i := range step.Properties {
			group.Children = append(group.Children, &step.Properties[i])
		}
		expr, err := CompileInline(group)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	if len(exprs) == 0 {
		return ast.True(), nil
	}
	return combine(types.CombinatorAnd, exprs), nil
}

// matchOperator maps a step match mode onto the equivalent property operator.
// An empty mode means exact.
func matchOperator(mode types.MatchMode) types.Operator {
	switch mode {
	case types.MatchContains:
		return types.OpIContains
	case types.MatchRegex:
		return types.OpRegex
	default:
		return types.OpExact
	}
}

func textExpr(text string, mode types.MatchMode) ast.Expr {
	x := ast.FieldRef("x")
	var predicate ast.Expr
	switch mode {
	case types.MatchRegex:
		predicate = ast.Cmp(ast.Regex, x, ast.Const(text))
	case types.MatchContains:
		predicate = ast.Cmp(ast.ILike, x, ast.Const("%"+text+"%"))
	default:
		predicate = ast.Cmp(ast.Eq, x, ast.Const(text))
	}
	return &ast.Call{Name: "arrayExists", Args: []ast.Expr{
		&ast.Lambda{Args: []string{"x"}, Body: predicate},
		ast.FieldRef("elements_chain_texts"),
	}}
}

// urlExpr matches the page URL. Anything other than exact or regex is a
// substring match.
func urlExpr(url string, mode types.MatchMode) ast.Expr {
	field := ast.FieldRef("properties", "$current_url")
	switch mode {
	case types.MatchExact:
		return ast.Cmp(ast.Eq, field, ast.Const(url))
	case types.MatchRegex:
		return ast.Cmp(ast.Regex, field, ast.Const(url))
	default:
		return ast.Cmp(ast.Like, field, ast.Const("%"+url+"%"))
	}
}
