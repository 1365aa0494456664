// internal/filters/evaluate.go
package filters

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * In-process evaluation of compiled predicates.
 *
 * Evaluate runs a predicate against a single event row given as JSON, for
 * previews and for checking that two compilations of the same filter agree.
 * It is not a query engine: subqueries and raw fragments return
 * ErrNotEvaluable.
 *
 * Logic is two-valued. A field that does not resolve reads as NULL, every
 * comparison against NULL is false, and "= NULL" / "!= NULL" test presence.
 * Consequently not(x = 'a') holds for rows where x is missing. The store is
 * three-valued and yields NULL there; compiled negations carry an
 * ifNull(..., true) so both agree that is_not matches a missing property.
 *
 * Rows that carry elements_chain but not its derived columns get them
 * extracted here: elements_chain_ids, elements_chain_texts and
 * elements_chain_elements.
 */

// Evaluate reports whether expr holds for row.
func Evaluate(expr ast.Expr, row json.RawMessage) (bool, error) {
	var parsed map[string]any
	if err := json.Unmarshal(row, &parsed); err != nil {
		return false, fmt.Errorf("invalid event row: %w", err)
	}
	deriveElementColumns(parsed)

	ev := &evaluator{row: parsed, regexps: make(map[string]*regexp.Regexp)}
	return ev.truth(expr)
}

type evaluator struct {
	row      map[string]any
	bindings map[string]any
	regexps  map[string]*regexp.Regexp
}

func (ev *evaluator) truth(e ast.Expr) (bool, error) {
	v, err := ev.value(e)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

func (ev *evaluator) value(e ast.Expr) (any, error) {
	switch n := e.(type) {
	case *ast.And:
		// short-circuit on first false
		for _, x := range n.Exprs {
			ok, err := ev.truth(x)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *ast.Or:
		for _, x := range n.Exprs {
			ok, err := ev.truth(x)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case *ast.Not:
		ok, err := ev.truth(n.Expr)
		return !ok, err
	case *ast.Compare:
		return ev.compare(n)
	case *ast.Constant:
		return n.Value, nil
	case *ast.Field:
		if len(n.Chain) == 1 {
			if v, ok := ev.bindings[n.Chain[0]]; ok {
				return v, nil
			}
		}
		resolved, err := Resolve(n.Chain, ev.row)
		if err == types.ErrFieldNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return resolved.Value, nil
	case *ast.Tuple:
		values := make([]any, 0, len(n.Exprs))
		for _, x := range n.Exprs {
			v, err := ev.value(x)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	case *ast.Call:
		return ev.call(n)
	case *ast.Alias:
		return ev.value(n.Expr)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrNotEvaluable, e)
	}
}

func (ev *evaluator) compare(c *ast.Compare) (bool, error) {
	left, err := ev.value(c.Left)
	if err != nil {
		return false, err
	}
	right, err := ev.value(c.Right)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case ast.Eq:
		if right == nil {
			return left == nil, nil
		}
		return left != nil && equalValues(left, right), nil
	case ast.NotEq:
		if right == nil {
			return left != nil, nil
		}
		return left != nil && !equalValues(left, right), nil
	}

	if left == nil || right == nil {
		return false, nil
	}

	switch c.Op {
	case ast.Lt, ast.LtEq, ast.Gt, ast.GtEq:
		order, ok := orderValues(left, right)
		if !ok {
			return false, nil
		}
		switch c.Op {
		case ast.Lt:
			return order < 0, nil
		case ast.LtEq:
			return order <= 0, nil
		case ast.Gt:
			return order > 0, nil
		default:
			return order >= 0, nil
		}
	case ast.Like, ast.ILike, ast.NotLike, ast.NotILike:
		text, _ := toText(left)
		pattern, _ := toText(right)
		insensitive := c.Op == ast.ILike || c.Op == ast.NotILike
		re, err := ev.regexp(likeToRegexp(pattern), insensitive)
		if err != nil {
			return false, err
		}
		matched := re.MatchString(text)
		if c.Op == ast.NotLike || c.Op == ast.NotILike {
			return !matched, nil
		}
		return matched, nil
	case ast.In, ast.NotIn:
		set, ok := right.([]any)
		if !ok {
			return false, fmt.Errorf("%w: IN operand is %T", types.ErrNotEvaluable, right)
		}
		member := false
		for _, item := range set {
			if item != nil && equalValues(left, item) {
				member = true
				break
			}
		}
		if c.Op == ast.NotIn {
			return !member, nil
		}
		return member, nil
	case ast.Regex, ast.IRegex, ast.NotRegex:
		text, _ := toText(left)
		pattern, _ := toText(right)
		re, err := ev.regexp(pattern, c.Op == ast.IRegex)
		if err != nil {
			return false, err
		}
		matched := re.MatchString(text)
		if c.Op == ast.NotRegex {
			return !matched, nil
		}
		return matched, nil
	}
	return false, fmt.Errorf("%w: operator %s", types.ErrNotEvaluable, c.Op)
}

func (ev *evaluator) regexp(pattern string, insensitive bool) (*regexp.Regexp, error) {
	if insensitive {
		pattern = "(?i)" + pattern
	}
	if re, ok := ev.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	ev.regexps[pattern] = re
	return re, nil
}

func (ev *evaluator) call(c *ast.Call) (any, error) {
	switch c.Name {
	case "indexOf":
		if len(c.Args) != 2 {
			break
		}
		list, err := ev.array(c.Args[0])
		if err != nil {
			return nil, err
		}
		needle, err := ev.value(c.Args[1])
		if err != nil {
			return nil, err
		}
		for i, item := range list {
			if item != nil && needle != nil && equalValues(item, needle) {
				return int64(i + 1), nil
			}
		}
		return int64(0), nil

	case "arrayExists", "arrayCount":
		if len(c.Args) != 2 {
			break
		}
		lambda, ok := c.Args[0].(*ast.Lambda)
		if !ok || len(lambda.Args) != 1 {
			break
		}
		list, err := ev.array(c.Args[1])
		if err != nil {
			return nil, err
		}
		count := int64(0)
		for _, item := range list {
			ok, err := ev.apply(lambda, item)
			if err != nil {
				return nil, err
			}
			if ok {
				if c.Name == "arrayExists" {
					return true, nil
				}
				count++
			}
		}
		if c.Name == "arrayExists" {
			return false, nil
		}
		return count, nil

	case "ifNull":
		if len(c.Args) != 2 {
			break
		}
		v, err := ev.value(c.Args[0])
		if err != nil || v != nil {
			return v, err
		}
		return ev.value(c.Args[1])

	case "now":
		return time.Now().UTC(), nil

	case "toIntervalDay":
		if len(c.Args) != 1 {
			break
		}
		v, err := ev.value(c.Args[0])
		if err != nil {
			return nil, err
		}
		days, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: toIntervalDay(%v)", types.ErrNotEvaluable, v)
		}
		return time.Duration(days * float64(24*time.Hour)), nil

	case "minus":
		if len(c.Args) != 2 {
			break
		}
		a, err := ev.value(c.Args[0])
		if err != nil {
			return nil, err
		}
		b, err := ev.value(c.Args[1])
		if err != nil {
			return nil, err
		}
		t, okT := toTime(a)
		d, okD := b.(time.Duration)
		if okT && okD {
			return t.Add(-d), nil
		}
		x, okX := toNumber(a)
		y, okY := toNumber(b)
		if okX && okY {
			return x - y, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: function %s/%d", types.ErrNotEvaluable, c.Name, len(c.Args))
}

// array evaluates e and returns it as a list. NULL reads as an empty list.
func (ev *evaluator) array(e ast.Expr) ([]any, error) {
	v, err := ev.value(e)
	if err != nil {
		return nil, err
	}
	switch list := v.(type) {
	case []any:
		return list, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: expected array, got %T", types.ErrNotEvaluable, v)
}

// apply evaluates a one-argument lambda with its parameter bound to arg.
func (ev *evaluator) apply(lambda *ast.Lambda, arg any) (bool, error) {
	saved := ev.bindings
	scope := make(map[string]any, len(saved)+1)
	for k, v := range saved {
		scope[k] = v
	}
	scope[lambda.Args[0]] = arg
	ev.bindings = scope
	defer func() { ev.bindings = saved }()
	return ev.truth(lambda.Body)
}

// equalValues compares numerically when both sides are numeric, as timestamps
// when either side is one, and as text otherwise.
func equalValues(a, b any) bool {
	if x, y, ok := bothNumbers(a, b); ok {
		return x == y
	}
	if isTime(a) || isTime(b) {
		ta, okA := toTime(a)
		tb, okB := toTime(b)
		return okA && okB && ta.Equal(tb)
	}
	ta, okA := toText(a)
	tb, okB := toText(b)
	return okA && okB && ta == tb
}

// orderValues returns -1, 0 or 1. ok is false for incomparable values.
func orderValues(a, b any) (int, bool) {
	if x, y, ok := bothNumbers(a, b); ok {
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if ta, okA := toTime(a); okA {
		if tb, okB := toTime(b); okB {
			return ta.Compare(tb), true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func bothNumbers(a, b any) (float64, float64, bool) {
	x, okA := toNumber(a)
	y, okB := toNumber(b)
	return x, y, okA && okB
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

// likeToRegexp translates a LIKE pattern: % is any run, _ is any character.
func likeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, ch := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(ch)))
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '%':
			b.WriteString("(?s:.*)")
		case ch == '_':
			b.WriteString("(?s:.)")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	return b.String()
}

var (
	chainIDPattern   = regexp.MustCompile(`(?::|")attr_id="(.*?)"`)
	chainTextPattern = regexp.MustCompile(`(?::|")text="(.*?)"`)
)

// deriveElementColumns fills the array columns materialized from elements_chain.
func deriveElementColumns(row map[string]any) {
	chain, ok := row["elements_chain"].(string)
	if !ok {
		return
	}
	if _, ok := row["elements_chain_ids"]; !ok {
		row["elements_chain_ids"] = extractAll(chainIDPattern, chain)
	}
	if _, ok := row["elements_chain_texts"]; !ok {
		row["elements_chain_texts"] = extractAll(chainTextPattern, chain)
	}
	if _, ok := row["elements_chain_elements"]; !ok {
		elements := []any{}
		if chain != "" {
			for _, element := range strings.Split(chain, ";") {
				tag := element
				if i := strings.IndexAny(tag, ".:"); i >= 0 {
					tag = tag[:i]
				}
				if interactiveTags[tag] {
					elements = append(elements, tag)
				}
			}
		}
		row["elements_chain_elements"] = elements
	}
}

func extractAll(re *regexp.Regexp, s string) []any {
	matches := re.FindAllStringSubmatch(s, -1)
	out := make([]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
