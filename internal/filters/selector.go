// internal/filters/selector.go
package filters

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

/*
 * CSS selector and element-chain matching.
 *
 * Autocapture events carry their DOM path as a single string column,
 * elements_chain, innermost element first, elements separated by ';':
 *
 *   a.nav-link:attr__href="/docs"attr_id="docs"nth-child="2";li;ul.menu
 *
 * Each element is tag(.class)* optionally followed by ':' and a run of
 * key="value" attributes. Three derived array columns are materialized from
 * the chain: elements_chain_ids (attr_id values), elements_chain_texts
 * (text values) and elements_chain_elements (interactive tag names).
 *
 * A selector compiles to a regular expression over the chain plus optional
 * interactive-tag and per-part id checks against the derived columns. A selector that
 * is a single "#id" part compiles to the id check alone; on well formed
 * chains the regular expression adds nothing to it.
 */

// SelectorPart is one compound selector, e.g. "button.primary[data-attr='x']".
type SelectorPart struct {
	TagName          string
	ID               string
	Classes          []string
	Attributes       map[string]string
	DirectDescendant bool
}

// onlyID reports whether the part constrains nothing but the element id.
func (p *SelectorPart) onlyID() bool {
	if p.ID == "" || p.TagName != "" || len(p.Classes) > 0 {
		return false
	}
	for k := range p.Attributes {
		if k != "attr_id" {
			return false
		}
	}
	return true
}

// Selector is a parsed CSS selector. Parts are ordered innermost first,
// matching the order of elements in a chain.
type Selector struct {
	Parts []SelectorPart
}

var attributeSelector = regexp.MustCompile(`(.*?)\[(.*?)=(.*?)\]`)

// ParseSelector parses a descendant/child combinator selector.
// Universal "*" steps are dropped; they constrain nothing.
func ParseSelector(selector string) (*Selector, error) {
	selector = strings.ReplaceAll(selector, "> * > ", "")
	selector = strings.ReplaceAll(selector, "> *", "")
	selector = strings.TrimSpace(selector)

	tokens := splitSelector(selector)
	for i, j := 0, len(tokens)-1; i < j; i, j = i+1, j-1 {
		tokens[i], tokens[j] = tokens[j], tokens[i]
	}

	sel := &Selector{}
	for i, token := range tokens {
		if token == ">" || token == "" {
			continue
		}
		part := parseSelectorPart(token)
		part.DirectDescendant = i > 0 && tokens[i-1] == ">"
		sel.Parts = append(sel.Parts, part)
		if len(sel.Parts) > types.MaxSelectorParts {
			return nil, fmt.Errorf("%w: more than %d parts", types.ErrSelectorTooLong, types.MaxSelectorParts)
		}
	}
	return sel, nil
}

// splitSelector splits on spaces outside attribute brackets and quotes.
func splitSelector(selector string) []string {
	var (
		tokens      []string
		current     strings.Builder
		inAttribute bool
		quote       rune
	)
	for _, ch := range selector {
		switch {
		case ch == '[' && quote == 0:
			inAttribute = true
		case ch == ']' && quote == 0:
			inAttribute = false
		case ch == '"' || ch == '\'':
			if quote == 0 {
				quote = ch
			} else if quote == ch {
				quote = 0
			}
		}
		if ch == ' ' && !inAttribute {
			tokens = append(tokens, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(ch)
	}
	return append(tokens, current.String())
}

func parseSelectorPart(token string) SelectorPart {
	part := SelectorPart{Attributes: map[string]string{}}
	unquote := strings.NewReplacer(`'`, "", `"`, "")

	if m := attributeSelector.FindStringSubmatch(token); m != nil {
		value := unquote.Replace(m[3])
		if m[2] == "id" {
			part.ID = value
			part.Attributes["attr_id"] = value
		} else {
			part.Attributes[m[2]] = value
		}
		token = m[1]
	}

	if strings.Contains(token, "#") {
		pieces := strings.Split(token, "#")
		token = pieces[0]
		part.ID = pieces[1]
		part.Attributes["attr_id"] = pieces[1]
	}

	if strings.Contains(token, ".") {
		pieces := strings.Split(token, ".")
		token = pieces[0]
		for _, class := range pieces[1:] {
			part.Classes = append(part.Classes, unescapeClass(class))
		}
	}

	part.TagName = token
	return part
}

var escapedChar = regexp.MustCompile(`\\(.)`)

func unescapeClass(class string) string {
	return escapedChar.ReplaceAllString(class, "$1")
}

// Regex returns the element-chain regular expression for the selector,
// or "" for an empty selector.
func (s *Selector) Regex() string {
	var b strings.Builder
	for i := range s.Parts {
		part := &s.Parts[i]
		if part.TagName != "" && part.TagName != "*" {
			b.WriteString(regexp.QuoteMeta(part.TagName))
		}
		if len(part.Classes) > 0 {
			classes := make([]string, len(part.Classes))
			for j, c := range part.Classes {
				classes[j] = regexp.QuoteMeta(c)
			}
			sort.Strings(classes)
			b.WriteString(`.*?\.`)
			b.WriteString(strings.Join(classes, `\..*?`))
		}
		if len(part.Attributes) > 0 {
			b.WriteString(`.*?`)
			keys := make([]string, 0, len(part.Attributes))
			for k := range part.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, `%s="%s".*?`, regexp.QuoteMeta(k), regexp.QuoteMeta(part.Attributes[k]))
			}
		}
		b.WriteString(`([-_a-zA-Z0-9\.:\"= ]*?)?($|;|:([^;^\s]*(;|$|\s)))`)
		if part.DirectDescendant {
			b.WriteString(`.*`)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return `(^|;)` + b.String()
}

// interactiveTags are the tag names materialized into elements_chain_elements.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "form": true, "input": true,
	"select": true, "textarea": true, "label": true,
}

// SelectorToExpr compiles a CSS selector into a match over the element chain.
func SelectorToExpr(selector string) (ast.Expr, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	return compileSelector(sel, true), nil
}

// compileSelector builds the selector match. With fastPath set, a single
// id-only part compiles to the id lookup alone.
func compileSelector(sel *Selector, fastPath bool) ast.Expr {
	if len(sel.Parts) == 0 {
		return ast.True()
	}
	if fastPath && len(sel.Parts) == 1 && sel.Parts[0].onlyID() {
		return elementIDExpr(sel.Parts[0].ID)
	}

	exprs := []ast.Expr{
		ast.Cmp(ast.Regex, ast.FieldRef("elements_chain"), ast.Const(sel.Regex())),
	}

	var (
		tags []ast.Expr
		ids  []ast.Expr
	)
	for i := range sel.Parts {
		part := &sel.Parts[i]
		if interactiveTags[part.TagName] {
			tags = append(tags, ast.Const(part.TagName))
		}
		if part.ID != "" {
			ids = append(ids, elementIDExpr(part.ID))
		}
	}
	if len(tags) > 0 {
		exprs = append(exprs, ast.Cmp(ast.Gt,
			&ast.Call{Name: "arrayCount", Args: []ast.Expr{
				&ast.Lambda{Args: []string{"x"}, Body: ast.Cmp(ast.In, ast.FieldRef("x"), &ast.Tuple{Exprs: tags})},
				ast.FieldRef("elements_chain_elements"),
			}},
			ast.Const(int64(0)),
		))
	}
	exprs = append(exprs, ids...)
	return combine(types.CombinatorAnd, exprs)
}

func elementIDExpr(id string) ast.Expr {
	return ast.Cmp(ast.Gt,
		&ast.Call{Name: "indexOf", Args: []ast.Expr{ast.FieldRef("elements_chain_ids"), ast.Const(id)}},
		ast.Const(int64(0)),
	)
}

// TagNameToExpr matches chains containing an element with the given tag.
func TagNameToExpr(tag string) ast.Expr {
	pattern := `(^|;)` + regexp.QuoteMeta(tag) + `(\.|$|;|:)`
	return ast.Cmp(ast.Regex, ast.FieldRef("elements_chain"), ast.Const(pattern))
}

// ElementAttributeToExpr matches key="value" attributes (href, text) anywhere
// in the element chain. Negative operators compile as not(<positive>).
func ElementAttributeToExpr(key, value string, op types.Operator) (ast.Expr, error) {
	op = operatorOrDefault(op)
	if positive, ok := Inverse(op); ok {
		inner, err := ElementAttributeToExpr(key, value, positive)
		if err != nil {
			return nil, err
		}
		return &ast.Not{Expr: inner}, nil
	}

	escaped := strings.ReplaceAll(value, `"`, `\"`)
	var pattern string
	cmp := ast.Regex
	switch op {
	case types.OpExact:
		pattern = regexp.QuoteMeta(escaped)
	case types.OpIContains:
		pattern = ".*" + regexp.QuoteMeta(escaped) + ".*"
		cmp = ast.IRegex
	case types.OpRegex:
		pattern = escaped
	case types.OpIsSet:
		pattern = `[^"]+`
	default:
		return nil, fmt.Errorf("%w: %q on element %s", types.ErrUnsupportedOperator, op, key)
	}

	return ast.Cmp(cmp, ast.FieldRef("elements_chain"), ast.Const(`(`+key+`="`+pattern+`")`)), nil
}
