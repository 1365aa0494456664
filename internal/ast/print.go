package ast

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnprintable indicates a node or constant the printer cannot render.
var ErrUnprintable = errors.New("expression cannot be printed")

var bareIdentifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Print renders e as SQL with all constants inlined.
func Print(e Expr) (string, error) {
	p := &printer{}
	return p.top(e)
}

// PrintParameterized renders e as SQL with constants replaced by named placeholders
// ({p0}, {p1}, ...). Booleans and NULL stay inline. The returned map binds each
// placeholder name to its value.
func PrintParameterized(e Expr) (string, map[string]any, error) {
	p := &printer{values: make(map[string]any)}
	sql, err := p.top(e)
	if err != nil {
		return "", nil, err
	}
	return sql, p.values, nil
}

type printer struct {
	values map[string]any // nil when constants are inlined
}

// top prints a standalone statement; a Select is not wrapped in parentheses here.
func (p *printer) top(e Expr) (string, error) {
	if s, ok := e.(*Select); ok {
		return p.selectSQL(s)
	}
	return p.print(e)
}

func (p *printer) print(e Expr) (string, error) {
	switch n := e.(type) {
	case *And:
		return p.junction(n.Exprs, " AND ", "true")
	case *Or:
		return p.junction(n.Exprs, " OR ", "false")
	case *Not:
		inner, err := p.print(n.Expr)
		if err != nil {
			return "", err
		}
		return "not(" + inner + ")", nil
	case *Compare:
		return p.compare(n)
	case *Constant:
		return p.constant(n.Value)
	case *Field:
		return printChain(n.Chain), nil
	case *Call:
		args, err := p.list(n.Args)
		if err != nil {
			return "", err
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")", nil
	case *Lambda:
		body, err := p.print(n.Body)
		if err != nil {
			return "", err
		}
		if len(n.Args) == 1 {
			return quoteIdentifier(n.Args[0]) + " -> " + body, nil
		}
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = quoteIdentifier(a)
		}
		return "(" + strings.Join(args, ", ") + ") -> " + body, nil
	case *Tuple:
		items, err := p.list(n.Exprs)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(items, ", ") + ")", nil
	case *Raw:
		return "(" + n.SQL + ")", nil
	case *Alias:
		inner, err := p.print(n.Expr)
		if err != nil {
			return "", err
		}
		return inner + " AS " + quoteIdentifier(n.Alias), nil
	case *Select:
		sql, err := p.selectSQL(n)
		if err != nil {
			return "", err
		}
		return "(" + sql + ")", nil
	case nil:
		return "", fmt.Errorf("%w: nil expression", ErrUnprintable)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnprintable, e)
	}
}

// junction joins children with sep. Single children are printed unwrapped.
func (p *printer) junction(exprs []Expr, sep, empty string) (string, error) {
	switch len(exprs) {
	case 0:
		return empty, nil
	case 1:
		return p.print(exprs[0])
	}
	parts, err := p.list(exprs)
	if err != nil {
		return "", err
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (p *printer) compare(c *Compare) (string, error) {
	left, err := p.print(c.Left)
	if err != nil {
		return "", err
	}

	// = NULL / != NULL read as null checks
	if k, ok := c.Right.(*Constant); ok && k.Value == nil {
		switch c.Op {
		case Eq:
			return left + " IS NULL", nil
		case NotEq:
			return left + " IS NOT NULL", nil
		}
	}

	right, err := p.print(c.Right)
	if err != nil {
		return "", err
	}
	return left + " " + c.Op.String() + " " + right, nil
}

func (p *printer) list(exprs []Expr) ([]string, error) {
	out := make([]string, 0, len(exprs))
	for _, x := range exprs {
		s, err := p.print(x)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *printer) constant(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	}

	if p.values != nil {
		name := "p" + strconv.Itoa(len(p.values))
		p.values[name] = v
		return "{" + name + "}", nil
	}

	switch t := v.(type) {
	case string:
		return quoteString(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return "toDateTime(" + quoteString(t.UTC().Format("2006-01-02 15:04:05")) + ")", nil
	default:
		return "", fmt.Errorf("%w: constant of type %T", ErrUnprintable, v)
	}
}

func (p *printer) selectSQL(s *Select) (string, error) {
	var b strings.Builder

	cols, err := p.list(s.Select)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))

	if s.From != nil {
		b.WriteString(" FROM ")
		b.WriteString(quoteIdentifier(s.From.Name))
		if s.From.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(quoteIdentifier(s.From.Alias))
		}
	}

	if s.Where != nil {
		where, err := p.print(s.Where)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(s.GroupBy) > 0 {
		groups, err := p.list(s.GroupBy)
		if err != nil {
			return "", err
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groups, ", "))
	}

	if s.Having != nil {
		having, err := p.print(s.Having)
		if err != nil {
			return "", err
		}
		b.WriteString(" HAVING ")
		b.WriteString(having)
	}

	return b.String(), nil
}

func printChain(chain []string) string {
	parts := make([]string, len(chain))
	for i, c := range chain {
		parts[i] = quoteIdentifier(c)
	}
	return strings.Join(parts, ".")
}

func quoteIdentifier(s string) string {
	if bareIdentifier.MatchString(s) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, "`", "\\`")
	return "`" + r.Replace(s) + "`"
}

func quoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
