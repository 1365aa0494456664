// internal/filters/rewriter.go
package filters

import (
	"github.com/solatis/propfilter/internal/ast"
)

// rewrittenIdentifiers are the bare columns retargeted at a table alias.
var rewrittenIdentifiers = map[string]bool{
	"person_id":   true,
	"distinct_id": true,
}

// IdentifierRewriter qualifies bare person_id and distinct_id references with
// Alias. Everything else, including already qualified chains, is left as is.
// The input tree is never modified; unchanged subtrees are shared.
type IdentifierRewriter struct {
	Alias string
}

// Rewrite returns e with bare identifiers qualified.
func (r IdentifierRewriter) Rewrite(e ast.Expr) ast.Expr {
	return ast.Transform(e, r.visit)
}

func (r IdentifierRewriter) visit(e ast.Expr) ast.Expr {
	f, ok := e.(*ast.Field)
	if !ok || len(f.Chain) != 1 || !rewrittenIdentifiers[f.Chain[0]] {
		return e
	}
	return ast.FieldRef(r.Alias, f.Chain[0])
}
