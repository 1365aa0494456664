// Package ast defines the boolean expression tree produced by the filter compiler.
//
// The tree is a closed sum type: every node is a pointer to one of the structs below
// and implements the unexported exprNode marker, so only this package can add
// variants. Nodes are treated as immutable once built; Transform returns new nodes
// for changed subtrees and shares everything else.
//
// Rendering to SQL text lives in print.go. Nothing in this package executes queries.
package ast

// Expr is implemented by every node of the expression tree.
type Expr interface {
	exprNode()
}

// And is a conjunction. An empty And is true.
type And struct {
	Exprs []Expr
}

// Or is a disjunction. An empty Or is false.
type Or struct {
	Exprs []Expr
}

// Not negates its operand.
type Not struct {
	Expr Expr
}

// CompareOp is the operator of a Compare node.
type CompareOp int

const (
	Eq CompareOp = iota
	NotEq
	Lt
	LtEq
	Gt
	GtEq
	Like
	ILike
	NotLike
	NotILike
	In
	NotIn
	Regex
	IRegex
	NotRegex
)

// String returns the SQL spelling of the operator.
func (op CompareOp) String() string {
	switch op {
	case Eq:
		return "="
	case NotEq:
		return "!="
	case Lt:
		return "<"
	case LtEq:
		return "<="
	case Gt:
		return ">"
	case GtEq:
		return ">="
	case Like:
		return "LIKE"
	case ILike:
		return "ILIKE"
	case NotLike:
		return "NOT LIKE"
	case NotILike:
		return "NOT ILIKE"
	case In:
		return "IN"
	case NotIn:
		return "NOT IN"
	case Regex:
		return "=~"
	case IRegex:
		return "=~*"
	case NotRegex:
		return "!~"
	default:
		return "?"
	}
}

// Compare is a binary comparison.
type Compare struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

// Constant is a literal: nil, bool, string, int, int64, float64 or time.Time.
type Constant struct {
	Value any
}

// Field references a column or a property by its dotted chain.
type Field struct {
	Chain []string
}

// Call is a function call.
type Call struct {
	Name string
	Args []Expr
}

// Lambda is an anonymous function used as the first argument of array functions.
type Lambda struct {
	Args []string
	Body Expr
}

// Tuple is a parenthesised list, used for IN right-hand sides.
type Tuple struct {
	Exprs []Expr
}

// Raw is an expression fragment supplied verbatim by the user.
type Raw struct {
	SQL string
}

// Alias names an expression in a select list.
type Alias struct {
	Alias string
	Expr  Expr
}

// Table is the FROM clause of a Select.
type Table struct {
	Name  string
	Alias string
}

// Select is a single-table query. Used both standalone and nested as an IN operand.
type Select struct {
	Select  []Expr
	From    *Table
	Where   Expr
	GroupBy []Expr
	Having  Expr
}

func (*And) exprNode()      {}
func (*Or) exprNode()       {}
func (*Not) exprNode()      {}
func (*Compare) exprNode()  {}
func (*Constant) exprNode() {}
func (*Field) exprNode()    {}
func (*Call) exprNode()     {}
func (*Lambda) exprNode()   {}
func (*Tuple) exprNode()    {}
func (*Raw) exprNode()      {}
func (*Alias) exprNode()    {}
func (*Select) exprNode()   {}

// True returns a new constant true node.
func True() *Constant {
	return &Constant{Value: true}
}

// IsTrue reports whether e is the constant true.
func IsTrue(e Expr) bool {
	c, ok := e.(*Constant)
	if !ok {
		return false
	}
	b, ok := c.Value.(bool)
	return ok && b
}

// FieldRef builds a Field from its chain elements.
func FieldRef(chain ...string) *Field {
	return &Field{Chain: chain}
}

// Const builds a Constant.
func Const(v any) *Constant {
	return &Constant{Value: v}
}

// Cmp builds a Compare node.
func Cmp(op CompareOp, left, right Expr) *Compare {
	return &Compare{Op: op, Left: left, Right: right}
}
