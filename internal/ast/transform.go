package ast

// Transform rebuilds e bottom-up, applying fn to every node after its children have
// been transformed. A parent is copied only when at least one child changed; untouched
// subtrees are returned as the same pointers. fn must return its argument to signal
// "no change".
func Transform(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}

	switch n := e.(type) {
	case *And:
		if exprs, changed := transformList(n.Exprs, fn); changed {
			e = &And{Exprs: exprs}
		}
	case *Or:
		if exprs, changed := transformList(n.Exprs, fn); changed {
			e = &Or{Exprs: exprs}
		}
	case *Not:
		if x := Transform(n.Expr, fn); x != n.Expr {
			e = &Not{Expr: x}
		}
	case *Compare:
		left := Transform(n.Left, fn)
		right := Transform(n.Right, fn)
		if left != n.Left || right != n.Right {
			e = &Compare{Op: n.Op, Left: left, Right: right}
		}
	case *Call:
		if args, changed := transformList(n.Args, fn); changed {
			e = &Call{Name: n.Name, Args: args}
		}
	case *Lambda:
		if body := Transform(n.Body, fn); body != n.Body {
			e = &Lambda{Args: n.Args, Body: body}
		}
	case *Tuple:
		if exprs, changed := transformList(n.Exprs, fn); changed {
			e = &Tuple{Exprs: exprs}
		}
	case *Alias:
		if x := Transform(n.Expr, fn); x != n.Expr {
			e = &Alias{Alias: n.Alias, Expr: x}
		}
	case *Select:
		list, listChanged := transformList(n.Select, fn)
		where := Transform(n.Where, fn)
		groupBy, groupChanged := transformList(n.GroupBy, fn)
		having := Transform(n.Having, fn)
		if listChanged || groupChanged || where != n.Where || having != n.Having {
			e = &Select{Select: list, From: n.From, Where: where, GroupBy: groupBy, Having: having}
		}
	case *Constant, *Field, *Raw:
		// leaves
	}

	return fn(e)
}

// transformList transforms each element and reports whether any of them changed.
// The original slice is returned untouched when nothing changed.
func transformList(exprs []Expr, fn func(Expr) Expr) ([]Expr, bool) {
	var out []Expr
	for i, x := range exprs {
		y := Transform(x, fn)
		if y != x && out == nil {
			out = make([]Expr, len(exprs))
			copy(out, exprs[:i])
		}
		if out != nil {
			out[i] = y
		}
	}
	if out == nil {
		return exprs, false
	}
	return out, true
}

// Walk traverses e depth-first, calling fn for each node.
// Children are visited only if fn returns true.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}

	switch n := e.(type) {
	case *And:
		walkList(n.Exprs, fn)
	case *Or:
		walkList(n.Exprs, fn)
	case *Not:
		Walk(n.Expr, fn)
	case *Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Call:
		walkList(n.Args, fn)
	case *Lambda:
		Walk(n.Body, fn)
	case *Tuple:
		walkList(n.Exprs, fn)
	case *Alias:
		Walk(n.Expr, fn)
	case *Select:
		walkList(n.Select, fn)
		Walk(n.Where, fn)
		walkList(n.GroupBy, fn)
		Walk(n.Having, fn)
	}
}

func walkList(exprs []Expr, fn func(Expr) bool) {
	for _, x := range exprs {
		Walk(x, fn)
	}
}
