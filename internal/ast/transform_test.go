package ast

import (
	"testing"
)

func sampleTree() (*And, *Compare, *Compare) {
	left := Cmp(Eq, FieldRef("person_id"), Const("p1"))
	right := Cmp(Eq, FieldRef("properties", "$browser"), Const("Chrome"))
	return &And{Exprs: []Expr{left, right}}, left, right
}

func TestTransform_IdentitySharesTree(t *testing.T) {
	tree, _, _ := sampleTree()

	got := Transform(tree, func(e Expr) Expr { return e })
	if got != Expr(tree) {
		t.Errorf("Transform(identity) returned a new root, want the input pointer")
	}
}

func TestTransform_RebuildsOnlyChangedPath(t *testing.T) {
	tree, left, right := sampleTree()

	got := Transform(tree, func(e Expr) Expr {
		if f, ok := e.(*Field); ok && len(f.Chain) == 1 && f.Chain[0] == "person_id" {
			return FieldRef("pdi", "person_id")
		}
		return e
	})

	and, ok := got.(*And)
	if !ok {
		t.Fatalf("Transform() = %T, want *And", got)
	}
	if and == tree {
		t.Errorf("root was not rebuilt after a child changed")
	}
	if and.Exprs[0] == Expr(left) {
		t.Errorf("changed child was not rebuilt")
	}
	if and.Exprs[1] != Expr(right) {
		t.Errorf("unchanged sibling was copied, want shared pointer")
	}

	// input untouched
	if chain := left.Left.(*Field).Chain; len(chain) != 1 || chain[0] != "person_id" {
		t.Errorf("input field mutated to %v", chain)
	}

	sql, err := Print(got)
	if err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	want := "(pdi.person_id = 'p1' AND properties.$browser = 'Chrome')"
	if sql != want {
		t.Errorf("Print(Transform()) = %q, want %q", sql, want)
	}
}

func TestTransform_BottomUpOrder(t *testing.T) {
	tree, _, _ := sampleTree()

	var order []string
	Transform(tree, func(e Expr) Expr {
		switch e.(type) {
		case *And:
			order = append(order, "and")
		case *Compare:
			order = append(order, "compare")
		}
		return e
	})

	want := []string{"compare", "compare", "and"}
	if len(order) != len(want) {
		t.Fatalf("visit order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("visit order = %v, want %v", order, want)
			break
		}
	}
}

func TestTransform_DescendsIntoSelect(t *testing.T) {
	sub := &Select{
		Select: []Expr{FieldRef("distinct_id")},
		From:   &Table{Name: "person_distinct_ids"},
		Where:  Cmp(Eq, FieldRef("person_id"), Const("p1")),
	}
	tree := Cmp(In, FieldRef("distinct_id"), sub)

	renamed := 0
	got := Transform(tree, func(e Expr) Expr {
		if f, ok := e.(*Field); ok && len(f.Chain) == 1 {
			renamed++
			return FieldRef("t", f.Chain[0])
		}
		return e
	})

	if renamed != 3 {
		t.Errorf("renamed %d fields, want 3", renamed)
	}
	out := got.(*Compare).Right.(*Select)
	if out == sub {
		t.Errorf("select was not rebuilt")
	}
	if out.From != sub.From {
		t.Errorf("FROM clause was copied, want shared pointer")
	}
}

func TestTransform_Nil(t *testing.T) {
	if got := Transform(nil, func(e Expr) Expr { return e }); got != nil {
		t.Errorf("Transform(nil) = %v, want nil", got)
	}
}

func TestWalk(t *testing.T) {
	tree, _, _ := sampleTree()

	var fields int
	Walk(tree, func(e Expr) bool {
		if _, ok := e.(*Field); ok {
			fields++
		}
		return true
	})
	if fields != 2 {
		t.Errorf("Walk() visited %d fields, want 2", fields)
	}

	var visited int
	Walk(tree, func(e Expr) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("Walk() with pruning visited %d nodes, want 1", visited)
	}
}
