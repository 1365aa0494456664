package filters

import (
	"errors"
	"testing"
	"time"

	"github.com/solatis/propfilter/internal/ast"
	"github.com/solatis/propfilter/internal/types"
)

func TestEvaluate(t *testing.T) {
	browser := ast.FieldRef("properties", "$browser")
	count := ast.FieldRef("properties", "count")

	tests := []struct {
		name string
		expr ast.Expr
		row  string
		want bool
	}{
		{name: "eq present", expr: ast.Cmp(ast.Eq, browser, ast.Const("Chrome")), row: `{"properties": {"$browser": "Chrome"}}`, want: true},
		{name: "eq missing", expr: ast.Cmp(ast.Eq, browser, ast.Const("Chrome")), row: `{"properties": {}}`, want: false},
		{name: "not eq missing", expr: &ast.Not{Expr: ast.Cmp(ast.Eq, browser, ast.Const("Chrome"))}, row: `{}`, want: true},
		{name: "is set", expr: ast.Cmp(ast.NotEq, browser, ast.Const(nil)), row: `{"properties": {"$browser": ""}}`, want: true},
		{name: "is set missing", expr: ast.Cmp(ast.NotEq, browser, ast.Const(nil)), row: `{"properties": {}}`, want: false},
		{name: "is null", expr: ast.Cmp(ast.Eq, browser, ast.Const(nil)), row: `{"properties": {}}`, want: true},
		{name: "ilike", expr: ast.Cmp(ast.ILike, browser, ast.Const("%chro%")), row: `{"properties": {"$browser": "Chrome"}}`, want: true},
		{name: "like is case sensitive", expr: ast.Cmp(ast.Like, browser, ast.Const("%chro%")), row: `{"properties": {"$browser": "Chrome"}}`, want: false},
		{name: "like escaped percent", expr: ast.Cmp(ast.Like, count, ast.Const(`50\%`)), row: `{"properties": {"count": "50%"}}`, want: true},
		{
			name: "in tuple",
			expr: ast.Cmp(ast.In, browser, &ast.Tuple{Exprs: []ast.Expr{ast.Const("Safari"), ast.Const("Chrome")}}),
			row:  `{"properties": {"$browser": "Chrome"}}`,
			want: true,
		},
		{
			name: "not in tuple",
			expr: ast.Cmp(ast.NotIn, browser, &ast.Tuple{Exprs: []ast.Expr{ast.Const("Safari")}}),
			row:  `{"properties": {"$browser": "Chrome"}}`,
			want: true,
		},
		{name: "numeric string gt", expr: ast.Cmp(ast.Gt, count, ast.Const(int64(10))), row: `{"properties": {"count": "42"}}`, want: true},
		{name: "number eq int", expr: ast.Cmp(ast.Eq, count, ast.Const(int64(42))), row: `{"properties": {"count": 42}}`, want: true},
		{name: "string order", expr: ast.Cmp(ast.Lt, browser, ast.Const("D")), row: `{"properties": {"$browser": "Chrome"}}`, want: true},
		{name: "bool is not a number", expr: ast.Cmp(ast.Gt, count, ast.Const(int64(0))), row: `{"properties": {"count": true}}`, want: false},
		{name: "regex", expr: ast.Cmp(ast.Regex, browser, ast.Const("^Chr")), row: `{"properties": {"$browser": "Chrome"}}`, want: true},
		{name: "iregex", expr: ast.Cmp(ast.IRegex, browser, ast.Const("^chr")), row: `{"properties": {"$browser": "Chrome"}}`, want: true},
		{name: "not regex", expr: ast.Cmp(ast.NotRegex, browser, ast.Const("^Chr")), row: `{"properties": {"$browser": "Chrome"}}`, want: false},
		{
			name: "array index",
			expr: ast.Cmp(ast.Eq, ast.FieldRef("properties", "tags", "1"), ast.Const("b")),
			row:  `{"properties": {"tags": ["a", "b"]}}`,
			want: true,
		},
		{
			name: "text array exists",
			expr: &ast.Call{Name: "arrayExists", Args: []ast.Expr{
				&ast.Lambda{Args: []string{"x"}, Body: ast.Cmp(ast.Eq, ast.FieldRef("x"), ast.Const("Buy"))},
				ast.FieldRef("elements_chain_texts"),
			}},
			row:  `{"elements_chain": "button:text=\"Buy\"nth-child=\"1\";div"}`,
			want: true,
		},
		{
			name: "index of id",
			expr: ast.Cmp(ast.Gt, &ast.Call{Name: "indexOf", Args: []ast.Expr{ast.FieldRef("elements_chain_ids"), ast.Const("cta")}}, ast.Const(int64(0))),
			row:  `{"elements_chain": "a:attr_id=\"nav\";button:attr_id=\"cta\""}`,
			want: true,
		},
		{
			name: "explicit derived column wins",
			expr: ast.Cmp(ast.Gt, &ast.Call{Name: "indexOf", Args: []ast.Expr{ast.FieldRef("elements_chain_ids"), ast.Const("cta")}}, ast.Const(int64(0))),
			row:  `{"elements_chain": "button:attr_id=\"cta\"", "elements_chain_ids": []}`,
			want: false,
		},
		{
			name: "interactive element count",
			expr: ast.Cmp(ast.Gt, &ast.Call{Name: "arrayCount", Args: []ast.Expr{
				&ast.Lambda{Args: []string{"x"}, Body: ast.Cmp(ast.In, ast.FieldRef("x"), &ast.Tuple{Exprs: []ast.Expr{ast.Const("button")}})},
				ast.FieldRef("elements_chain_elements"),
			}}, ast.Const(int64(0))),
			row:  `{"elements_chain": "span.label;button.btn:nth-child=\"1\";div"}`,
			want: true,
		},
		{
			name: "and short circuits",
			expr: &ast.And{Exprs: []ast.Expr{ast.Cmp(ast.Eq, browser, ast.Const("Firefox")), &ast.Raw{SQL: "1"}}},
			row:  `{"properties": {"$browser": "Chrome"}}`,
			want: false,
		},
		{name: "empty and", expr: &ast.And{}, row: `{}`, want: true},
		{name: "empty or", expr: &ast.Or{}, row: `{}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr, []byte(tt.row))
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_NegatedLeafMissingProperty(t *testing.T) {
	tests := []struct {
		name string
		leaf *types.PropertyLeaf
		row  string
		want bool
	}{
		{name: "is_not missing", leaf: eventLeaf("$os", types.OpIsNot, "Windows"), row: `{"properties": {}}`, want: true},
		{name: "is_not other", leaf: eventLeaf("$os", types.OpIsNot, "Windows"), row: `{"properties": {"$os": "Mac"}}`, want: true},
		{name: "is_not same", leaf: eventLeaf("$os", types.OpIsNot, "Windows"), row: `{"properties": {"$os": "Windows"}}`, want: false},
		{name: "not_in missing", leaf: eventLeaf("$os", types.OpNotIn, []any{"Windows"}), row: `{}`, want: true},
		{name: "is_not_set missing", leaf: eventLeaf("$os", types.OpIsNotSet, nil), row: `{}`, want: true},
		{name: "is_not_set present", leaf: eventLeaf("$os", types.OpIsNotSet, nil), row: `{"properties": {"$os": "Mac"}}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := PropertyToExpr(tt.leaf)
			if err != nil {
				t.Fatalf("PropertyToExpr() error = %v", err)
			}
			if tt.leaf.Operator != types.OpIsNotSet {
				call, ok := expr.(*ast.Call)
				if !ok || call.Name != "ifNull" {
					t.Fatalf("PropertyToExpr() = %#v, want ifNull(...) so NULL comparisons match", expr)
				}
			}
			got, err := Evaluate(expr, []byte(tt.row))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%s) = %v, want %v", tt.row, got, tt.want)
			}
		})
	}
}

func TestEvaluate_TimeWindow(t *testing.T) {
	now := time.Now().UTC()
	qctx := types.QueryContext{
		DateRange: types.DateRange{From: now.Add(-48 * time.Hour), To: now.Add(time.Hour)},
		TTLDays:   30,
	}
	window := TimeWindow(qctx)

	tests := []struct {
		name      string
		timestamp string
		want      bool
	}{
		{name: "inside", timestamp: now.Add(-time.Hour).Format(time.RFC3339), want: true},
		{name: "before range", timestamp: now.Add(-72 * time.Hour).Format(time.RFC3339), want: false},
		{name: "after range", timestamp: now.Add(48 * time.Hour).Format(time.RFC3339), want: false},
		{name: "clickhouse layout", timestamp: now.Add(-time.Hour).Format("2006-01-02 15:04:05"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(window, []byte(`{"timestamp": "`+tt.timestamp+`"}`))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_NotEvaluable(t *testing.T) {
	tests := []struct {
		name string
		expr ast.Expr
	}{
		{name: "raw", expr: &ast.Raw{SQL: "properties.x = 1"}},
		{
			name: "subquery",
			expr: ast.Cmp(ast.In, ast.FieldRef("distinct_id"), &ast.Select{
				Select: []ast.Expr{ast.FieldRef("distinct_id")},
				From:   &ast.Table{Name: "person_distinct_ids"},
			}),
		},
		{name: "unknown function", expr: &ast.Call{Name: "JSONExtractString", Args: []ast.Expr{ast.FieldRef("properties")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expr, []byte(`{"distinct_id": "d1", "properties": {}}`))
			if !errors.Is(err, types.ErrNotEvaluable) {
				t.Errorf("Evaluate() error = %v, want ErrNotEvaluable", err)
			}
		})
	}
}

func TestEvaluate_InvalidRow(t *testing.T) {
	if _, err := Evaluate(ast.True(), []byte(`{not json`)); err == nil {
		t.Error("Evaluate() error = nil, want parse error")
	}
}

func TestResolve(t *testing.T) {
	row := map[string]any{
		"properties": map[string]any{
			"plan": "pro",
			"tags": []any{"a", "b"},
			"nil":  nil,
		},
	}

	tests := []struct {
		name    string
		chain   []string
		want    any
		wantErr error
	}{
		{name: "nested", chain: []string{"properties", "plan"}, want: "pro"},
		{name: "array", chain: []string{"properties", "tags", "0"}, want: "a"},
		{name: "explicit null", chain: []string{"properties", "nil"}, want: nil},
		{name: "missing", chain: []string{"properties", "email"}, wantErr: types.ErrFieldNotFound},
		{name: "index out of range", chain: []string{"properties", "tags", "5"}, wantErr: types.ErrFieldNotFound},
		{name: "through scalar", chain: []string{"properties", "plan", "x"}, wantErr: types.ErrFieldNotFound},
		{name: "too deep", chain: make([]string, types.MaxPathDepth+1), wantErr: types.ErrPathTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.chain, row)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !got.Found || got.Value != tt.want {
				t.Errorf("Resolve() = %+v, want %v", got, tt.want)
			}
		})
	}
}
