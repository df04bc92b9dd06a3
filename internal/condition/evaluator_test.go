package condition

import (
	"testing"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

func newTestContext() *domain.Context {
	ec := domain.NewContext("req-1",
		map[string]any{
			"amount":  150,
			"country": "AR",
			"items":   []any{"a", "b"},
			"nested":  map[string]any{"flag": true},
			"stage":   "process",
			"mode":    "exec",
		},
		map[string]string{"X-Channel": "web"},
		map[string]any{"role": "admin"},
	)
	ec.Meta.Tenant = "acme"
	ec.Meta.SetValue("tier", "gold")
	return ec
}

func TestEvaluate(t *testing.T) {
	ev := New()
	ec := newTestContext()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty", "", true},
		{"whitespace", "   ", true},
		{"numeric comparison", "body.amount > 100", true},
		{"numeric comparison false", "body.amount < 100", false},
		{"string equality", `body.country == "AR"`, true},
		{"header lookup", `headers["x-channel"] == "web"`, true},
		{"nested field", "body.nested.flag", true},
		{"and", `body.amount > 100 && user.role == "admin"`, true},
		{"or", `body.amount < 0 || user.role == "admin"`, true},
		{"not", `!(user.role == "admin")`, false},
		{"in list", `user.role in ["admin", "owner"]`, true},
		{"tenant", `tenant == "acme"`, true},
		{"meta value", `meta.tier == "gold"`, true},
		{"missing field is falsy", "body.missing", false},
		{"non-empty list is truthy", "body.items", true},
		{"string truthy", "body.country", true},
		{"ternary", `body.amount > 100 ? true : false`, true},
		{"reserved word as value", `body.stage == "process"`, true},
		{"reserved word in list", `body.mode in ["exec", "eval"]`, true},
		{"reserved word as key value", `headers["x-channel"] != "constructor"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.Evaluate(tt.expr, ec); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_FailClosed(t *testing.T) {
	ev := New()
	ec := newTestContext()

	rejected := []string{
		`process.exit(1)`,
		`require("fs")`,
		`len(body.items) > 0`,
		`os.Getenv("HOME")`,
		`body.constructor`,
		`body["__proto__"]`,
		`body.nested["prototype"] != nil`,
		`unknownVar == 1`,
		`eval("1")`,
		`filter(body.items, # == "a")`,
		`1..1000000`,
		`body.amount >`,
		`body.missing > 10`,
	}

	for _, expr := range rejected {
		t.Run(expr, func(t *testing.T) {
			if ev.Evaluate(expr, ec) {
				t.Errorf("Evaluate(%q) = true, want false", expr)
			}
		})
	}
}

func TestEvaluate_NilContext(t *testing.T) {
	if New().Evaluate("true", nil) {
		t.Error("expected false for nil context")
	}
}

func TestEvaluate_CachedProgramSeesNewContext(t *testing.T) {
	ev := New()
	a := domain.NewContext("a", map[string]any{"amount": 10}, nil, nil)
	b := domain.NewContext("b", map[string]any{"amount": 500}, nil, nil)

	if ev.Evaluate("body.amount > 100", a) {
		t.Error("expected false for first context")
	}
	if !ev.Evaluate("body.amount > 100", b) {
		t.Error("expected true for second context")
	}
}

func TestCheck(t *testing.T) {
	if err := Check(`body.a == 1 and user.b != "x"`); err != nil {
		t.Errorf("Check() unexpected error: %v", err)
	}
	if err := Check(`now()`); err == nil {
		t.Error("Check() expected error for function call")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, false},
		{1, true},
		{0.0, false},
		{2.5, true},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
