package pipeline

import (
	"context"
	"testing"

	"github.com/nicofx/widu-factory/internal/ambient"
	"github.com/nicofx/widu-factory/internal/core/domain"
)

func instances(names ...string) []*StepInstance {
	out := make([]*StepInstance, len(names))
	for i, n := range names {
		out[i] = &StepInstance{Name: n}
	}
	return out
}

func TestGate(t *testing.T) {
	ec := domain.NewContext("", nil, nil, nil)
	ec.Meta.Config = &domain.PipelineConfig{
		DisabledPhases: map[string]struct{}{"pre": {}},
		DisabledSteps:  map[string]struct{}{"audit": {}},
	}

	if IsPhaseEnabled("pre", ec) {
		t.Error("pre should be disabled")
	}
	if !IsPhaseEnabled("post", ec) {
		t.Error("post should be enabled")
	}
	if IsStepEnabled("audit", ec) || !IsStepEnabled("auth", ec) {
		t.Error("step gate mismatch")
	}

	bare := domain.NewContext("", nil, nil, nil)
	if !IsPhaseEnabled("pre", bare) || !IsStepEnabled("audit", bare) {
		t.Error("a context without snapshot enables everything")
	}
}

func TestFilter(t *testing.T) {
	ec := domain.NewContext("", nil, nil, nil)
	ec.Meta.Config = &domain.PipelineConfig{
		DisabledPhases: map[string]struct{}{"off": {}},
		DisabledSteps:  map[string]struct{}{"b": {}, "d": {}},
	}
	ctx := ambient.Bind(context.Background(), ec)

	tests := []struct {
		name  string
		ctx   context.Context
		phase string
		in    []*StepInstance
		want  []string
	}{
		{"order preserved", ctx, "on", instances("a", "b", "c", "d", "e"), []string{"a", "c", "e"}},
		{"disabled phase", ctx, "off", instances("a", "c"), nil},
		{"all disabled", ctx, "on", instances("b", "d"), nil},
		{"unbound", context.Background(), "off", instances("a", "b"), []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(tt.ctx, tt.phase, tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Filter() = %d steps, want %v", len(got), tt.want)
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("got[%d] = %s, want %s", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}
