package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

func build(t *testing.T, h *harness, name string, ec *domain.Context) *Pipeline {
	t.Helper()
	p, err := h.factory.Build(context.Background(), name, ec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return p
}

func TestFactory_ConcatenatesHooksAndSteps(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{
		"phases": ["pre"],
		"pre": {"hooksAfter": ["after"], "steps": ["core"], "hooksBefore": ["before"]}
	}`), stepDef{name: "before"}, stepDef{name: "core"}, stepDef{name: "after"})

	p := build(t, h, "main", domain.NewContext("", nil, nil, nil))
	if got := strings.Join(p.StepNames()["pre"], ","); got != "before,core,after" {
		t.Errorf("pre = %s", got)
	}
}

func TestFactory_StoresSnapshot(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{"phases": ["p"], "disabledSteps": ["x"]}`))
	ec := domain.NewContext("", nil, nil, nil)
	build(t, h, "checkout", ec)

	if ec.Meta.Config == nil || !ec.Meta.Config.StepDisabled("x") {
		t.Errorf("snapshot not stored: %+v", ec.Meta.Config)
	}
	if ec.Meta.Pipeline != "checkout" {
		t.Errorf("Meta.Pipeline = %q", ec.Meta.Pipeline)
	}
}

func TestFactory_Conditions(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{
		"phases": ["p"],
		"p": {"steps": [
			"always",
			{"name": "empty", "if": ""},
			{"name": "admin", "if": "user.role == 'admin'"},
			{"name": "ar", "condition": "body.country == 'AR'"},
			{"name": "rejected", "if": "os.Getenv('HOME') != ''"},
			{"name": "broken", "if": "body.a.b.c > 1"}
		]}
	}`),
		stepDef{name: "always"}, stepDef{name: "empty"}, stepDef{name: "admin"},
		stepDef{name: "ar"}, stepDef{name: "rejected"}, stepDef{name: "broken"},
	)

	ec := domain.NewContext("", map[string]any{"country": "AR"}, nil, map[string]any{"role": "viewer"})
	p := build(t, h, "main", ec)
	if got := strings.Join(p.StepNames()["p"], ","); got != "always,empty,ar" {
		t.Errorf("steps = %s, want always,empty,ar", got)
	}
	if len(h.sink.reported()) != 0 {
		t.Error("excluded conditions must not surface errors")
	}
}

func TestFactory_LegacyPipelines(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{
		"phases": ["ignored"],
		"ignored": {"steps": ["x"]},
		"pipelines": {
			"checkout": {"pre": ["a"], "processing": ["b", "c"], "post": ["d"]},
			"default": {"pre": ["d"], "processing": [], "post": []}
		}
	}`), stepDef{name: "a"}, stepDef{name: "b"}, stepDef{name: "c"}, stepDef{name: "d"}, stepDef{name: "x"})

	p := build(t, h, "checkout", domain.NewContext("", nil, nil, nil))
	if len(p.Phases) != 3 || p.Phases[0].Name != "pre" || p.Phases[1].Name != "processing" || p.Phases[2].Name != "post" {
		t.Fatalf("phases = %+v", p.Phases)
	}
	names := p.StepNames()
	if strings.Join(names["processing"], ",") != "b,c" || names["post"][0] != "d" {
		t.Errorf("steps = %v", names)
	}

	p = build(t, h, "unknown", domain.NewContext("", nil, nil, nil))
	if got := p.StepNames()["pre"]; len(got) != 1 || got[0] != "d" {
		t.Errorf("expected the default legacy entry, got %v", p.StepNames())
	}
}

func TestFactory_MinimalPipelineOnConfigError(t *testing.T) {
	resolver := &staticResolver{err: &tenantconfig.ConfigError{Tenant: "acme", Err: tenantconfig.ErrInvalidConfig}}
	h := newHarness(t, resolver, stepDef{name: MinimalPreStep}, stepDef{name: MinimalPostStep})

	ec := domain.NewContext("", nil, nil, nil)
	ec.Meta.Tenant = "acme"
	p := build(t, h, "main", ec)

	if !p.Minimal {
		t.Error("expected the minimal pipeline")
	}
	names := p.StepNames()
	if len(p.Phases) != 2 || names["pre"][0] != MinimalPreStep || names["post"][0] != MinimalPostStep {
		t.Errorf("minimal pipeline = %v", names)
	}
	if ec.Meta.Config == nil || len(ec.Meta.Config.Phases) != 0 {
		t.Errorf("expected an empty snapshot, got %+v", ec.Meta.Config)
	}
	if _, ok := ec.Meta.Value("configError"); !ok {
		t.Error("expected configError in meta")
	}

	if err := h.engine.Run(context.Background(), ec, p); err != nil {
		t.Fatalf("minimal pipeline must run, got %v", err)
	}
	if got := strings.Join(h.trace.names(), ","); got != "logRequest,formatResponse" {
		t.Errorf("ran %s", got)
	}
}

func TestFactory_UsesTenantFromMeta(t *testing.T) {
	resolver := &staticResolver{configs: map[string]*domain.PipelineConfig{
		tenantconfig.DefaultTenant: mustConfig(t, `{"phases": ["p"], "p": {"steps": ["a"]}}`),
		"acme":                     mustConfig(t, `{"phases": ["p"], "p": {"steps": ["b"]}}`),
	}}
	h := newHarness(t, resolver, stepDef{name: "a"}, stepDef{name: "b"})

	ec := domain.NewContext("", nil, nil, nil)
	ec.Meta.Tenant = "acme"
	if got := build(t, h, "main", ec).StepNames()["p"]; got[0] != "b" {
		t.Errorf("acme steps = %v", got)
	}
	if got := build(t, h, "main", domain.NewContext("", nil, nil, nil)).StepNames()["p"]; got[0] != "a" {
		t.Errorf("default steps = %v", got)
	}
}

func TestFactory_UnknownStepIsDropped(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{"phases": ["p"], "p": {"steps": ["a", "ghost", "b"]}}`),
		stepDef{name: "a"}, stepDef{name: "b"})

	p := build(t, h, "main", domain.NewContext("req", nil, nil, nil))
	if got := strings.Join(p.StepNames()["p"], ","); got != "a,b" {
		t.Errorf("steps = %s, want a,b", got)
	}
	reported := h.sink.reported()
	if len(reported) != 1 || reported[0].Step != "ghost" {
		t.Errorf("reported = %+v", reported)
	}
}

func TestFactory_ConfigOverride(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{
		"phases": ["p"],
		"p": {"steps": [
			{"name": "a", "parallel": true},
			{"name": "b", "parallel": true, "configOverride": {"parallelizable": false, "onError": "continue"}},
			{"name": "c", "configOverride": {"url": "http://example.test", "retries": 2}}
		]}
	}`),
		stepDef{name: "a", onError: ports.OnErrorStop},
		stepDef{name: "b", onError: ports.OnErrorStop},
		stepDef{name: "c"},
	)

	steps, ok := build(t, h, "main", domain.NewContext("", nil, nil, nil)).Phase("p")
	if !ok || len(steps) != 3 {
		t.Fatalf("steps = %+v", steps)
	}

	if !steps[0].Config.Parallelizable || steps[0].Config.OnError != ports.OnErrorStop {
		t.Errorf("a config = %+v", steps[0].Config)
	}
	if steps[1].Config.Parallelizable || steps[1].Config.OnError != ports.OnErrorContinue {
		t.Errorf("configOverride must win, b config = %+v", steps[1].Config)
	}
	if steps[2].Config.Options["url"] != "http://example.test" {
		t.Errorf("c options = %v", steps[2].Config.Options)
	}
	if got := steps[2].Step.(*testStep).options["retries"]; got != float64(2) {
		t.Errorf("SetOptions not called with options, got %v", got)
	}
}

func TestFactory_InvalidOverrideDropsElement(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{
		"phases": ["p"],
		"p": {"steps": [
			{"name": "a", "configOverride": {"onError": 3}},
			{"name": "b", "configOverride": {"reject": true}},
			"c"
		]}
	}`), stepDef{name: "a"}, stepDef{name: "b"}, stepDef{name: "c"})

	p := build(t, h, "main", domain.NewContext("", nil, nil, nil))
	if got := strings.Join(p.StepNames()["p"], ","); got != "c" {
		t.Errorf("steps = %s, want c", got)
	}
	if len(h.sink.reported()) != 2 {
		t.Errorf("reported = %+v", h.sink.reported())
	}
}

// plainStep does not implement Configurable.
type plainStep struct{}

func (plainStep) Name() string                                   { return "plain" }
func (plainStep) Execute(context.Context, *domain.Context) error { return nil }

func TestFactory_DefaultsForPlainSteps(t *testing.T) {
	reg := registry.MustNew(registry.Factory{Name: "plain", Create: func() ports.Step { return plainStep{} }})
	f := NewFactory(defaultResolver(t, `{"phases": ["p"], "p": {"steps": ["plain"]}}`), nil, reg)

	p, err := f.Build(context.Background(), "main", domain.NewContext("", nil, nil, nil))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	steps, _ := p.Phase("p")
	if steps[0].Config.OnError != ports.OnErrorStop || steps[0].Config.Parallelizable {
		t.Errorf("config = %+v, want stop and sequential", steps[0].Config)
	}
}

func TestFactory_FreshInstancesPerBuild(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{"phases": ["p"], "p": {"steps": ["a"]}}`), stepDef{name: "a"})
	first, _ := build(t, h, "main", domain.NewContext("", nil, nil, nil)).Phase("p")
	second, _ := build(t, h, "main", domain.NewContext("", nil, nil, nil)).Phase("p")
	if first[0].Step == second[0].Step {
		t.Error("steps must never be reused between requests")
	}
}

func TestFactory_CancelledContext(t *testing.T) {
	h := newHarness(t, defaultResolver(t, `{"phases": ["p"]}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.factory.Build(ctx, "main", domain.NewContext("", nil, nil, nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
