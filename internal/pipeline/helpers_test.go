package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicofx/widu-factory/internal/condition"
	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

// trace records step executions across a run.
type trace struct {
	mu    sync.Mutex
	order []string
}

func (tr *trace) add(name string) {
	tr.mu.Lock()
	tr.order = append(tr.order, name)
	tr.mu.Unlock()
}

func (tr *trace) names() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, len(tr.order))
	copy(out, tr.order)
	return out
}

func (tr *trace) ran(name string) bool {
	for _, n := range tr.names() {
		if n == name {
			return true
		}
	}
	return false
}

// testStep is a configurable step used by the pipeline tests.
type testStep struct {
	name    string
	onError ports.ErrorPolicy
	err     error
	delay   time.Duration
	trace   *trace
	exec    func(ctx context.Context, ec *domain.Context) error
	options map[string]any
}

func (s *testStep) Name() string { return s.name }

func (s *testStep) DefaultConfig() ports.StepConfig {
	return ports.StepConfig{OnError: s.onError}
}

func (s *testStep) SetOptions(opts map[string]any) error {
	if v, ok := opts["reject"]; ok && v == true {
		return errors.New("rejected options")
	}
	s.options = opts
	return nil
}

func (s *testStep) Execute(ctx context.Context, ec *domain.Context) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.trace != nil {
		s.trace.add(s.name)
	}
	if s.exec != nil {
		return s.exec(ctx, ec)
	}
	return s.err
}

// stepDef declares a registered test step.
type stepDef struct {
	name    string
	onError ports.ErrorPolicy
	err     error
	delay   time.Duration
	exec    func(ctx context.Context, ec *domain.Context) error
}

func newTestRegistry(t *testing.T, tr *trace, defs ...stepDef) *registry.Registry {
	t.Helper()
	factories := make([]registry.Factory, 0, len(defs))
	for _, d := range defs {
		d := d
		factories = append(factories, registry.Factory{
			Name: d.name,
			Create: func() ports.Step {
				return &testStep{
					name:    d.name,
					onError: d.onError,
					err:     d.err,
					delay:   d.delay,
					exec:    d.exec,
					trace:   tr,
				}
			},
		})
	}
	reg, err := registry.New(factories...)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

// staticResolver returns fixed configurations per tenant.
type staticResolver struct {
	configs map[string]*domain.PipelineConfig
	err     error
}

func (r *staticResolver) Resolve(_ context.Context, tenant string) (*domain.PipelineConfig, error) {
	if r.err != nil {
		return nil, r.err
	}
	if tenant == "" {
		tenant = tenantconfig.DefaultTenant
	}
	cfg, ok := r.configs[tenant]
	if !ok {
		return nil, &tenantconfig.ConfigError{Tenant: tenant, Err: tenantconfig.ErrNoConfiguration}
	}
	return cfg, nil
}

func mustConfig(t *testing.T, doc string) *domain.PipelineConfig {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	cfg, err := tenantconfig.Decode("test", raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return cfg
}

func defaultResolver(t *testing.T, doc string) *staticResolver {
	return &staticResolver{configs: map[string]*domain.PipelineConfig{
		tenantconfig.DefaultTenant: mustConfig(t, doc),
	}}
}

// captureSink records everything the engine and factory emit.
type captureSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	logs   []domain.StepLog
	errs   []domain.ErrorRecord
	fail   bool
}

func (s *captureSink) Emit(_ context.Context, ev domain.AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *captureSink) Record(_ context.Context, _ string, entry domain.StepLog) error {
	s.mu.Lock()
	s.logs = append(s.logs, entry)
	s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *captureSink) Report(_ context.Context, _ string, rec domain.ErrorRecord) error {
	s.mu.Lock()
	s.errs = append(s.errs, rec)
	s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

// started returns the steps with a StepStarted event in phase.
func (s *captureSink) started(phase string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.Event == domain.EventStepStarted && ev.Payload["phase"] == phase {
			out = append(out, ev.Payload["step"].(string))
		}
	}
	return out
}

func (s *captureSink) reported() []domain.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ErrorRecord, len(s.errs))
	copy(out, s.errs)
	return out
}

// harness builds and runs pipelines for one test.
type harness struct {
	factory *Factory
	engine  *Engine
	sink    *captureSink
	trace   *trace
}

func newHarness(t *testing.T, resolver ports.ConfigResolver, defs ...stepDef) *harness {
	t.Helper()
	tr := &trace{}
	sink := &captureSink{}
	reg := newTestRegistry(t, tr, defs...)
	return &harness{
		factory: NewFactory(resolver, condition.New(), reg, WithFactoryErrorSink(sink)),
		engine:  NewEngine(WithSink(sink)),
		sink:    sink,
		trace:   tr,
	}
}

func (h *harness) run(t *testing.T, pipelineName string, ec *domain.Context) error {
	t.Helper()
	ctx := context.Background()
	p, err := h.factory.Build(ctx, pipelineName, ec)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return h.engine.Run(ctx, ec, p)
}
