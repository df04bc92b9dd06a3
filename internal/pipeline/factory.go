package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
)

// Steps of the built-in pipeline used when no configuration resolves.
const (
	MinimalPreStep  = "logRequest"
	MinimalPostStep = "formatResponse"
)

// DefaultPipeline is the legacy pipelines entry used when the requested
// name has none.
const DefaultPipeline = "default"

// configOverride keys that map onto StepConfig fields.
const (
	overrideOnError        = "onError"
	overrideParallelizable = "parallelizable"
)

// StepInstance is one step created for one request, with its effective
// configuration.
type StepInstance struct {
	Name   string
	Step   ports.Step
	Config ports.StepConfig
}

// PhaseSteps is the ordered step list of one phase.
type PhaseSteps struct {
	Name  string
	Steps []*StepInstance
}

// Pipeline is the ordered phase -> steps structure built for one request.
type Pipeline struct {
	Name   string
	Phases []PhaseSteps
	// Minimal is set when the built-in fallback pipeline was returned.
	Minimal bool
}

// Phase returns the steps of the named phase.
func (p *Pipeline) Phase(name string) ([]*StepInstance, bool) {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph.Steps, true
		}
	}
	return nil, false
}

// StepNames returns the step names of every phase, keyed by phase.
func (p *Pipeline) StepNames() map[string][]string {
	out := make(map[string][]string, len(p.Phases))
	for _, ph := range p.Phases {
		names := make([]string, len(ph.Steps))
		for i, s := range ph.Steps {
			names[i] = s.Name
		}
		out[ph.Name] = names
	}
	return out
}

// Factory builds pipelines from tenant configuration.
// It holds no per-request state and may be shared by concurrent requests.
type Factory struct {
	resolver  ports.ConfigResolver
	evaluator ports.ConditionEvaluator
	registry  *registry.Registry
	errors    ports.ErrorSink
	logger    *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithFactoryLogger sets the factory logger.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithFactoryErrorSink reports dropped elements to sink.
func WithFactoryErrorSink(sink ports.ErrorSink) FactoryOption {
	return func(f *Factory) {
		f.errors = sink
	}
}

// NewFactory creates a pipeline factory.
func NewFactory(resolver ports.ConfigResolver, evaluator ports.ConditionEvaluator, reg *registry.Registry, opts ...FactoryOption) *Factory {
	f := &Factory{
		resolver:  resolver,
		evaluator: evaluator,
		registry:  reg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build creates the pipeline named pipelineName for the request in ec.
//
// The resolved configuration is stored in ec.Meta.Config. A configuration
// that cannot be resolved does not fail the request: the minimal built-in
// pipeline is returned instead and an empty snapshot is stored. Build only
// fails when ctx is done.
func (f *Factory) Build(ctx context.Context, pipelineName string, ec *domain.Context) (*Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ec.Meta.Pipeline = pipelineName

	cfg, err := f.resolver.Resolve(ctx, ec.Meta.Tenant)
	if err != nil {
		f.logger.Warn("pipeline configuration unavailable, using minimal pipeline",
			slog.String("request_id", ec.RequestID),
			slog.String("tenant", ec.Meta.Tenant),
			slog.String("pipeline", pipelineName),
			slog.String("error", err.Error()))
		ec.Meta.Config = &domain.PipelineConfig{}
		ec.Meta.SetValue("configError", err.Error())
		return f.minimal(ctx, pipelineName, ec), nil
	}
	ec.Meta.Config = cfg

	if legacy, name, ok := legacyPipeline(cfg, pipelineName); ok {
		f.logger.Debug("building legacy pipeline",
			slog.String("request_id", ec.RequestID),
			slog.String("pipeline", name))
		return f.buildLegacy(ctx, pipelineName, legacy, ec), nil
	}

	p := &Pipeline{Name: pipelineName, Phases: make([]PhaseSteps, 0, len(cfg.Phases))}
	for _, phase := range cfg.Phases {
		spec := cfg.PhaseSpecs[phase]
		elems := spec.Elements()
		steps := make([]*StepInstance, 0, len(elems))
		for _, el := range elems {
			if el.Condition != "" && !f.evaluator.Evaluate(el.Condition, ec) {
				continue
			}
			inst, err := f.instantiate(el)
			if err != nil {
				f.drop(ctx, ec, phase, el.Name, err)
				continue
			}
			steps = append(steps, inst)
		}
		p.Phases = append(p.Phases, PhaseSteps{Name: phase, Steps: steps})
	}
	return p, nil
}

func legacyPipeline(cfg *domain.PipelineConfig, name string) (domain.LegacyPipeline, string, bool) {
	if len(cfg.Pipelines) == 0 {
		return domain.LegacyPipeline{}, "", false
	}
	if lp, ok := cfg.Pipelines[name]; ok {
		return lp, name, true
	}
	if lp, ok := cfg.Pipelines[DefaultPipeline]; ok {
		return lp, DefaultPipeline, true
	}
	return domain.LegacyPipeline{}, "", false
}

func (f *Factory) buildLegacy(ctx context.Context, pipelineName string, lp domain.LegacyPipeline, ec *domain.Context) *Pipeline {
	p := &Pipeline{Name: pipelineName, Phases: make([]PhaseSteps, 0, len(domain.LegacyPhases))}
	for _, phase := range domain.LegacyPhases {
		names := lp.Phase(phase)
		steps := make([]*StepInstance, 0, len(names))
		for _, name := range names {
			inst, err := f.instantiate(domain.Element{Name: name})
			if err != nil {
				f.drop(ctx, ec, phase, name, err)
				continue
			}
			steps = append(steps, inst)
		}
		p.Phases = append(p.Phases, PhaseSteps{Name: phase, Steps: steps})
	}
	return p
}

func (f *Factory) minimal(ctx context.Context, pipelineName string, ec *domain.Context) *Pipeline {
	p := &Pipeline{Name: pipelineName, Minimal: true}
	for _, ph := range []struct{ phase, step string }{
		{domain.PhasePre, MinimalPreStep},
		{domain.PhasePost, MinimalPostStep},
	} {
		var steps []*StepInstance
		inst, err := f.instantiate(domain.Element{Name: ph.step})
		if err != nil {
			f.drop(ctx, ec, ph.phase, ph.step, err)
		} else {
			steps = append(steps, inst)
		}
		p.Phases = append(p.Phases, PhaseSteps{Name: ph.phase, Steps: steps})
	}
	return p
}

// instantiate creates the step of el and applies the element's parallel
// flag and configOverride on top of the step's own defaults.
func (f *Factory) instantiate(el domain.Element) (*StepInstance, error) {
	step, err := f.registry.Create(el.Name)
	if err != nil {
		return nil, err
	}

	cfg := ports.DefaultStepConfig()
	if c, ok := step.(ports.Configurable); ok {
		cfg = c.DefaultConfig().Clone()
	}
	if el.Parallel != nil {
		cfg.Parallelizable = *el.Parallel
	}
	if err := applyOverride(&cfg, el.ConfigOverride); err != nil {
		return nil, fmt.Errorf("step %q: %w", el.Name, err)
	}

	if oa, ok := step.(ports.OptionsAware); ok {
		if err := oa.SetOptions(cfg.Options); err != nil {
			return nil, fmt.Errorf("step %q options: %w", el.Name, err)
		}
	}

	return &StepInstance{Name: el.Name, Step: step, Config: cfg}, nil
}

func applyOverride(cfg *ports.StepConfig, override map[string]any) error {
	for k, v := range override {
		switch k {
		case overrideOnError:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("configOverride.%s must be a string, got %T", k, v)
			}
			cfg.OnError = ports.ErrorPolicy(s)
		case overrideParallelizable:
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("configOverride.%s must be a boolean, got %T", k, v)
			}
			cfg.Parallelizable = b
		default:
			if cfg.Options == nil {
				cfg.Options = make(map[string]any, len(override))
			}
			cfg.Options[k] = v
		}
	}
	return nil
}

// drop logs and reports an element that could not be instantiated.
// The rest of the pipeline is still built.
func (f *Factory) drop(ctx context.Context, ec *domain.Context, phase, step string, err error) {
	f.logger.Warn("dropping pipeline element",
		slog.String("request_id", ec.RequestID),
		slog.String("tenant", ec.Meta.Tenant),
		slog.String("phase", phase),
		slog.String("step", step),
		slog.String("error", err.Error()))

	if f.errors == nil {
		return
	}
	rec := domain.ErrorRecord{Step: step, Message: err.Error(), Timestamp: time.Now().UTC()}
	if rerr := f.errors.Report(ctx, ec.RequestID, rec); rerr != nil {
		f.logger.Debug("error sink failed", slog.String("error", rerr.Error()))
	}
}
