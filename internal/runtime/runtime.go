// Package runtime assembles the pipeline engine and manages its lifecycle.
//
// A Runtime owns one configuration resolver, one step registry, the factory
// and engine built on them, and the sinks that receive step records. Handle
// is the entry point a transport layer calls once per request.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nicofx/widu-factory/internal/audit"
	"github.com/nicofx/widu-factory/internal/condition"
	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/pipeline"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/steps"
	"github.com/nicofx/widu-factory/internal/storage/memory"
	"github.com/nicofx/widu-factory/internal/tenant"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

// Request is one unit of work submitted to the runtime.
type Request struct {
	RequestID string            `json:"requestId,omitempty"`
	Pipeline  string            `json:"pipeline,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      map[string]any    `json:"body,omitempty"`
	User      map[string]any    `json:"user,omitempty"`
}

// Runtime is the assembled pipeline engine.
type Runtime struct {
	// Dependencies (injected via options)
	resolver   ports.ConfigResolver
	files      *tenantconfig.Resolver
	evaluator  ports.ConditionEvaluator
	registry   *registry.Registry
	extraSteps []registry.Factory
	stepOpts   []steps.Option
	store      ports.AuditStore
	sinks      []any
	logger     *slog.Logger

	tenantHeader  string
	defaultTenant string
	watch         bool

	// Built by New
	tenants *tenant.Extractor
	factory *pipeline.Factory
	engine  *pipeline.Engine

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Runtime with the given options. A configuration source is
// required; everything else has a default.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if r.resolver == nil {
		return nil, fmt.Errorf("config resolver required (use WithConfigDir or WithResolver)")
	}

	if r.evaluator == nil {
		r.evaluator = condition.New(condition.WithLogger(r.logger))
	}
	if r.registry == nil {
		stepOpts := append([]steps.Option{steps.WithLogger(r.logger)}, r.stepOpts...)
		reg, err := steps.NewRegistry(r.extraSteps, stepOpts...)
		if err != nil {
			return nil, fmt.Errorf("create step registry: %w", err)
		}
		r.registry = reg
	}
	if r.store == nil {
		r.logger.Info("no audit store specified, keeping records in memory")
		r.store = memory.New(memory.DefaultMaxRequests)
	}

	sinks := append([]any{r.store, audit.NewLogSink(r.logger)}, r.sinks...)
	fanout := audit.NewFanout(sinks...)

	r.tenants = tenant.NewExtractor(r.tenantHeader, r.defaultTenant)
	r.factory = pipeline.NewFactory(r.resolver, r.evaluator, r.registry,
		pipeline.WithFactoryLogger(r.logger),
		pipeline.WithFactoryErrorSink(fanout))
	r.engine = pipeline.NewEngine(
		pipeline.WithSink(fanout),
		pipeline.WithLogger(r.logger))

	return r, nil
}

// Start begins watching the configuration directory when enabled.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return fmt.Errorf("runtime already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	if r.watch && r.files != nil {
		if err := r.files.Watch(r.ctx); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
	}

	r.logger.Info("runtime started",
		slog.Int("steps", len(r.registry.Names())),
		slog.Bool("watch", r.watch && r.files != nil))
	return nil
}

// Shutdown stops the watcher and closes the audit store.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("shutting down runtime")

	if r.cancel != nil {
		r.cancel()
	}

	if err := r.store.Close(); err != nil {
		r.logger.Error("failed to close audit store", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// Handle runs one request through its tenant's pipeline. The returned
// context is never nil and carries the step log, errors and response even
// when the run aborted.
func (r *Runtime) Handle(ctx context.Context, req Request) (*domain.Context, error) {
	ec := domain.NewContext(req.RequestID, req.Body, req.Headers, req.User)
	ec.Meta.Tenant = r.tenants.FromHeaders(ec.Headers)

	p, err := r.factory.Build(ctx, req.Pipeline, ec)
	if err != nil {
		return ec, err
	}
	return ec, r.engine.Run(ctx, ec, p)
}

// Resolve returns the merged configuration of a tenant.
func (r *Runtime) Resolve(ctx context.Context, tenantID string) (*domain.PipelineConfig, error) {
	return r.resolver.Resolve(ctx, tenantID)
}

// Invalidate drops the cached configuration of a tenant. It reports false
// when the resolver has no cache.
func (r *Runtime) Invalidate(tenantID string) bool {
	if r.files == nil {
		return false
	}
	r.files.Invalidate(tenantID)
	return true
}

// Store returns the audit store.
func (r *Runtime) Store() ports.AuditReader {
	return r.store
}

// Registry returns the step registry.
func (r *Runtime) Registry() *registry.Registry {
	return r.registry
}

// Steps lists the registered step factories sorted by name.
func (r *Runtime) Steps() []registry.Factory {
	return r.registry.Factories()
}
