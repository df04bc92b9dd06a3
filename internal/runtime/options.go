package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/pkg/config"
	"github.com/nicofx/widu-factory/internal/pkg/safehttp"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/steps"
	"github.com/nicofx/widu-factory/internal/storage"
	"github.com/nicofx/widu-factory/internal/telemetry"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

// Option is a functional option for configuring a Runtime.
type Option func(*Runtime) error

// WithConfigDir uses file-based tenant configuration rooted at dir (default).
// A non-positive ttl keeps the default cache window.
func WithConfigDir(dir string, ttl time.Duration) Option {
	return func(r *Runtime) error {
		opts := []tenantconfig.Option{tenantconfig.WithLogger(r.logger)}
		if ttl > 0 {
			opts = append(opts, tenantconfig.WithTTL(ttl))
		}
		resolver, err := tenantconfig.NewResolver(dir, opts...)
		if err != nil {
			return fmt.Errorf("create config resolver: %w", err)
		}
		r.resolver = resolver
		r.files = resolver
		return nil
	}
}

// WithResolver sets a custom configuration resolver.
func WithResolver(resolver ports.ConfigResolver) Option {
	return func(r *Runtime) error {
		r.resolver = resolver
		if files, ok := resolver.(*tenantconfig.Resolver); ok {
			r.files = files
		}
		return nil
	}
}

// WithWatch enables hot reload of the configuration directory on Start.
func WithWatch(enabled bool) Option {
	return func(r *Runtime) error {
		r.watch = enabled
		return nil
	}
}

// WithEvaluator sets a custom condition evaluator.
func WithEvaluator(evaluator ports.ConditionEvaluator) Option {
	return func(r *Runtime) error {
		r.evaluator = evaluator
		return nil
	}
}

// WithRegistry replaces the step registry. Built-in steps are only
// available if the registry includes them.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Runtime) error {
		r.registry = reg
		return nil
	}
}

// WithSteps registers additional steps next to the built-ins.
func WithSteps(factories ...registry.Factory) Option {
	return func(r *Runtime) error {
		r.extraSteps = append(r.extraSteps, factories...)
		return nil
	}
}

// WithStepOptions configures the built-in steps.
func WithStepOptions(opts ...steps.Option) Option {
	return func(r *Runtime) error {
		r.stepOpts = append(r.stepOpts, opts...)
		return nil
	}
}

// WithAuditStore sets where step events, logs and errors are kept.
func WithAuditStore(store ports.AuditStore) Option {
	return func(r *Runtime) error {
		r.store = store
		return nil
	}
}

// WithSQLite keeps audit records in a SQLite database at path.
func WithSQLite(path string) Option {
	return func(r *Runtime) error {
		store, err := storage.Open(path, 0)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		r.store = store
		return nil
	}
}

// WithSink adds a receiver of audit events, step logs or errors. The value
// may implement any of ports.AuditSink, ports.LogSink and ports.ErrorSink.
func WithSink(sink any) Option {
	return func(r *Runtime) error {
		r.sinks = append(r.sinks, sink)
		return nil
	}
}

// WithTracing records one span per step. A nil tracer uses the global provider.
func WithTracing(tracer trace.Tracer) Option {
	return func(r *Runtime) error {
		r.sinks = append(r.sinks, telemetry.NewTracingSink(tracer))
		return nil
	}
}

// WithMetrics registers step metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Runtime) error {
		metrics, err := telemetry.NewMetricsSink("widu", reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		r.sinks = append(r.sinks, metrics)
		return nil
	}
}

// WithTenantHeader sets the header carrying the tenant id and the tenant
// used when it is absent.
func WithTenantHeader(header, fallback string) Option {
	return func(r *Runtime) error {
		r.tenantHeader = header
		r.defaultTenant = fallback
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = logger
		return nil
	}
}

// FromConfig applies the service configuration. reg receives metrics when
// metrics are enabled and may be nil otherwise.
func FromConfig(cfg *config.Config, reg prometheus.Registerer) []Option {
	opts := []Option{
		WithTenantHeader(cfg.Pipelines.TenantHeader, cfg.Pipelines.DefaultTenant),
		WithConfigDir(cfg.Pipelines.Dir, cfg.Pipelines.CacheTTL),
		WithWatch(cfg.Pipelines.Watch),
		WithStepOptions(steps.WithHTTPClient(safehttp.NewClient(cfg.Webhook.AllowPrivateNetworks))),
	}

	opts = append(opts, func(r *Runtime) error {
		store, err := storage.Open(cfg.Audit.SQLitePath, cfg.Audit.MaxRequests)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		r.store = store
		return nil
	})

	if cfg.Telemetry.Tracing {
		opts = append(opts, WithTracing(nil))
	}
	if cfg.Telemetry.Metrics && reg != nil {
		opts = append(opts, WithMetrics(reg))
	}
	return opts
}
