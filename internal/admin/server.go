// Package admin serves the operational HTTP surface of the engine: health,
// metrics, tenant configuration inspection and per-request audit queries.
// It does not accept pipeline requests.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/tenant"
)

// Backend is what the admin surface inspects.
type Backend interface {
	Resolve(ctx context.Context, tenantID string) (*domain.PipelineConfig, error)
	Invalidate(tenantID string) bool
	Store() ports.AuditReader
}

// StepLister is optionally implemented by backends that expose their
// registered steps.
type StepLister interface {
	Steps() []registry.Factory
}

type Server struct {
	Router  *chi.Mux
	Addr    string
	backend Backend
	logger  *slog.Logger
	server  *http.Server

	gatherer prometheus.Gatherer
	timeout  time.Duration
	tenants  *tenant.Extractor
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTenantHeader sets the header that tags admin requests with a tenant.
func WithTenantHeader(header string) Option {
	return func(s *Server) {
		s.tenants = tenant.NewExtractor(header, "")
	}
}

// WithTimeout bounds the handling time of each request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

func New(addr string, backend Backend, logger *slog.Logger, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		Router:  r,
		Addr:    addr,
		backend: backend,
		logger:  logger,
		tenants: tenant.NewExtractor(tenant.DefaultHeader, ""),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(s.tenants.Middleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "widu-admin")
	})

	if s.timeout > 0 {
		r.Use(TimeoutMiddleware(s.timeout))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Get("/steps", s.handleSteps)
	if s.gatherer != nil {
		s.Router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.Router.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Use(TenantParamMiddleware)
		r.Get("/config", s.handleTenantConfig)
		r.Post("/invalidate", s.handleInvalidate)
	})
	s.Router.Route("/requests/{id}", func(r chi.Router) {
		r.Get("/logs", s.handleRequestLogs)
		r.Get("/events", s.handleRequestEvents)
		r.Get("/errors", s.handleRequestErrors)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on Addr until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting admin server", slog.String("addr", s.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
