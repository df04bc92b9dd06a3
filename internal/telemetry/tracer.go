// Package telemetry wires logging, tracing and metrics for the engine.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicofx/widu-factory/internal/pkg/config"
)

// Tracer is the trace pipeline step spans are exported through.
type Tracer struct {
	provider *sdktrace.TracerProvider
	closer   io.Closer
}

// TracerOption configures NewTracer.
type TracerOption func(*tracerSettings)

type tracerSettings struct {
	writer io.Writer
}

// WithTraceWriter exports spans to w instead of the configured output.
func WithTraceWriter(w io.Writer) TracerOption {
	return func(s *tracerSettings) {
		s.writer = w
	}
}

// NewTracer builds a trace pipeline exporting JSON spans to cfg.TraceOutput
// ("stdout", "stderr" or a file path, appended to). cfg.SampleRatio picks
// the fraction of new traces recorded: 1 or more records all, 0 or less
// none. Child spans follow their parent's decision.
func NewTracer(cfg config.TelemetryConfig, logger *slog.Logger, opts ...TracerOption) (*Tracer, error) {
	var settings tracerSettings
	for _, opt := range opts {
		opt(&settings)
	}

	t := &Tracer{}
	w := settings.writer
	if w == nil {
		var err error
		if w, t.closer, err = openTraceOutput(cfg.TraceOutput); err != nil {
			return nil, err
		}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	logger.Info("tracing enabled",
		slog.String("service", cfg.ServiceName),
		slog.String("output", outputName(cfg.TraceOutput, settings.writer)),
		slog.Float64("sample_ratio", cfg.SampleRatio))
	return t, nil
}

// InitTracer builds a trace pipeline and installs it as the global provider.
func InitTracer(cfg config.TelemetryConfig, logger *slog.Logger, opts ...TracerOption) (*Tracer, error) {
	t, err := NewTracer(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(t.provider)
	return t, nil
}

// Tracer returns the tracer step spans are recorded with.
func (t *Tracer) Tracer() trace.Tracer {
	return t.provider.Tracer(tracerName)
}

// Shutdown flushes pending spans and closes the output file, if any.
func (t *Tracer) Shutdown(ctx context.Context) error {
	err := t.provider.Shutdown(ctx)
	if t.closer != nil {
		err = errors.Join(err, t.closer.Close())
	}
	return err
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func openTraceOutput(name string) (io.Writer, io.Closer, error) {
	switch name {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace output: %w", err)
	}
	return f, f, nil
}

func outputName(name string, w io.Writer) string {
	if w != nil {
		return "custom"
	}
	if name == "" {
		return "stdout"
	}
	return name
}
