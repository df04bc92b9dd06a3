package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

const tracerName = "github.com/nicofx/widu-factory/pipeline"

// TracingSink turns step lifecycle events into spans: StepStarted opens a
// span and the matching StepSucceeded or StepFailed ends it.
type TracingSink struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string][]trace.Span
}

var _ ports.AuditSink = (*TracingSink)(nil)

// NewTracingSink creates a sink using tracer, or the global provider's
// tracer when nil.
func NewTracingSink(tracer trace.Tracer) *TracingSink {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingSink{
		tracer: tracer,
		spans:  make(map[string][]trace.Span),
	}
}

func (s *TracingSink) Emit(ctx context.Context, ev domain.AuditEvent) error {
	requestID, _ := ev.Payload["requestId"].(string)
	phase, _ := ev.Payload["phase"].(string)
	step, _ := ev.Payload["step"].(string)
	key := requestID + "/" + phase + "/" + step

	switch ev.Event {
	case domain.EventStepStarted:
		_, span := s.tracer.Start(ctx, "step "+step,
			trace.WithTimestamp(ev.Timestamp),
			trace.WithAttributes(
				attribute.String("pipeline.request_id", requestID),
				attribute.String("pipeline.phase", phase),
				attribute.String("pipeline.step", step),
			))
		s.mu.Lock()
		s.spans[key] = append(s.spans[key], span)
		s.mu.Unlock()
		return nil

	case domain.EventStepSucceeded, domain.EventStepFailed:
		span, ok := s.pop(key)
		if !ok {
			return fmt.Errorf("no open span for %s", key)
		}
		if d, ok := ev.Payload["durationMs"].(int64); ok {
			span.SetAttributes(attribute.Int64("pipeline.duration_ms", d))
		}
		if ev.Event == domain.EventStepFailed {
			msg, _ := ev.Payload["error"].(string)
			span.RecordError(errors.New(msg))
			span.SetStatus(codes.Error, msg)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End(trace.WithTimestamp(ev.Timestamp))
		return nil
	}
	return nil
}

// pop removes the oldest open span for key.
func (s *TracingSink) pop(key string) (trace.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.spans[key]
	if len(open) == 0 {
		return nil, false
	}
	span := open[0]
	if len(open) == 1 {
		delete(s.spans, key)
	} else {
		s.spans[key] = open[1:]
	}
	return span, true
}

// Open returns the number of spans started and not yet ended.
func (s *TracingSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, open := range s.spans {
		n += len(open)
	}
	return n
}
