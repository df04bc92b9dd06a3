package audit

import (
	"context"
	"log/slog"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// LogSink writes audit events as structured log lines at debug level.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.AuditSink = (*LogSink)(nil)

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev domain.AuditEvent) error {
	attrs := make([]slog.Attr, 0, len(ev.Payload)+1)
	attrs = append(attrs, slog.String("event", string(ev.Event)))
	for k, v := range ev.Payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "audit event", attrs...)
	return nil
}
