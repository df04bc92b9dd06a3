package ports

import (
	"context"
	"time"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

// AuditSink receives step lifecycle events.
// Delivery is fire-and-forget: the engine logs and ignores returned errors.
type AuditSink interface {
	Emit(ctx context.Context, event domain.AuditEvent) error
}

// LogSink receives step execution log entries.
type LogSink interface {
	Record(ctx context.Context, requestID string, entry domain.StepLog) error
}

// ErrorSink receives step error records.
type ErrorSink interface {
	Report(ctx context.Context, requestID string, rec domain.ErrorRecord) error
}

// Sink is implemented by adapters that accept all three record kinds.
type Sink interface {
	AuditSink
	LogSink
	ErrorSink
}

// StoredEvent is an audit event as persisted for one request.
type StoredEvent struct {
	RequestID string                `json:"requestId"`
	Event     domain.AuditEventType `json:"event"`
	Phase     string                `json:"phase"`
	Step      string                `json:"step"`
	Payload   map[string]any        `json:"payload"`
	Timestamp time.Time             `json:"timestamp"`
}

// AuditReader queries what the sinks recorded for a request.
// Implementations: sqlite, memory.
type AuditReader interface {
	AuditEvents(ctx context.Context, requestID string) ([]StoredEvent, error)
	StepLogs(ctx context.Context, requestID string) ([]domain.StepLog, error)
	Errors(ctx context.Context, requestID string) ([]domain.ErrorRecord, error)
}

// AuditStore persists sink records and serves them back.
type AuditStore interface {
	Sink
	AuditReader
	Close() error
}
