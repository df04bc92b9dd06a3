// Package audit distributes pipeline records to the configured sinks.
package audit

import (
	"context"
	"errors"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// Fanout forwards every record to each sink that accepts its kind.
// All sinks are called even when some fail; the failures are joined.
type Fanout struct {
	audit  []ports.AuditSink
	logs   []ports.LogSink
	errors []ports.ErrorSink
}

var _ ports.Sink = (*Fanout)(nil)

// NewFanout sorts sinks by the interfaces they implement. A value may
// implement any combination of ports.AuditSink, ports.LogSink and
// ports.ErrorSink; nil values and values implementing none are ignored.
func NewFanout(sinks ...any) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if a, ok := s.(ports.AuditSink); ok {
			f.audit = append(f.audit, a)
		}
		if l, ok := s.(ports.LogSink); ok {
			f.logs = append(f.logs, l)
		}
		if e, ok := s.(ports.ErrorSink); ok {
			f.errors = append(f.errors, e)
		}
	}
	return f
}

func (f *Fanout) Emit(ctx context.Context, ev domain.AuditEvent) error {
	var errs []error
	for _, s := range f.audit {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Record(ctx context.Context, requestID string, entry domain.StepLog) error {
	var errs []error
	for _, s := range f.logs {
		if err := s.Record(ctx, requestID, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Report(ctx context.Context, requestID string, rec domain.ErrorRecord) error {
	var errs []error
	for _, s := range f.errors {
		if err := s.Report(ctx, requestID, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
