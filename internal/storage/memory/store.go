// Package memory keeps audit records of recent requests in process memory.
package memory

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// DefaultMaxRequests bounds how many requests are retained.
const DefaultMaxRequests = 1000

type requestRecord struct {
	mu     sync.Mutex
	events []ports.StoredEvent
	logs   []domain.StepLog
	errors []domain.ErrorRecord
}

// Store is an in-memory implementation of ports.AuditStore.
// The least recently written requests are evicted first.
type Store struct {
	mu       sync.Mutex
	requests *lru.Cache[string, *requestRecord]
}

var _ ports.AuditStore = (*Store)(nil)

// New creates a new in-memory store retaining up to maxRequests requests.
func New(maxRequests int) *Store {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	cache, _ := lru.New[string, *requestRecord](maxRequests)
	return &Store{requests: cache}
}

// record returns the record of requestID, creating it if needed.
func (s *Store) record(requestID string) *requestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.requests.Get(requestID); ok {
		return rec
	}
	rec := &requestRecord{}
	s.requests.Add(requestID, rec)
	return rec
}

func (s *Store) lookup(requestID string) (*requestRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests.Peek(requestID)
}

func (s *Store) Emit(ctx context.Context, ev domain.AuditEvent) error {
	requestID, _ := ev.Payload["requestId"].(string)
	phase, _ := ev.Payload["phase"].(string)
	step, _ := ev.Payload["step"].(string)

	rec := s.record(requestID)
	rec.mu.Lock()
	rec.events = append(rec.events, ports.StoredEvent{
		RequestID: requestID,
		Event:     ev.Event,
		Phase:     phase,
		Step:      step,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	})
	rec.mu.Unlock()
	return nil
}

func (s *Store) Record(ctx context.Context, requestID string, entry domain.StepLog) error {
	rec := s.record(requestID)
	rec.mu.Lock()
	rec.logs = append(rec.logs, entry)
	rec.mu.Unlock()
	return nil
}

func (s *Store) Report(ctx context.Context, requestID string, e domain.ErrorRecord) error {
	rec := s.record(requestID)
	rec.mu.Lock()
	rec.errors = append(rec.errors, e)
	rec.mu.Unlock()
	return nil
}

func (s *Store) AuditEvents(ctx context.Context, requestID string) ([]ports.StoredEvent, error) {
	rec, ok := s.lookup(requestID)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]ports.StoredEvent(nil), rec.events...), nil
}

func (s *Store) StepLogs(ctx context.Context, requestID string) ([]domain.StepLog, error) {
	rec, ok := s.lookup(requestID)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]domain.StepLog(nil), rec.logs...), nil
}

func (s *Store) Errors(ctx context.Context, requestID string) ([]domain.ErrorRecord, error) {
	rec, ok := s.lookup(requestID)
	if !ok {
		return nil, nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]domain.ErrorRecord(nil), rec.errors...), nil
}

// Len returns the number of retained requests.
func (s *Store) Len() int {
	return s.requests.Len()
}

func (s *Store) Close() error {
	return nil
}
