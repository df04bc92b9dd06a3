// Package sqlite persists audit events, step logs and step errors in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// Store is a SQLite implementation of ports.AuditStore.
type Store struct {
	db *sql.DB
}

var _ ports.AuditStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			event TEXT NOT NULL,
			phase TEXT,
			step TEXT,
			payload TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS step_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			details TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS step_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			step TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_request ON audit_events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_logs_request ON step_logs(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_errors_request ON step_errors(request_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Emit stores an audit event. Phase and step are lifted out of the payload
// so events can be filtered without decoding it.
func (s *Store) Emit(ctx context.Context, ev domain.AuditEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	requestID, _ := ev.Payload["requestId"].(string)
	phase, _ := ev.Payload["phase"].(string)
	step, _ := ev.Payload["step"].(string)

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `INSERT INTO audit_events (request_id, event, phase, step, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, requestID, string(ev.Event), phase, step, string(payload), ts); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Record stores a step log entry.
func (s *Store) Record(ctx context.Context, requestID string, entry domain.StepLog) error {
	var details sql.NullString
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO step_logs (request_id, phase, step, status, duration_ms, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, requestID, entry.Phase, entry.Step,
		string(entry.Status), entry.DurationMs, details, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert step log: %w", err)
	}
	return nil
}

// Report stores a step error record.
func (s *Store) Report(ctx context.Context, requestID string, rec domain.ErrorRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	query := `INSERT INTO step_errors (request_id, step, message, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, requestID, rec.Step, rec.Message, ts); err != nil {
		return fmt.Errorf("failed to insert step error: %w", err)
	}
	return nil
}

// AuditEvents returns the events of a request in insertion order.
func (s *Store) AuditEvents(ctx context.Context, requestID string) ([]ports.StoredEvent, error) {
	query := `SELECT request_id, event, phase, step, payload, created_at
		FROM audit_events WHERE request_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []ports.StoredEvent
	for rows.Next() {
		var ev ports.StoredEvent
		var event string
		var phase, step, payload sql.NullString
		if err := rows.Scan(&ev.RequestID, &event, &phase, &step, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Event = domain.AuditEventType(event)
		ev.Phase = phase.String
		ev.Step = step.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// StepLogs returns the step log of a request in insertion order.
func (s *Store) StepLogs(ctx context.Context, requestID string) ([]domain.StepLog, error) {
	query := `SELECT phase, step, status, duration_ms, details
		FROM step_logs WHERE request_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.StepLog
	for rows.Next() {
		var entry domain.StepLog
		var status string
		var details sql.NullString
		if err := rows.Scan(&entry.Phase, &entry.Step, &status, &entry.DurationMs, &details); err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}
		entry.Status = domain.StepStatus(status)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// Errors returns the step errors of a request in insertion order.
func (s *Store) Errors(ctx context.Context, requestID string) ([]domain.ErrorRecord, error) {
	query := `SELECT step, message, created_at FROM step_errors WHERE request_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step errors: %w", err)
	}
	defer rows.Close()

	var errs []domain.ErrorRecord
	for rows.Next() {
		var rec domain.ErrorRecord
		if err := rows.Scan(&rec.Step, &rec.Message, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan step error: %w", err)
		}
		errs = append(errs, rec)
	}
	return errs, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
