package domain

import (
	"time"
)

// AuditEvent is a fire-and-forget record of a step lifecycle transition.
type AuditEvent struct {
	Event     AuditEventType `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditEventType identifies the lifecycle transition.
type AuditEventType string

const (
	EventStepStarted   AuditEventType = "StepStarted"
	EventStepSucceeded AuditEventType = "StepSucceeded"
	EventStepFailed    AuditEventType = "StepFailed"
)

// StepStatus is the outcome recorded in a StepLog.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
	StepStatusSkipped StepStatus = "skipped"
)

// StepLog is one entry of the per-request step execution log.
type StepLog struct {
	Phase      string         `json:"phase"`
	Step       string         `json:"step"`
	Status     StepStatus     `json:"status"`
	DurationMs int64          `json:"durationMs"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewAuditEvent builds an event for a step of a request.
func NewAuditEvent(t AuditEventType, requestID, phase, step string, extra map[string]any) AuditEvent {
	payload := map[string]any{
		"requestId": requestID,
		"phase":     phase,
		"step":      step,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return AuditEvent{
		Event:     t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
