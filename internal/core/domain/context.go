package domain

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the execution context for a single request.
// Exactly one Context exists per in-flight request and it is owned by the
// pipeline engine for the lifetime of the run.
//
// Headers and User are populated by the caller before the run and are
// read-only. The body, logs, errors, the value bag and the response are
// guarded so that parallel steps can write them without corrupting memory;
// concurrent writers to the same field still race on ordering (last write
// wins).
type Context struct {
	RequestID string
	Headers   map[string]string
	User      map[string]any

	Meta Meta

	mu       sync.Mutex
	body     map[string]any
	errors   []ErrorRecord
	response any
}

// Meta is the mutable extension bag carried by a Context.
type Meta struct {
	// Tenant is the tenant the configuration was resolved for.
	Tenant string
	// Pipeline is the name of the pipeline being executed.
	Pipeline string
	// Config is the resolved configuration snapshot for this request.
	Config *PipelineConfig

	mu     sync.Mutex
	logs   []StepLog
	values map[string]any
}

// ErrorRecord is one entry of Context errors.
type ErrorRecord struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewContext creates a Context for a request. An empty requestID is replaced
// by a random UUID. Header names are lower-cased.
func NewContext(requestID string, body map[string]any, headers map[string]string, user map[string]any) *Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if body == nil {
		body = make(map[string]any)
	}
	if user == nil {
		user = make(map[string]any)
	}
	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		normalized[strings.ToLower(k)] = v
	}
	return &Context{
		RequestID: requestID,
		body:      body,
		Headers:   normalized,
		User:      user,
	}
}

// Header returns a request header by case-insensitive name.
func (c *Context) Header(name string) string {
	return c.Headers[strings.ToLower(name)]
}

// Body returns the request body. The map must not be modified in place;
// steps that rewrite the body replace it with SetBody.
func (c *Context) Body() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

// SetBody replaces the request body. A nil body becomes an empty map.
func (c *Context) SetBody(body map[string]any) {
	if body == nil {
		body = make(map[string]any)
	}
	c.mu.Lock()
	c.body = body
	c.mu.Unlock()
}

// AppendError records a step failure.
func (c *Context) AppendError(rec ErrorRecord) {
	c.mu.Lock()
	c.errors = append(c.errors, rec)
	c.mu.Unlock()
}

// Errors returns a copy of the recorded errors in append order.
func (c *Context) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord, len(c.errors))
	copy(out, c.errors)
	return out
}

// SetResponse stores the final output of the request.
func (c *Context) SetResponse(v any) {
	c.mu.Lock()
	c.response = v
	c.mu.Unlock()
}

// Response returns the final output, or nil if no step produced one.
func (c *Context) Response() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// AppendLog appends a step execution log entry.
func (m *Meta) AppendLog(l StepLog) {
	m.mu.Lock()
	m.logs = append(m.logs, l)
	m.mu.Unlock()
}

// Logs returns a copy of the step execution log in append order.
func (m *Meta) Logs() []StepLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StepLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// SetValue stores an arbitrary value in the extension bag.
func (m *Meta) SetValue(key string, v any) {
	m.mu.Lock()
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = v
	m.mu.Unlock()
}

// Value reads a value from the extension bag.
func (m *Meta) Value(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Values returns a shallow copy of the extension bag.
func (m *Meta) Values() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
