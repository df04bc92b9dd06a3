package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook actions.
const (
	ActionAllow  = "allow"
	ActionDeny   = "deny"
	ActionMutate = "mutate"
)

// ErrDenied is wrapped by the error a webhook step returns on deny.
var ErrDenied = errors.New("denied by webhook")

// WebhookInput is the JSON document posted to the endpoint.
type WebhookInput struct {
	RequestID string            `json:"requestId"`
	Tenant    string            `json:"tenant,omitempty"`
	Pipeline  string            `json:"pipeline,omitempty"`
	Body      map[string]any    `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
	User      map[string]any    `json:"user,omitempty"`
	Meta      map[string]any    `json:"meta,omitempty"`
}

// WebhookOutput is the JSON document the endpoint answers with.
type WebhookOutput struct {
	Action   string         `json:"action"`
	Body     map[string]any `json:"body,omitempty"`
	Response any            `json:"response,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// Webhook calls an external HTTP endpoint with the request and applies the
// returned action: allow does nothing, deny fails the step, mutate replaces
// the body and/or sets the response and meta values.
//
// Options: url (required), headers (sent on the HTTP request), forwardHeaders
// (request header names copied into the posted document; none by default),
// timeout (duration string, default 5s), retries (extra attempts on
// transport or status failures).
type Webhook struct {
	url     string
	headers map[string]string
	forward []string
	timeout time.Duration
	retries int
	client  *http.Client
	logger  *slog.Logger
}

// NewWebhook creates a webhook step. A nil client uses a fresh client with
// the configured timeout.
func NewWebhook(client *http.Client, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		timeout: defaultWebhookTimeout,
		client:  client,
		logger:  logger,
	}
}

func (s *Webhook) Name() string { return WebhookName }

func (s *Webhook) DefaultConfig() ports.StepConfig {
	return ports.DefaultStepConfig()
}

// SetOptions reads url, headers, timeout and retries.
func (s *Webhook) SetOptions(opts map[string]any) error {
	url, ok, err := stringOption(opts, "url")
	if err != nil {
		return err
	}
	if !ok || url == "" {
		return fmt.Errorf("option url is required")
	}
	s.url = url

	if s.headers, err = stringMapOption(opts, "headers"); err != nil {
		return err
	}
	if s.forward, err = stringListOption(opts, "forwardHeaders"); err != nil {
		return err
	}
	if d, ok, err := durationOption(opts, "timeout"); err != nil {
		return err
	} else if ok {
		s.timeout = d
	}
	if n, ok, err := intOption(opts, "retries"); err != nil {
		return err
	} else if ok {
		if n < 0 {
			return fmt.Errorf("option retries cannot be negative")
		}
		s.retries = n
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: s.timeout}
	}
	return nil
}

func (s *Webhook) Execute(ctx context.Context, ec *domain.Context) error {
	if s.url == "" {
		return fmt.Errorf("webhook url not configured")
	}

	in := &WebhookInput{
		RequestID: ec.RequestID,
		Tenant:    ec.Meta.Tenant,
		Pipeline:  ec.Meta.Pipeline,
		Body:      ec.Body(),
		Headers:   s.forwardedHeaders(ec),
		User:      ec.User,
		Meta:      ec.Meta.Values(),
	}

	var (
		out     *WebhookOutput
		lastErr error
	)
	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		out, lastErr = s.doRequest(ctx, in)
		if lastErr == nil {
			break
		}
		s.logger.Debug("webhook attempt failed",
			slog.String("request_id", ec.RequestID),
			slog.String("url", s.url),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))

		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return lastErr
	}

	return s.apply(ec, out)
}

// forwardedHeaders picks the allow-listed request headers. Names not present
// on the request are skipped.
func (s *Webhook) forwardedHeaders(ec *domain.Context) map[string]string {
	if len(s.forward) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.forward))
	for _, name := range s.forward {
		if v := ec.Header(name); v != "" {
			out[strings.ToLower(name)] = v
		}
	}
	return out
}

func (s *Webhook) doRequest(ctx context.Context, in *WebhookInput) (*WebhookOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook input: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", in.RequestID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out WebhookOutput
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("unmarshal webhook output: %w", err)
		}
	}

	switch out.Action {
	case ActionAllow, ActionDeny, ActionMutate:
	case "":
		out.Action = ActionAllow
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", out.Action)
	}
	return &out, nil
}

func (s *Webhook) apply(ec *domain.Context, out *WebhookOutput) error {
	switch out.Action {
	case ActionDeny:
		reason := out.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return fmt.Errorf("%w: %s", ErrDenied, reason)
	case ActionMutate:
		if out.Body != nil {
			ec.SetBody(out.Body)
		}
		if out.Response != nil {
			ec.SetResponse(out.Response)
		}
		for k, v := range out.Meta {
			ec.Meta.SetValue(k, v)
		}
	}
	return nil
}

var (
	_ ports.Configurable = (*Webhook)(nil)
	_ ports.OptionsAware = (*Webhook)(nil)
)
