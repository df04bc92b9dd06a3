// Package steps provides the built-in pipeline steps.
package steps

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
)

// Registered names of the built-in steps.
const (
	LogRequestName     = "logRequest"
	FormatResponseName = "formatResponse"
	WebhookName        = "webhook"
	TokenCountName     = "tokenCount"
	RequireFieldsName  = "requireFields"
	SetResponseName    = "setResponse"
)

type options struct {
	logger *slog.Logger
	client *http.Client
	model  string
}

// Option configures the built-in step factories.
type Option func(*options)

// WithLogger sets the logger used by steps that log.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the client used by the webhook step.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithTokenModel sets the default model of the tokenCount step.
func WithTokenModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// Builtins returns the factories of every built-in step.
func Builtins(opts ...Option) []registry.Factory {
	o := &options{
		logger: slog.Default(),
		model:  defaultTokenModel,
	}
	for _, opt := range opts {
		opt(o)
	}

	return []registry.Factory{
		{
			Name:        LogRequestName,
			Description: "Logs the incoming request",
			Create:      func() ports.Step { return NewLogRequest(o.logger) },
		},
		{
			Name:        FormatResponseName,
			Description: "Wraps the response in the standard envelope",
			Create:      func() ports.Step { return NewFormatResponse() },
		},
		{
			Name:        WebhookName,
			Description: "Calls an external HTTP endpoint",
			Create:      func() ports.Step { return NewWebhook(o.client, o.logger) },
		},
		{
			Name:        TokenCountName,
			Description: "Counts the tokens of the request body",
			Create:      func() ports.Step { return NewTokenCount(o.model) },
		},
		{
			Name:        RequireFieldsName,
			Description: "Fails when required body fields are missing",
			Create:      func() ports.Step { return NewRequireFields() },
		},
		{
			Name:        SetResponseName,
			Description: "Sets a static response",
			Create:      func() ports.Step { return NewSetResponse() },
		},
	}
}

// NewRegistry builds a registry holding the built-in steps plus extra.
func NewRegistry(extra []registry.Factory, opts ...Option) (*registry.Registry, error) {
	return registry.New(append(Builtins(opts...), extra...)...)
}

// Option value helpers. Options come from decoded JSON or YAML, so numbers
// may be float64 or int.

func stringOption(opts map[string]any, key string) (string, bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("option %s must be a string, got %T", key, v)
	}
	return s, true, nil
}

func intOption(opts map[string]any, key string) (int, bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, false, fmt.Errorf("option %s must be an integer, got %v", key, n)
		}
		return int(n), true, nil
	}
	return 0, false, fmt.Errorf("option %s must be a number, got %T", key, v)
}

func durationOption(opts map[string]any, key string) (time.Duration, bool, error) {
	s, ok, err := stringOption(opts, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("option %s: %w", key, err)
	}
	return d, true, nil
}

func stringListOption(opts map[string]any, key string) ([]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s[%d] must be a string, got %T", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("option %s must be an array of strings, got %T", key, v)
}

func stringMapOption(opts map[string]any, key string) (map[string]string, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s.%s must be a string, got %T", key, k, item)
			}
			out[k] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("option %s must be an object, got %T", key, v)
}
