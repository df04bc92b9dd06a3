package tenantconfig

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoConfiguration is returned when neither the default nor the tenant
	// file provides any configuration.
	ErrNoConfiguration = errors.New("no pipeline configuration")

	// ErrInvalidTenant is returned for tenant ids that cannot name a file.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrInvalidConfig is wrapped by ConfigError for schema violations.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// Issue is a single schema violation.
type Issue struct {
	// Path locates the offending value, e.g. "pre.steps[2].name".
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ConfigError reports a configuration that cannot be resolved for a tenant.
// It is fatal to resolving that tenant; callers fall back to a built-in pipeline.
type ConfigError struct {
	Tenant string
	File   string
	Issues []Issue
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tenant %q", e.Tenant)
	if e.File != "" {
		fmt.Fprintf(&b, " (%s)", e.File)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	for i, issue := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(issue.String())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
