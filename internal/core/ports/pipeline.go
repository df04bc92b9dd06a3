// Package ports defines the core interfaces of the pipeline engine.
// This file contains the step plugin contract and per-step configuration.
package ports

import (
	"context"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

// ErrorPolicy decides what the engine does when a step fails.
type ErrorPolicy string

const (
	// OnErrorContinue absorbs the failure; the run proceeds as if the step succeeded.
	OnErrorContinue ErrorPolicy = "continue"
	// OnErrorStop aborts the run.
	OnErrorStop ErrorPolicy = "stop"
	// OnErrorSkip aborts the run. Kept for configuration compatibility.
	OnErrorSkip ErrorPolicy = "skip"
	// OnErrorRetry aborts the run. No retry is attempted.
	OnErrorRetry ErrorPolicy = "retry"
)

// Absorbs reports whether a failure under this policy is swallowed.
// Every policy other than continue aborts the pipeline.
func (p ErrorPolicy) Absorbs() bool {
	return p == OnErrorContinue
}

// StepConfig is the per-instance configuration of a step.
type StepConfig struct {
	OnError        ErrorPolicy `json:"onError"`
	Parallelizable bool        `json:"parallelizable"`
	// Options carries every configOverride key that is not one of the above.
	Options map[string]any `json:"options,omitempty"`
}

// DefaultStepConfig is used for steps that do not implement Configurable.
func DefaultStepConfig() StepConfig {
	return StepConfig{OnError: OnErrorStop}
}

// Clone returns a deep-enough copy so overrides never touch shared defaults.
func (c StepConfig) Clone() StepConfig {
	out := c
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

// Step is one pluggable unit of work executed within a phase.
// Steps are created fresh per request and never reused.
type Step interface {
	// Name returns the registered name of the step.
	Name() string
	// Execute runs the step. ctx carries the ambient request binding.
	Execute(ctx context.Context, ec *domain.Context) error
}

// Configurable is implemented by steps that declare their own defaults.
type Configurable interface {
	DefaultConfig() StepConfig
}

// OptionsAware is implemented by steps that read configOverride options.
// The factory calls SetOptions after overrides are applied.
type OptionsAware interface {
	SetOptions(opts map[string]any) error
}
