// Package engine provides the public API for embedding the pipeline engine.
// This is the stable API for external consumers.
package engine

import (
	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/pipeline"
	"github.com/nicofx/widu-factory/internal/registry"
	"github.com/nicofx/widu-factory/internal/runtime"
	"github.com/nicofx/widu-factory/internal/tenantconfig"
)

// Runtime is the assembled engine.
// See internal/runtime.Runtime for full documentation.
type Runtime = runtime.Runtime

// Option is a functional option for configuring a Runtime.
type Option = runtime.Option

// Request is one unit of work passed to Runtime.Handle.
type Request = runtime.Request

// Step plugin contract.
type (
	Context      = domain.Context
	Step         = ports.Step
	StepConfig   = ports.StepConfig
	ErrorPolicy  = ports.ErrorPolicy
	Configurable = ports.Configurable
	OptionsAware = ports.OptionsAware
	StepFactory  = registry.Factory
)

// Error policies.
const (
	OnErrorContinue = ports.OnErrorContinue
	OnErrorStop     = ports.OnErrorStop
	OnErrorSkip     = ports.OnErrorSkip
	OnErrorRetry    = ports.OnErrorRetry
)

// New creates a new Runtime with the given options.
// Example:
//
//	rt, err := engine.New(
//	    engine.WithConfigDir("./pipelines", 0),
//	    engine.WithSQLite("./data/audit.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfigDir = runtime.WithConfigDir
	WithResolver  = runtime.WithResolver
	WithWatch     = runtime.WithWatch

	// Steps
	WithSteps       = runtime.WithSteps
	WithRegistry    = runtime.WithRegistry
	WithStepOptions = runtime.WithStepOptions
	WithEvaluator   = runtime.WithEvaluator

	// Audit
	WithSQLite     = runtime.WithSQLite
	WithAuditStore = runtime.WithAuditStore
	WithSink       = runtime.WithSink
	WithTracing    = runtime.WithTracing
	WithMetrics    = runtime.WithMetrics

	// Advanced options
	WithTenantHeader = runtime.WithTenantHeader
	WithLogger       = runtime.WithLogger
	FromConfig       = runtime.FromConfig
)

// Error classification
var (
	IsAborted           = pipeline.IsAborted
	IsConfigError       = tenantconfig.IsConfigError
	IsRegistrationError = registry.IsRegistrationError
)
