package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicofx/widu-factory/internal/ambient"
	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

// Engine runs built pipelines against an execution context.
// It is stateless between runs and safe for concurrent use.
type Engine struct {
	audit  ports.AuditSink
	logs   ports.LogSink
	errors ports.ErrorSink
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSink registers sink for audit events, log entries and errors.
func WithSink(sink ports.Sink) EngineOption {
	return func(e *Engine) {
		e.audit = sink
		e.logs = sink
		e.errors = sink
	}
}

// WithAuditSink sets the receiver of step lifecycle events.
func WithAuditSink(sink ports.AuditSink) EngineOption {
	return func(e *Engine) {
		e.audit = sink
	}
}

// WithLogSink sets the receiver of step log entries.
func WithLogSink(sink ports.LogSink) EngineOption {
	return func(e *Engine) {
		e.logs = sink
	}
}

// WithErrorSink sets the receiver of step error records.
func WithErrorSink(sink ports.ErrorSink) EngineOption {
	return func(e *Engine) {
		e.errors = sink
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a pipeline engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes p for the request in ec. ec is bound to the context passed to
// every step for the duration of the call.
//
// Phases run in order. Within a phase the parallelizable steps run
// concurrently first and all of them are awaited, then the remaining steps
// run one at a time in order. A failing step whose policy does not absorb
// the failure ends the run with an *AbortError.
func (e *Engine) Run(ctx context.Context, ec *domain.Context, p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("pipeline cannot be nil")
	}
	return ambient.Run(ctx, ec, func(ctx context.Context) error {
		started := time.Now()
		logger := e.logger.With(
			slog.String("request_id", ec.RequestID),
			slog.String("tenant", ec.Meta.Tenant),
			slog.String("pipeline", p.Name))

		logger.Info("pipeline started", slog.Int("phases", len(p.Phases)))

		for _, phase := range p.Phases {
			if err := e.runPhase(ctx, ec, logger, phase); err != nil {
				logger.Error("pipeline failed",
					slog.String("error", err.Error()),
					slog.Duration("duration", time.Since(started)))
				return err
			}
		}

		logger.Info("pipeline completed",
			slog.Int("errors", len(ec.Errors())),
			slog.Duration("duration", time.Since(started)))
		return nil
	})
}

func (e *Engine) runPhase(ctx context.Context, ec *domain.Context, logger *slog.Logger, phase PhaseSteps) error {
	steps := Filter(ctx, phase.Name, phase.Steps)
	if len(steps) == 0 {
		logger.Debug("phase skipped", slog.String("phase", phase.Name))
		return nil
	}

	parallel, sequential := partition(steps)

	if len(parallel) > 0 {
		// No derived context: a failing member must not cancel its siblings.
		var g errgroup.Group
		for _, s := range parallel {
			s := s
			g.Go(func() error {
				return e.runStep(ctx, ec, logger, phase.Name, s)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	for _, s := range sequential {
		if err := e.runStep(ctx, ec, logger, phase.Name, s); err != nil {
			return err
		}
	}
	return nil
}

// partition splits steps into the parallel and sequential groups, each in
// original order.
func partition(steps []*StepInstance) (parallel, sequential []*StepInstance) {
	for _, s := range steps {
		if s.Config.Parallelizable {
			parallel = append(parallel, s)
		} else {
			sequential = append(sequential, s)
		}
	}
	return parallel, sequential
}

func (e *Engine) runStep(ctx context.Context, ec *domain.Context, logger *slog.Logger, phase string, s *StepInstance) error {
	logger = logger.With(slog.String("phase", phase), slog.String("step", s.Name))

	started := time.Now()
	e.emit(ctx, logger, domain.NewAuditEvent(domain.EventStepStarted, ec.RequestID, phase, s.Name, nil))
	logger.Debug("step started", slog.Bool("parallel", s.Config.Parallelizable))

	err := execute(ctx, ec, s.Step)
	elapsed := time.Since(started)

	if err == nil {
		e.emit(ctx, logger, domain.NewAuditEvent(domain.EventStepSucceeded, ec.RequestID, phase, s.Name, map[string]any{
			"durationMs": elapsed.Milliseconds(),
		}))
		e.record(ctx, logger, ec, domain.StepLog{
			Phase:      phase,
			Step:       s.Name,
			Status:     domain.StepStatusSuccess,
			DurationMs: elapsed.Milliseconds(),
		})
		logger.Info("step completed", slog.Duration("duration", elapsed))
		return nil
	}

	rec := domain.ErrorRecord{Step: s.Name, Message: err.Error(), Timestamp: time.Now().UTC()}
	ec.AppendError(rec)
	if e.errors != nil {
		if rerr := e.errors.Report(ctx, ec.RequestID, rec); rerr != nil {
			logger.Debug("error sink failed", slog.String("error", rerr.Error()))
		}
	}
	e.emit(ctx, logger, domain.NewAuditEvent(domain.EventStepFailed, ec.RequestID, phase, s.Name, map[string]any{
		"durationMs": elapsed.Milliseconds(),
		"error":      err.Error(),
	}))
	e.record(ctx, logger, ec, domain.StepLog{
		Phase:      phase,
		Step:       s.Name,
		Status:     domain.StepStatusError,
		DurationMs: elapsed.Milliseconds(),
		Details:    map[string]any{"error": err.Error()},
	})

	policy := s.Config.OnError
	logger.Warn("step failed",
		slog.String("error", err.Error()),
		slog.String("on_error", string(policy)),
		slog.Duration("duration", elapsed))

	if policy.Absorbs() {
		return nil
	}
	return &AbortError{Phase: phase, Step: s.Name, Policy: policy, Err: err}
}

// execute runs step, converting a panic into an error.
func execute(ctx context.Context, ec *domain.Context, step ports.Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return step.Execute(ctx, ec)
}

func (e *Engine) emit(ctx context.Context, logger *slog.Logger, ev domain.AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Emit(ctx, ev); err != nil {
		logger.Debug("audit sink failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, ec *domain.Context, entry domain.StepLog) {
	ec.Meta.AppendLog(entry)
	if e.logs == nil {
		return
	}
	if err := e.logs.Record(ctx, ec.RequestID, entry); err != nil {
		logger.Debug("log sink failed", slog.String("error", err.Error()))
	}
}

// AbortError is returned by Engine.Run when a step fails under a policy
// that does not absorb failures.
type AbortError struct {
	Phase  string
	Step   string
	Policy ports.ErrorPolicy
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline aborted by step %s in phase %s (onError=%s): %v", e.Step, e.Phase, e.Policy, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAborted returns true if err is or wraps an AbortError.
func IsAborted(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
