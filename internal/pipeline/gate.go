package pipeline

import (
	"context"

	"github.com/nicofx/widu-factory/internal/ambient"
	"github.com/nicofx/widu-factory/internal/core/domain"
)

// IsPhaseEnabled reports whether phase is absent from the resolved
// disabledPhases of ec. A context without a configuration snapshot enables
// every phase.
func IsPhaseEnabled(phase string, ec *domain.Context) bool {
	if ec == nil {
		return true
	}
	return !ec.Meta.Config.PhaseDisabled(phase)
}

// IsStepEnabled reports whether step is absent from the resolved
// disabledSteps of ec.
func IsStepEnabled(step string, ec *domain.Context) bool {
	if ec == nil {
		return true
	}
	return !ec.Meta.Config.StepDisabled(step)
}

// Filter applies the execution gate to the candidate steps of one phase,
// using the execution context bound to ctx. A disabled phase yields no steps;
// otherwise the enabled steps are returned in their original order.
// Without a bound context the steps are returned unchanged.
func Filter(ctx context.Context, phase string, steps []*StepInstance) []*StepInstance {
	ec, ok := ambient.From(ctx)
	if !ok {
		return steps
	}
	if !IsPhaseEnabled(phase, ec) {
		return nil
	}

	out := make([]*StepInstance, 0, len(steps))
	for _, s := range steps {
		if IsStepEnabled(s.Name, ec) {
			out = append(out, s)
		}
	}
	return out
}
