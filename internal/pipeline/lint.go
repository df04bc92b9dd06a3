package pipeline

import (
	"fmt"

	"github.com/nicofx/widu-factory/internal/condition"
	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
	"github.com/nicofx/widu-factory/internal/registry"
)

// Finding is one problem Lint found in a resolved configuration.
type Finding struct {
	Phase   string `json:"phase"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s/%s: %s", f.Phase, f.Step, f.Message)
}

// Lint reports what Build would silently drop or misread for cfg: unknown
// steps, invalid overrides or options, conditions outside the expression
// subset (always false at run time) and error policies that are not one of
// continue, stop, skip or retry.
func Lint(cfg *domain.PipelineConfig, reg *registry.Registry) []Finding {
	if cfg == nil {
		return nil
	}
	f := &Factory{registry: reg}

	var out []Finding
	for _, phase := range cfg.Phases {
		for _, el := range cfg.PhaseSpecs[phase].Elements() {
			out = append(out, lintElement(f, phase, el)...)
		}
	}
	for name, lp := range cfg.Pipelines {
		for _, phase := range domain.LegacyPhases {
			for _, step := range lp.Phase(phase) {
				out = append(out, lintElement(f, name+"."+phase, domain.Element{Name: step})...)
			}
		}
	}
	return out
}

func lintElement(f *Factory, phase string, el domain.Element) []Finding {
	var out []Finding
	add := func(format string, args ...any) {
		out = append(out, Finding{Phase: phase, Step: el.Name, Message: fmt.Sprintf(format, args...)})
	}

	if el.Condition != "" {
		if err := condition.Check(el.Condition); err != nil {
			add("condition always false: %v", err)
		}
	}

	inst, err := f.instantiate(el)
	if err != nil {
		add("%v", err)
		return out
	}
	switch inst.Config.OnError {
	case ports.OnErrorContinue, ports.OnErrorStop, ports.OnErrorSkip, ports.OnErrorRetry:
	default:
		add("unknown onError policy %q aborts like stop", inst.Config.OnError)
	}
	return out
}
