package domain

import "sort"

// Legacy phase names used when a configuration declares no phases, and by
// the legacy pipelines map.
const (
	PhasePre        = "pre"
	PhaseProcessing = "processing"
	PhasePost       = "post"
)

// LegacyPhases is the phase list synthesized when a configuration omits phases.
var LegacyPhases = []string{PhasePre, PhaseProcessing, PhasePost}

// PipelineConfig is a tenant-resolved pipeline definition.
// It is immutable once produced by the resolver and may be shared between
// requests of the same tenant.
type PipelineConfig struct {
	SchemaVersion  string                    `json:"schemaVersion,omitempty"`
	Phases         []string                  `json:"phases"`
	PhaseSpecs     map[string]PhaseSpec      `json:"phaseSpecs"`
	DisabledPhases map[string]struct{}       `json:"-"`
	DisabledSteps  map[string]struct{}       `json:"-"`
	Pipelines      map[string]LegacyPipeline `json:"pipelines,omitempty"`
}

// PhaseSpec lists the elements of one phase.
type PhaseSpec struct {
	HooksBefore []Element `json:"hooksBefore,omitempty"`
	Steps       []Element `json:"steps,omitempty"`
	HooksAfter  []Element `json:"hooksAfter,omitempty"`
}

// Elements returns hooksBefore, steps and hooksAfter concatenated in that order.
func (p PhaseSpec) Elements() []Element {
	out := make([]Element, 0, len(p.HooksBefore)+len(p.Steps)+len(p.HooksAfter))
	out = append(out, p.HooksBefore...)
	out = append(out, p.Steps...)
	out = append(out, p.HooksAfter...)
	return out
}

// Element is one configured step reference. A bare step name in the
// configuration file decodes to an Element with only Name set.
type Element struct {
	Name           string         `json:"name"`
	Condition      string         `json:"if,omitempty"`
	Parallel       *bool          `json:"parallel,omitempty"`
	ConfigOverride map[string]any `json:"configOverride,omitempty"`
}

// LegacyPipeline is the backward-compatible pre/processing/post shape.
type LegacyPipeline struct {
	Pre        []string `json:"pre"`
	Processing []string `json:"processing"`
	Post       []string `json:"post"`
}

// Phase returns the step names of a legacy phase.
func (l LegacyPipeline) Phase(name string) []string {
	switch name {
	case PhasePre:
		return l.Pre
	case PhaseProcessing:
		return l.Processing
	case PhasePost:
		return l.Post
	}
	return nil
}

// PhaseDisabled reports whether the phase is listed in disabledPhases.
func (c *PipelineConfig) PhaseDisabled(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.DisabledPhases[name]
	return ok
}

// StepDisabled reports whether the step is listed in disabledSteps.
func (c *PipelineConfig) StepDisabled(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.DisabledSteps[name]
	return ok
}

// DisabledPhaseList returns disabledPhases as a slice, for display.
func (c *PipelineConfig) DisabledPhaseList() []string {
	if c == nil {
		return nil
	}
	return setKeys(c.DisabledPhases)
}

// DisabledStepList returns disabledSteps as a slice, for display.
func (c *PipelineConfig) DisabledStepList() []string {
	if c == nil {
		return nil
	}
	return setKeys(c.DisabledSteps)
}

func setKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
