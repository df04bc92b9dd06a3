package tenantconfig

import (
	"fmt"
	"strconv"

	"github.com/nicofx/widu-factory/internal/core/domain"
)

// Top-level keys with a fixed meaning. Every other top-level key may be a
// phase definition.
const (
	keySchemaVersion  = "schemaVersion"
	keyPhases         = "phases"
	keyDisabledPhases = "disabledPhases"
	keyDisabledSteps  = "disabledSteps"
	keyPipelines      = "pipelines"
)

// Element list keys of a phase, in execution order.
var phaseLists = []string{"hooksBefore", "steps", "hooksAfter"}

// validator accumulates issues while decoding a raw document.
type validator struct {
	issues []Issue
}

func (v *validator) addf(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Decode validates a merged raw document and converts it into a
// PipelineConfig. Schema violations are returned as a *ConfigError listing
// every issue found.
func Decode(tenant string, raw map[string]any) (*domain.PipelineConfig, error) {
	if len(raw) == 0 {
		return nil, &ConfigError{Tenant: tenant, Err: ErrNoConfiguration}
	}

	v := &validator{}
	cfg := &domain.PipelineConfig{
		PhaseSpecs:     make(map[string]domain.PhaseSpec),
		DisabledPhases: make(map[string]struct{}),
		DisabledSteps:  make(map[string]struct{}),
	}

	cfg.SchemaVersion = v.schemaVersion(raw[keySchemaVersion])
	cfg.Phases = v.phases(raw)
	for _, phase := range cfg.Phases {
		cfg.PhaseSpecs[phase] = v.phaseSpec(phase, raw[phase])
	}
	v.nameSet(keyDisabledPhases, raw[keyDisabledPhases], cfg.DisabledPhases)
	v.nameSet(keyDisabledSteps, raw[keyDisabledSteps], cfg.DisabledSteps)
	cfg.Pipelines = v.pipelines(raw[keyPipelines])

	if len(v.issues) > 0 {
		return nil, &ConfigError{Tenant: tenant, Issues: v.issues, Err: ErrInvalidConfig}
	}
	return cfg, nil
}

func (v *validator) schemaVersion(raw any) string {
	switch t := raw.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		v.addf(keySchemaVersion, "must be a string or number, got %T", raw)
		return ""
	}
}

// phases returns the declared phase order, synthesizing the legacy triple
// when phases is absent. Repeated names keep their first position.
func (v *validator) phases(raw map[string]any) []string {
	value, ok := raw[keyPhases]
	if !ok || value == nil {
		out := make([]string, len(domain.LegacyPhases))
		copy(out, domain.LegacyPhases)
		return out
	}
	list, ok := value.([]any)
	if !ok {
		v.addf(keyPhases, "must be an array, got %T", value)
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for i, item := range list {
		name, ok := item.(string)
		if !ok || name == "" {
			v.addf(fmt.Sprintf("%s[%d]", keyPhases, i), "must be a non-empty string")
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (v *validator) phaseSpec(phase string, raw any) domain.PhaseSpec {
	var spec domain.PhaseSpec
	if raw == nil {
		return spec
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v.addf(phase, "phase definition must be an object, got %T", raw)
		return spec
	}
	for _, list := range phaseLists {
		elems := v.elements(phase+"."+list, obj[list])
		switch list {
		case "hooksBefore":
			spec.HooksBefore = elems
		case "steps":
			spec.Steps = elems
		case "hooksAfter":
			spec.HooksAfter = elems
		}
	}
	return spec
}

func (v *validator) elements(path string, raw any) []domain.Element {
	if raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		v.addf(path, "must be an array, got %T", raw)
		return nil
	}
	out := make([]domain.Element, 0, len(list))
	for i, item := range list {
		if el, ok := v.element(fmt.Sprintf("%s[%d]", path, i), item); ok {
			out = append(out, el)
		}
	}
	return out
}

func (v *validator) element(path string, raw any) (domain.Element, bool) {
	switch t := raw.(type) {
	case string:
		if t == "" {
			v.addf(path, "step name must be non-empty")
			return domain.Element{}, false
		}
		return domain.Element{Name: t}, true
	case map[string]any:
		name, ok := t["name"].(string)
		if !ok || name == "" {
			v.addf(path+".name", "must be a non-empty string")
			return domain.Element{}, false
		}
		el := domain.Element{Name: name}
		valid := true

		cond, hasIf := t["if"]
		if !hasIf {
			cond = t["condition"]
		}
		switch c := cond.(type) {
		case nil:
		case string:
			el.Condition = c
		default:
			v.addf(path+".if", "must be a string, got %T", cond)
			valid = false
		}

		switch p := t["parallel"].(type) {
		case nil:
		case bool:
			el.Parallel = &p
		default:
			v.addf(path+".parallel", "must be a boolean, got %T", t["parallel"])
			valid = false
		}

		switch o := t["configOverride"].(type) {
		case nil:
		case map[string]any:
			el.ConfigOverride = o
		default:
			v.addf(path+".configOverride", "must be an object, got %T", t["configOverride"])
			valid = false
		}
		return el, valid
	default:
		v.addf(path, "must be a step name or an object with a name, got %T", raw)
		return domain.Element{}, false
	}
}

func (v *validator) nameSet(path string, raw any, into map[string]struct{}) {
	if raw == nil {
		return
	}
	names, ok := v.strings(path, raw)
	if !ok {
		return
	}
	for _, n := range names {
		into[n] = struct{}{}
	}
}

func (v *validator) strings(path string, raw any) ([]string, bool) {
	if raw == nil {
		return nil, true
	}
	list, ok := raw.([]any)
	if !ok {
		v.addf(path, "must be an array of strings, got %T", raw)
		return nil, false
	}
	out := make([]string, 0, len(list))
	valid := true
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			v.addf(fmt.Sprintf("%s[%d]", path, i), "must be a string, got %T", item)
			valid = false
			continue
		}
		out = append(out, s)
	}
	return out, valid
}

func (v *validator) pipelines(raw any) map[string]domain.LegacyPipeline {
	if raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		v.addf(keyPipelines, "must be an object, got %T", raw)
		return nil
	}
	out := make(map[string]domain.LegacyPipeline, len(obj))
	for name, def := range obj {
		path := keyPipelines + "." + name
		d, ok := def.(map[string]any)
		if !ok {
			v.addf(path, "must be an object, got %T", def)
			continue
		}
		pre, ok1 := v.strings(path+".pre", d[domain.PhasePre])
		processing, ok2 := v.strings(path+".processing", d[domain.PhaseProcessing])
		post, ok3 := v.strings(path+".post", d[domain.PhasePost])
		if ok1 && ok2 && ok3 {
			out[name] = domain.LegacyPipeline{Pre: pre, Processing: processing, Post: post}
		}
	}
	return out
}
