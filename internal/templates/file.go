package templates

import (
	"fmt"

	"settlement-engine/internal/models"
	"settlement-engine/pkg/registry"
)

// LoadDefinitions reads the active entries of a registry file.
func LoadDefinitions(path string) ([]Definition, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load template registry %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("template registry %s: %w", path, err)
	}
	return FromRegistry(reg.Active()), nil
}

func FromRegistry(entries []registry.Entry) []Definition {
	defs := make([]Definition, 0, len(entries))
	for _, e := range entries {
		def := Definition{Name: e.Name}
		for _, p := range e.Parameters {
			def.Parameters = append(def.Parameters, models.ParameterSlot{Name: p.Name, Type: p.Type, Required: p.Required})
		}
		for _, s := range e.Conditions {
			def.Conditions = append(def.Conditions, models.ConditionSpec{Type: models.ConditionType(s.Type), Params: models.Params(s.Params)})
		}
		for _, s := range e.Actions {
			def.Actions = append(def.Actions, models.ActionSpec{Type: models.ActionType(s.Type), Params: models.Params(s.Params)})
		}
		defs = append(defs, def)
	}
	return defs
}
