package templates

import (
	"fmt"
	"strings"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/models"
)

const refPrefix = "$"

// reference reports whether v is a "$name" reference to a deploy parameter.
func reference(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, refPrefix) || len(s) == len(refPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, refPrefix), true
}

// Bind resolves a template's conditions and actions against deploy
// parameters, producing the contract's own PENDING copies.
func Bind(t *models.Template, params models.Params) ([]models.Condition, []models.Action, error) {
	conditions := make([]models.Condition, len(t.Conditions))
	for i, spec := range t.Conditions {
		resolved, err := resolve(spec.Params, params)
		if err != nil {
			return nil, nil, apperrors.NewValidationError(fmt.Sprintf("condition %d (%s): %v", i, spec.Type, err))
		}
		conditions[i] = models.Condition{
			Type:   spec.Type,
			Params: resolved,
			Status: models.ConditionPending,
		}
	}

	actions := make([]models.Action, len(t.Actions))
	for i, spec := range t.Actions {
		resolved, err := resolve(spec.Params, params)
		if err != nil {
			return nil, nil, apperrors.NewValidationError(fmt.Sprintf("action %d (%s): %v", i, spec.Type, err))
		}
		actions[i] = models.Action{
			Type:   spec.Type,
			Params: resolved,
			Status: models.ActionPending,
		}
	}
	return conditions, actions, nil
}

func resolve(spec, params models.Params) (models.Params, error) {
	out := make(models.Params, len(spec))
	for key, v := range spec {
		name, ok := reference(v)
		if !ok {
			out[key] = v
			continue
		}
		bound, present := params[name]
		if !present || bound == nil {
			return nil, fmt.Errorf("unresolved reference %s%s", refPrefix, name)
		}
		out[key] = bound
	}
	return out, nil
}
