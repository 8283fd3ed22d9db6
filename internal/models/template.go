// internal/models/template.go
package models

import "time"

// Parameter slot types.
const (
	ParamTypeString  = "string"
	ParamTypeAmount  = "amount"
	ParamTypeAccount = "account"
	ParamTypeParty   = "party"
	ParamTypeNumber  = "number"
)

// ParameterSlot is one named entry of a template's parameter schema.
type ParameterSlot struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ConditionSpec is a condition as declared by a template. String parameter
// values of the form "$name" are bound to deploy parameters.
type ConditionSpec struct {
	Type   ConditionType `json:"type"`
	Params Params        `json:"params,omitempty"`
}

// ActionSpec is an action as declared by a template.
type ActionSpec struct {
	Type   ActionType `json:"type"`
	Params Params     `json:"params,omitempty"`
}

// Template is an immutable blueprint. A new version is a new Template.
type Template struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Version         int             `json:"version"`
	ParameterSchema []ParameterSlot `json:"parameterSchema"`
	Conditions      []ConditionSpec `json:"conditions"`
	Actions         []ActionSpec    `json:"actions"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Clone returns a deep copy safe to hand out from a store.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.ParameterSchema = append([]ParameterSlot(nil), t.ParameterSchema...)
	out.Conditions = make([]ConditionSpec, len(t.Conditions))
	for i, c := range t.Conditions {
		out.Conditions[i] = ConditionSpec{Type: c.Type, Params: c.Params.Clone()}
	}
	out.Actions = make([]ActionSpec, len(t.Actions))
	for i, a := range t.Actions {
		out.Actions[i] = ActionSpec{Type: a.Type, Params: a.Params.Clone()}
	}
	return &out
}
