package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"settlement-engine/internal/models"
)

const amountPattern = `^[0-9]+(\.[0-9]+)?$`

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Summary joins every error into one line, ordered by field.
func (r *ValidationResult) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// BuildSchema renders a template parameter schema as a JSON Schema document.
// Extra deploy parameters are permitted.
func BuildSchema(slots []models.ParameterSlot) map[string]interface{} {
	properties := make(map[string]interface{}, len(slots))
	required := make([]interface{}, 0, len(slots))
	for _, slot := range slots {
		properties[slot.Name] = propertyFor(slot.Type)
		if slot.Required {
			required = append(required, slot.Name)
		}
	}
	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func propertyFor(paramType string) map[string]interface{} {
	switch paramType {
	case models.ParamTypeAmount:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "string", "pattern": amountPattern},
				map[string]interface{}{"type": "number", "minimum": 0},
			},
		}
	case models.ParamTypeNumber:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "string", "pattern": amountPattern},
				map[string]interface{}{"type": "number"},
			},
		}
	case models.ParamTypeAccount, models.ParamTypeParty, models.ParamTypeString:
		return map[string]interface{}{"type": "string", "minLength": 1}
	default:
		// untyped slots only need to be present and non-null
		return map[string]interface{}{"not": map[string]interface{}{"type": "null"}}
	}
}

// ValidateParameters checks deploy parameters against a template's slots.
func ValidateParameters(slots []models.ParameterSlot, params models.Params) (*ValidationResult, error) {
	if params == nil {
		params = models.Params{}
	}
	schemaLoader := gojsonschema.NewGoLoader(BuildSchema(slots))
	documentLoader := gojsonschema.NewGoLoader(map[string]interface{}(params))

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if desc.Type() == "required" {
			if name, ok := desc.Details()["property"].(string); ok {
				field = name
			}
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}
