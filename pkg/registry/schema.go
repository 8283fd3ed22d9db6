// pkg/registry/schema.go
package registry

// TemplateRegistry is the on-disk list of contract templates seeded into the
// engine at startup.
type TemplateRegistry struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Templates   []Entry `json:"templates"`
}

// Entry is one template blueprint. Step parameters may reference deploy
// parameters with "$name" string values.
type Entry struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      string      `json:"status"` // draft | active | retired
	Parameters  []Parameter `json:"parameters"`
	Conditions  []Step      `json:"conditions"`
	Actions     []Step      `json:"actions"`
	Tags        []string    `json:"tags"`
}

type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type Step struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// Entry statuses.
const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Known parameter, condition and action types.
var (
	ParameterTypes = []string{"amount", "number", "account", "party", "string"}
	ConditionTypes = []string{"COLLATERAL_CHECK", "CREDIT_CHECK"}
	ActionTypes    = []string{"TRANSFER", "ESCROW", "SWAP", "LOAN"}
)
