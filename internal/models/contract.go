// internal/models/contract.go
package models

import "time"

type ContractState string

const (
	ContractStatePendingApproval ContractState = "PENDING_APPROVAL"
	ContractStateActive          ContractState = "ACTIVE"
	ContractStateCompleted       ContractState = "COMPLETED"
	ContractStateFailed          ContractState = "FAILED"
	ContractStateCancelled       ContractState = "CANCELLED"
)

// IsTerminal reports whether no further mutation is permitted.
func (s ContractState) IsTerminal() bool {
	switch s {
	case ContractStateCompleted, ContractStateFailed, ContractStateCancelled:
		return true
	}
	return false
}

type ConditionType string

const (
	ConditionCollateralCheck ConditionType = "COLLATERAL_CHECK"
	ConditionCreditCheck     ConditionType = "CREDIT_CHECK"
)

type ConditionStatus string

const (
	ConditionPending ConditionStatus = "PENDING"
	ConditionMet     ConditionStatus = "MET"
	ConditionFailed  ConditionStatus = "FAILED"
)

type ActionType string

const (
	ActionTransfer ActionType = "TRANSFER"
	ActionEscrow   ActionType = "ESCROW"
	ActionSwap     ActionType = "SWAP"
	ActionLoan     ActionType = "LOAN"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionCompleted ActionStatus = "COMPLETED"
	ActionFailed    ActionStatus = "FAILED"
)

// History events.
const (
	EventDeployed           = "DEPLOYED"
	EventApproved           = "APPROVED"
	EventActivated          = "ACTIVATED"
	EventCancelled          = "CANCELLED"
	EventExecutionCompleted = "EXECUTION_COMPLETED"
	EventExecutionFailed    = "EXECUTION_FAILED"
)

// Condition is the contract's own copy of a template condition.
type Condition struct {
	Type        ConditionType   `json:"type"`
	Params      Params          `json:"params,omitempty"`
	Status      ConditionStatus `json:"status"`
	EvaluatedAt *time.Time      `json:"evaluatedAt,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// Action is the contract's own copy of a template action.
type Action struct {
	Type       ActionType    `json:"type"`
	Params     Params        `json:"params,omitempty"`
	Status     ActionStatus  `json:"status"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
	Result     *ActionResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ActionResult records what an action settled.
type ActionResult struct {
	TransactionIDs []string          `json:"transactionIds,omitempty"`
	Risk           []RiskAssessment  `json:"risk,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
}

type Approval struct {
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

type HistoryEntry struct {
	Event     string                 `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ExecutionAttempt is appended by every execute call on an ACTIVE contract.
type ExecutionAttempt struct {
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
}

type Contract struct {
	ID              string              `json:"id"`
	TemplateID      string              `json:"templateId"`
	TemplateName    string              `json:"templateName"`
	TemplateVersion int                 `json:"templateVersion"`
	Parameters      Params              `json:"parameters"`
	Parties         []string            `json:"parties"`
	State           ContractState       `json:"state"`
	Approvals       map[string]Approval `json:"approvals"`
	Conditions      []Condition         `json:"conditions"`
	Actions         []Action            `json:"actions"`
	History         []HistoryEntry      `json:"history"`
	Attempts        []ExecutionAttempt  `json:"attempts,omitempty"`
	FailureReason   string              `json:"failureReason,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// HasParty reports whether partyID is one of the contract's parties.
func (c *Contract) HasParty(partyID string) bool {
	for _, p := range c.Parties {
		if p == partyID {
			return true
		}
	}
	return false
}

// QuorumReached reports whether every party has approved.
func (c *Contract) QuorumReached() bool {
	for _, p := range c.Parties {
		if _, ok := c.Approvals[p]; !ok {
			return false
		}
	}
	return len(c.Parties) > 0
}

// AppendHistory appends an entry whose timestamp is strictly after the last one.
func (c *Contract) AppendHistory(event string, at time.Time, data map[string]interface{}) time.Time {
	if n := len(c.History); n > 0 {
		if last := c.History[n-1].Timestamp; !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
	}
	c.History = append(c.History, HistoryEntry{Event: event, Timestamp: at, Data: data})
	c.UpdatedAt = at
	return at
}

// LastEvent returns the most recent history entry, if any.
func (c *Contract) LastEvent() (HistoryEntry, bool) {
	if len(c.History) == 0 {
		return HistoryEntry{}, false
	}
	return c.History[len(c.History)-1], true
}

// SigningView is the canonical representation parties sign. It covers only
// fields fixed at deploy time.
type SigningView struct {
	ContractID      string          `json:"contractId"`
	TemplateID      string          `json:"templateId"`
	TemplateVersion int             `json:"templateVersion"`
	Parameters      Params          `json:"parameters"`
	Parties         []string        `json:"parties"`
	Conditions      []ConditionSpec `json:"conditions"`
	Actions         []ActionSpec    `json:"actions"`
}

func (c *Contract) SigningView() SigningView {
	view := SigningView{
		ContractID:      c.ID,
		TemplateID:      c.TemplateID,
		TemplateVersion: c.TemplateVersion,
		Parameters:      c.Parameters,
		Parties:         c.Parties,
		Conditions:      make([]ConditionSpec, len(c.Conditions)),
		Actions:         make([]ActionSpec, len(c.Actions)),
	}
	for i, cond := range c.Conditions {
		view.Conditions[i] = ConditionSpec{Type: cond.Type, Params: cond.Params}
	}
	for i, act := range c.Actions {
		view.Actions[i] = ActionSpec{Type: act.Type, Params: act.Params}
	}
	return view
}

// Clone returns a deep copy safe to hand out from a store.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	out := *c
	out.Parameters = c.Parameters.Clone()
	out.Parties = append([]string(nil), c.Parties...)
	out.Approvals = make(map[string]Approval, len(c.Approvals))
	for k, v := range c.Approvals {
		out.Approvals[k] = v
	}
	out.Conditions = make([]Condition, len(c.Conditions))
	for i, cond := range c.Conditions {
		cond.Params = cond.Params.Clone()
		if cond.EvaluatedAt != nil {
			t := *cond.EvaluatedAt
			cond.EvaluatedAt = &t
		}
		out.Conditions[i] = cond
	}
	out.Actions = make([]Action, len(c.Actions))
	for i, act := range c.Actions {
		act.Params = act.Params.Clone()
		if act.ExecutedAt != nil {
			t := *act.ExecutedAt
			act.ExecutedAt = &t
		}
		if act.Result != nil {
			r := *act.Result
			r.TransactionIDs = append([]string(nil), act.Result.TransactionIDs...)
			r.Risk = append([]RiskAssessment(nil), act.Result.Risk...)
			if act.Result.Detail != nil {
				r.Detail = make(map[string]string, len(act.Result.Detail))
				for k, v := range act.Result.Detail {
					r.Detail[k] = v
				}
			}
			act.Result = &r
		}
		out.Actions[i] = act
	}
	out.History = make([]HistoryEntry, len(c.History))
	for i, h := range c.History {
		if h.Data != nil {
			data := make(map[string]interface{}, len(h.Data))
			for k, v := range h.Data {
				data[k] = v
			}
			h.Data = data
		}
		out.History[i] = h
	}
	out.Attempts = append([]ExecutionAttempt(nil), c.Attempts...)
	return &out
}
