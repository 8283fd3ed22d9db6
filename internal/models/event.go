package models

import "time"

// Loan repayment outcomes. They are published but never recorded in the
// contract's history, which is closed once the contract completes.
const (
	EventLoanRepaid             = "LOAN_REPAID"
	EventLoanRepaymentDefaulted = "LOAN_REPAYMENT_DEFAULTED"
)

// LifecycleEvent mirrors a history entry, or a repayment outcome, for
// external subscribers.
type LifecycleEvent struct {
	ContractID string                 `json:"contractId"`
	Event      string                 `json:"event"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
