// internal/models/transaction.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTransfer         TransactionType = "TRANSFER"
	TransactionEscrowHold       TransactionType = "ESCROW_HOLD"
	TransactionEscrowRelease    TransactionType = "ESCROW_RELEASE"
	TransactionSwapLeg          TransactionType = "SWAP_LEG"
	TransactionLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
	TransactionLoanRepayment    TransactionType = "LOAN_REPAYMENT"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// TransactionAttempt is one retry of a FAILED record.
type TransactionAttempt struct {
	At            time.Time         `json:"at"`
	Status        TransactionStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
}

// Transaction is one settlement attempt. It is immutable once COMPLETED or
// FAILED except for Attempts.
type Transaction struct {
	ID            string               `json:"id"`
	FromAccountID string               `json:"fromAccountId"`
	ToAccountID   string               `json:"toAccountId"`
	Amount        decimal.Decimal      `json:"amount"`
	Type          TransactionType      `json:"type"`
	Status        TransactionStatus    `json:"status"`
	FailureReason string               `json:"failureReason,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	ContractID    string               `json:"contractId,omitempty"`
	EscrowTag     string               `json:"escrowTag,omitempty"`
	RetryOf       string               `json:"retryOf,omitempty"`
	Risk          *RiskAssessment      `json:"risk,omitempty"`
	Attempts      []TransactionAttempt `json:"attempts,omitempty"`
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	if t.Risk != nil {
		r := *t.Risk
		out.Risk = &r
	}
	out.Attempts = append([]TransactionAttempt(nil), t.Attempts...)
	return &out
}
