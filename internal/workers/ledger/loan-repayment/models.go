// internal/workers/ledger/loan-repayment/models.go
package loanrepayment

import "github.com/shopspring/decimal"

// Input is decoded from the job payload written when the loan was disbursed.
type Input struct {
	ContractID string
	Borrower   string
	Lender     string
	Amount     decimal.Decimal
	// FailedTransactionID is the first FAILED repayment record, retried in place.
	FailedTransactionID string
}

type Output struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}
