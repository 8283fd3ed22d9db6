// internal/models/account.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account balances are fixed point and never negative. Held carries escrow
// sub-balances keyed by tag (the owning contract id).
type Account struct {
	ID        string                     `json:"id"`
	OwnerID   string                     `json:"ownerId"`
	Balance   decimal.Decimal            `json:"balance"`
	Held      map[string]decimal.Decimal `json:"held,omitempty"`
	CreatedAt time.Time                  `json:"createdAt"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// TotalHeld sums every escrow hold on the account.
func (a *Account) TotalHeld() decimal.Decimal {
	total := decimal.Zero
	for _, v := range a.Held {
		total = total.Add(v)
	}
	return total
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Held != nil {
		out.Held = make(map[string]decimal.Decimal, len(a.Held))
		for k, v := range a.Held {
			out.Held[k] = v
		}
	}
	return &out
}
