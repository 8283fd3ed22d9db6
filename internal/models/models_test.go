package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Params
// ==========================

func TestParams_Amount(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    string
		wantErr bool
	}{
		{"string", "100.25", "100.25", false},
		{"float", 0.1, "0.1", false},
		{"int", 500, "500", false},
		{"json number", json.Number("12.5"), "12.5", false},
		{"decimal", decimal.RequireFromString("3"), "3", false},
		{"garbage", "ten", "", true},
		{"bool", true, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Params{"amount": tt.value}.Amount("amount")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParam)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := Params{}.Amount("amount")
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestParams_Duration(t *testing.T) {
	d, err := Params{"duration": "720h"}.Duration("duration")
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)

	d, err = Params{"duration": float64(90)}.Duration("duration")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
}

func TestParams_String(t *testing.T) {
	_, err := Params{"from": ""}.String("from")
	assert.ErrorIs(t, err, ErrInvalidParam)

	v, err := Params{"from": "acc-1"}.String("from")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", v)
}

// ==========================
// Contract
// ==========================

func TestContract_AppendHistoryIsMonotonic(t *testing.T) {
	c := &Contract{}
	now := time.Now()

	first := c.AppendHistory(EventDeployed, now, nil)
	second := c.AppendHistory(EventApproved, now, nil)
	third := c.AppendHistory(EventActivated, now.Add(-time.Second), nil)

	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
	assert.Len(t, c.History, 3)
	assert.Equal(t, third, c.UpdatedAt)
}

func TestContract_QuorumReached(t *testing.T) {
	c := &Contract{Parties: []string{"a", "b"}, Approvals: map[string]Approval{}}
	assert.False(t, c.QuorumReached())

	c.Approvals["a"] = Approval{Signature: "s"}
	assert.False(t, c.QuorumReached())

	c.Approvals["b"] = Approval{Signature: "s"}
	assert.True(t, c.QuorumReached())

	assert.False(t, (&Contract{}).QuorumReached())
}

func TestContract_CloneIsIndependent(t *testing.T) {
	orig := &Contract{
		ID:         "c-1",
		Parameters: Params{"amount": "10"},
		Parties:    []string{"a"},
		Approvals:  map[string]Approval{},
		Conditions: []Condition{{Type: ConditionCreditCheck, Status: ConditionPending}},
		Actions:    []Action{{Type: ActionTransfer, Status: ActionPending, Result: &ActionResult{TransactionIDs: []string{"t1"}}}},
	}

	clone := orig.Clone()
	clone.Parameters["amount"] = "20"
	clone.Parties[0] = "z"
	clone.Approvals["a"] = Approval{}
	clone.Conditions[0].Status = ConditionMet
	clone.Actions[0].Result.TransactionIDs[0] = "t2"

	assert.Equal(t, "10", orig.Parameters["amount"])
	assert.Equal(t, "a", orig.Parties[0])
	assert.Empty(t, orig.Approvals)
	assert.Equal(t, ConditionPending, orig.Conditions[0].Status)
	assert.Equal(t, "t1", orig.Actions[0].Result.TransactionIDs[0])
}

func TestContractState_IsTerminal(t *testing.T) {
	assert.False(t, ContractStatePendingApproval.IsTerminal())
	assert.False(t, ContractStateActive.IsTerminal())
	assert.True(t, ContractStateCompleted.IsTerminal())
	assert.True(t, ContractStateFailed.IsTerminal())
	assert.True(t, ContractStateCancelled.IsTerminal())
}

func TestAccount_TotalHeld(t *testing.T) {
	a := &Account{Held: map[string]decimal.Decimal{
		"c-1": decimal.NewFromInt(5),
		"c-2": decimal.RequireFromString("2.5"),
	}}
	assert.True(t, a.TotalHeld().Equal(decimal.RequireFromString("7.5")))
}
