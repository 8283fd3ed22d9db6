package templates

import (
	"context"
	"errors"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/models"
)

// Standard template names.
const (
	NameEscrow = "ESCROW"
	NameSwap   = "SWAP"
	NameLoan   = "LOAN"
)

// Definition is a template as declared before registration.
type Definition struct {
	Name       string                 `json:"name"`
	Parameters []models.ParameterSlot `json:"parameters"`
	Conditions []models.ConditionSpec `json:"conditions"`
	Actions    []models.ActionSpec    `json:"actions"`
}

func slot(name, typ string) models.ParameterSlot {
	return models.ParameterSlot{Name: name, Type: typ, Required: true}
}

// StandardDefinitions returns the built-in ESCROW, SWAP and LOAN blueprints.
//
// ESCROW holds the payer's funds under the contract id, then releases the
// hold to the payee once the payer's account is funded. SWAP settles two legs
// atomically. LOAN requires collateral and a credit signal, disburses the
// principal and schedules repayment.
func StandardDefinitions() []Definition {
	return []Definition{
		{
			Name: NameEscrow,
			Parameters: []models.ParameterSlot{
				slot("payer", models.ParamTypeParty),
				slot("payee", models.ParamTypeParty),
				slot("payerAccount", models.ParamTypeAccount),
				slot("payeeAccount", models.ParamTypeAccount),
				slot("amount", models.ParamTypeAmount),
			},
			Conditions: []models.ConditionSpec{
				{Type: models.ConditionCollateralCheck, Params: models.Params{"account": "$payerAccount", "amount": "$amount"}},
			},
			Actions: []models.ActionSpec{
				{Type: models.ActionEscrow, Params: models.Params{"from": "$payerAccount", "amount": "$amount"}},
				{Type: models.ActionTransfer, Params: models.Params{"from": "$payerAccount", "to": "$payeeAccount", "amount": "$amount", "fromEscrow": true}},
			},
		},
		{
			Name: NameSwap,
			Parameters: []models.ParameterSlot{
				slot("party1", models.ParamTypeParty),
				slot("party2", models.ParamTypeParty),
				slot("asset1From", models.ParamTypeAccount),
				slot("asset1To", models.ParamTypeAccount),
				slot("asset1Amount", models.ParamTypeAmount),
				slot("asset2From", models.ParamTypeAccount),
				slot("asset2To", models.ParamTypeAccount),
				slot("asset2Amount", models.ParamTypeAmount),
			},
			Actions: []models.ActionSpec{
				{Type: models.ActionSwap, Params: models.Params{
					"from1": "$asset1From", "to1": "$asset1To", "amount1": "$asset1Amount",
					"from2": "$asset2From", "to2": "$asset2To", "amount2": "$asset2Amount",
				}},
			},
		},
		{
			Name: NameLoan,
			Parameters: []models.ParameterSlot{
				slot("lender", models.ParamTypeParty),
				slot("borrower", models.ParamTypeParty),
				slot("lenderAccount", models.ParamTypeAccount),
				slot("borrowerAccount", models.ParamTypeAccount),
				slot("collateralAccount", models.ParamTypeAccount),
				slot("collateral", models.ParamTypeAmount),
				slot("amount", models.ParamTypeAmount),
				slot("interest", models.ParamTypeNumber),
				slot("duration", models.ParamTypeString),
			},
			Conditions: []models.ConditionSpec{
				{Type: models.ConditionCollateralCheck, Params: models.Params{"account": "$collateralAccount", "amount": "$collateral"}},
				{Type: models.ConditionCreditCheck, Params: models.Params{"party": "$borrower", "amount": "$amount"}},
			},
			Actions: []models.ActionSpec{
				{Type: models.ActionLoan, Params: models.Params{
					"from": "$lenderAccount", "to": "$borrowerAccount", "amount": "$amount",
					"interest": "$interest", "duration": "$duration",
				}},
			},
		},
	}
}

// Ensure registers every definition whose name is not yet known and returns
// the latest template for each name, in input order.
func (r *Registry) Ensure(ctx context.Context, defs []Definition) ([]*models.Template, error) {
	out := make([]*models.Template, 0, len(defs))
	for _, def := range defs {
		latest, err := r.store.LatestTemplateByName(ctx, def.Name)
		if err == nil {
			out = append(out, latest)
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		id, err := r.Register(ctx, def.Name, def.Parameters, def.Conditions, def.Actions)
		if err != nil {
			return nil, err
		}
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// EnsureStandard registers the built-in templates if missing.
func (r *Registry) EnsureStandard(ctx context.Context) ([]*models.Template, error) {
	return r.Ensure(ctx, StandardDefinitions())
}
