package conditions

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	apperrors "settlement-engine/internal/common/errors"
	commonhttp "settlement-engine/internal/common/http"
	"settlement-engine/internal/models"
)

// CollateralCheck is MET when params.account holds at least params.amount.
type CollateralCheck struct {
	Accounts AccountReader
}

// AccountReader loads accounts; only the balance is consulted.
type AccountReader interface {
	LoadAccount(ctx context.Context, id string) (*models.Account, error)
}

func (c CollateralCheck) Evaluate(ctx context.Context, params models.Params) (Outcome, error) {
	accountID, err := params.String("account")
	if err != nil {
		return Outcome{}, err
	}
	required, err := params.Amount("amount")
	if err != nil {
		return Outcome{}, err
	}

	acc, err := c.Accounts.LoadAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Failed("collateral account %s not found", accountID), nil
		}
		return Outcome{}, err
	}
	if acc.Balance.LessThan(required) {
		return Failed("collateral %s below required %s", acc.Balance.String(), required.String()), nil
	}
	return Met(), nil
}

// CreditSignal is the external credit risk collaborator.
type CreditSignal interface {
	Approve(ctx context.Context, partyID string, params models.Params) (bool, error)
}

// AlwaysApprove is the default signal.
type AlwaysApprove struct{}

func (AlwaysApprove) Approve(context.Context, string, models.Params) (bool, error) { return true, nil }

// CreditCheck delegates to a CreditSignal for params.party.
type CreditCheck struct {
	Signal CreditSignal
}

func (c CreditCheck) Evaluate(ctx context.Context, params models.Params) (Outcome, error) {
	party, err := params.String("party")
	if err != nil {
		return Outcome{}, err
	}
	ok, err := c.Signal.Approve(ctx, party, params)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Failed("credit check declined for %s", party), nil
	}
	return Met(), nil
}

// HTTPCreditSignal asks a credit bureau:
//
//	GET {baseURL}/credit/{party}?amount={amount}  ->  {"approved": bool}
type HTTPCreditSignal struct {
	client  *commonhttp.Client
	baseURL string
}

func NewHTTPCreditSignal(client *commonhttp.Client, baseURL string) *HTTPCreditSignal {
	return &HTTPCreditSignal{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type creditResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func (s *HTTPCreditSignal) Approve(ctx context.Context, partyID string, params models.Params) (bool, error) {
	endpoint := fmt.Sprintf("%s/credit/%s", s.baseURL, url.PathEscape(partyID))
	if params.Has("amount") {
		if amount, err := params.Amount("amount"); err == nil {
			endpoint += "?amount=" + url.QueryEscape(amount.String())
		}
	}

	var resp creditResponse
	if err := s.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return false, apperrors.NewExternalServiceError("credit-bureau", err)
	}
	return resp.Approved, nil
}

// RegisterBuiltins installs COLLATERAL_CHECK and CREDIT_CHECK.
func RegisterBuiltins(r *Registry, accounts AccountReader, signal CreditSignal) {
	if signal == nil {
		signal = AlwaysApprove{}
	}
	r.Register(models.ConditionCollateralCheck, CollateralCheck{Accounts: accounts})
	r.Register(models.ConditionCreditCheck, CreditCheck{Signal: signal})
}
