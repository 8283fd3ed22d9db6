package actions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
)

// TaskLoanRepayment is the scheduler task type for due loan repayments.
const TaskLoanRepayment = "loan-repayment"

// Loan repayment job payload keys.
const (
	PayloadFrom   = "from"
	PayloadTo     = "to"
	PayloadAmount = "amount"
)

func invalid(err error) error {
	return apperrors.NewValidationError(err.Error())
}

func result(records []*models.Transaction, risk []models.RiskAssessment) *models.ActionResult {
	r := &models.ActionResult{Risk: risk}
	for _, rec := range records {
		r.TransactionIDs = append(r.TransactionIDs, rec.ID)
	}
	return r
}

func riskList(assessments ...*models.RiskAssessment) []models.RiskAssessment {
	var out []models.RiskAssessment
	for _, a := range assessments {
		if a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// executeTransfer moves params.amount from params.from to params.to. With
// params.fromEscrow it releases the hold tagged by the contract id.
func executeTransfer(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
	from, err := action.Params.String("from")
	if err != nil {
		return nil, invalid(err)
	}
	to, err := action.Params.String("to")
	if err != nil {
		return nil, invalid(err)
	}
	amount, err := action.Params.Amount("amount")
	if err != nil {
		return nil, invalid(err)
	}

	assessment, err := env.Screen(ctx, from, amount)
	if err != nil {
		return &models.ActionResult{Risk: riskList(assessment)}, err
	}

	req := ledger.TransferRequest{
		From:       from,
		To:         to,
		Amount:     amount,
		ContractID: env.Contract.ID,
		Risk:       assessment,
	}
	if action.Params.Bool("fromEscrow") {
		req.FromEscrow = true
		req.EscrowTag = env.Contract.ID
	}
	rec, err := env.Ledger.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	return result([]*models.Transaction{rec}, riskList(assessment)), ledger.FailureError(rec)
}

// executeEscrow holds params.amount on params.from under the contract id.
func executeEscrow(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
	from, err := action.Params.String("from")
	if err != nil {
		return nil, invalid(err)
	}
	amount, err := action.Params.Amount("amount")
	if err != nil {
		return nil, invalid(err)
	}

	assessment, err := env.Screen(ctx, from, amount)
	if err != nil {
		return &models.ActionResult{Risk: riskList(assessment)}, err
	}

	rec, err := env.Ledger.Hold(ctx, from, env.Contract.ID, amount, env.Contract.ID)
	if err != nil {
		return nil, err
	}
	res := result([]*models.Transaction{rec}, riskList(assessment))
	res.Detail = map[string]string{"escrowTag": env.Contract.ID}
	return res, ledger.FailureError(rec)
}

// executeSwap settles two legs as one atomic batch.
func executeSwap(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
	legs := make([]ledger.TransferRequest, 0, 2)
	var assessments []*models.RiskAssessment
	for _, n := range []string{"1", "2"} {
		from, err := action.Params.String("from" + n)
		if err != nil {
			return nil, invalid(err)
		}
		to, err := action.Params.String("to" + n)
		if err != nil {
			return nil, invalid(err)
		}
		amount, err := action.Params.Amount("amount" + n)
		if err != nil {
			return nil, invalid(err)
		}

		assessment, err := env.Screen(ctx, from, amount)
		assessments = append(assessments, assessment)
		if err != nil {
			return &models.ActionResult{Risk: riskList(assessments...)}, err
		}
		legs = append(legs, ledger.TransferRequest{
			From:       from,
			To:         to,
			Amount:     amount,
			Type:       models.TransactionSwapLeg,
			ContractID: env.Contract.ID,
			Risk:       assessment,
		})
	}

	records, err := env.Ledger.TransferBatch(ctx, legs)
	if err != nil {
		return nil, err
	}
	return result(records, riskList(assessments...)), ledger.FailureError(records...)
}

// executeLoan disburses the principal and schedules the repayment of
// principal * (1 + interest) after params.duration.
func executeLoan(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
	lender, err := action.Params.String("from")
	if err != nil {
		return nil, invalid(err)
	}
	borrower, err := action.Params.String("to")
	if err != nil {
		return nil, invalid(err)
	}
	principal, err := action.Params.Amount("amount")
	if err != nil {
		return nil, invalid(err)
	}
	interest, err := action.Params.Amount("interest")
	if err != nil {
		return nil, invalid(err)
	}
	if interest.IsNegative() {
		return nil, apperrors.NewValidationError("interest must not be negative")
	}
	duration, err := action.Params.Duration("duration")
	if err != nil {
		return nil, invalid(err)
	}
	if env.Scheduler == nil {
		return nil, apperrors.NewValidationError("loan actions require a scheduler")
	}

	assessment, err := env.Screen(ctx, lender, principal)
	if err != nil {
		return &models.ActionResult{Risk: riskList(assessment)}, err
	}

	rec, err := env.Ledger.Transfer(ctx, ledger.TransferRequest{
		From:       lender,
		To:         borrower,
		Amount:     principal,
		Type:       models.TransactionLoanDisbursement,
		ContractID: env.Contract.ID,
		Risk:       assessment,
	})
	if err != nil {
		return nil, err
	}
	res := result([]*models.Transaction{rec}, riskList(assessment))
	if failure := ledger.FailureError(rec); failure != nil {
		return res, failure
	}

	repayment := RepaymentAmount(principal, interest)
	due := env.Now.Add(duration)
	job := models.Job{
		TaskType:   TaskLoanRepayment,
		ContractID: env.Contract.ID,
		NotBefore:  due,
		Payload: map[string]string{
			PayloadFrom:   borrower,
			PayloadTo:     lender,
			PayloadAmount: repayment.String(),
		},
	}
	res.Detail = map[string]string{
		"repaymentAmount": repayment.String(),
		"repaymentDue":    due.Format("2006-01-02T15:04:05Z07:00"),
	}
	if err := env.Scheduler.Schedule(ctx, job); err != nil {
		// the disbursement is committed; a retry would pay out twice
		return res, fmt.Errorf("schedule repayment after disbursement %s: %s", rec.ID, err.Error())
	}
	return res, nil
}

// RepaymentAmount is principal * (1 + interest).
func RepaymentAmount(principal, interest decimal.Decimal) decimal.Decimal {
	return principal.Mul(decimal.NewFromInt(1).Add(interest))
}
