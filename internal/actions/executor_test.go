package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/risk"
	"settlement-engine/internal/store/memory"
)

// ==========================
// Test Helper Functions
// ==========================

type uuidIDs struct{}

func (uuidIDs) RandomID() string { return uuid.NewString() }

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) Schedule(ctx context.Context, job models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	exec   *Executor
	ledger *ledger.Ledger
	store  *memory.Store
	sched  *mockScheduler
}

func createTestExecutor(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := memory.New()
	log := logger.NewTestLogger(t)
	l := ledger.New(st, uuidIDs{}, log, ledger.WithClock(func() time.Time { return fixedNow }))
	r := risk.NewEngine(st, risk.DefaultPolicy(), log, risk.WithClock(func() time.Time { return fixedNow }))
	sched := &mockScheduler{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return &fixture{
		exec:   NewExecutor(l, r, sched, log, opts...),
		ledger: l,
		store:  st,
		sched:  sched,
	}
}

func (f *fixture) open(t *testing.T, owner string, balance int64) string {
	t.Helper()
	acc, err := f.ledger.CreateAccount(context.Background(), owner, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return acc.ID
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func contract(id string) *models.Contract {
	return &models.Contract{ID: id, State: models.ContractStateActive}
}

// ==========================
// TRANSFER / ESCROW
// ==========================

func TestExecutor_Transfer(t *testing.T) {
	f := createTestExecutor(t)
	a := f.open(t, "alice", 100)
	b := f.open(t, "bob", 0)

	res, err := f.exec.Execute(context.Background(), models.Action{
		Type:   models.ActionTransfer,
		Params: models.Params{"from": a, "to": b, "amount": "40"},
	}, contract("c-1"))
	require.NoError(t, err)
	require.Len(t, res.TransactionIDs, 1)
	require.Len(t, res.Risk, 1)
	assert.Equal(t, models.RecommendProceed, res.Risk[0].Recommendation)

	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(60)))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(40)))

	rec, err := f.ledger.Transaction(context.Background(), res.TransactionIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "c-1", rec.ContractID)
	require.NotNil(t, rec.Risk)
}

func TestExecutor_Transfer_InsufficientFunds(t *testing.T) {
	f := createTestExecutor(t)
	a := f.open(t, "alice", 10)
	b := f.open(t, "bob", 0)

	res, err := f.exec.Execute(context.Background(), models.Action{
		Type:   models.ActionTransfer,
		Params: models.Params{"from": a, "to": b, "amount": "40"},
	}, contract("c-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))
	require.NotNil(t, res)
	require.Len(t, res.TransactionIDs, 1)
	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(10)))
}

func TestExecutor_EscrowThenRelease(t *testing.T) {
	f := createTestExecutor(t)
	ctx := context.Background()
	payer := f.open(t, "payer", 100)
	payee := f.open(t, "payee", 0)
	c := contract("c-escrow")

	res, err := f.exec.Execute(ctx, models.Action{
		Type:   models.ActionEscrow,
		Params: models.Params{"from": payer, "amount": "70"},
	}, c)
	require.NoError(t, err)
	assert.Equal(t, "c-escrow", res.Detail["escrowTag"])

	acc, err := f.ledger.Account(ctx, payer)
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(decimal.NewFromInt(30)))
	assert.True(t, acc.Held["c-escrow"].Equal(decimal.NewFromInt(70)))

	_, err = f.exec.Execute(ctx, models.Action{
		Type:   models.ActionTransfer,
		Params: models.Params{"from": payer, "to": payee, "amount": "70", "fromEscrow": true},
	}, c)
	require.NoError(t, err)

	acc, err = f.ledger.Account(ctx, payer)
	require.NoError(t, err)
	assert.True(t, acc.TotalHeld().IsZero())
	assert.True(t, f.balance(t, payee).Equal(decimal.NewFromInt(70)))
}

// ==========================
// SWAP
// ==========================

func TestExecutor_Swap(t *testing.T) {
	f := createTestExecutor(t)
	a := f.open(t, "a", 100)
	b := f.open(t, "b", 50)

	params := models.Params{
		"from1": a, "to1": b, "amount1": "30",
		"from2": b, "to2": a, "amount2": "20",
	}
	res, err := f.exec.Execute(context.Background(), models.Action{Type: models.ActionSwap, Params: params}, contract("c-swap"))
	require.NoError(t, err)
	assert.Len(t, res.TransactionIDs, 2)
	assert.Len(t, res.Risk, 2)
	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(90)))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(60)))
}

func TestExecutor_Swap_AllOrNothing(t *testing.T) {
	f := createTestExecutor(t)
	a := f.open(t, "a", 100)
	b := f.open(t, "b", 5)

	params := models.Params{
		"from1": a, "to1": b, "amount1": "30",
		"from2": b, "to2": a, "amount2": "200",
	}
	res, err := f.exec.Execute(context.Background(), models.Action{Type: models.ActionSwap, Params: params}, contract("c-swap"))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.TransactionIDs, 2)
	assert.True(t, f.balance(t, a).Equal(decimal.NewFromInt(100)))
	assert.True(t, f.balance(t, b).Equal(decimal.NewFromInt(5)))
}

// ==========================
// LOAN
// ==========================

func TestExecutor_Loan_SchedulesRepayment(t *testing.T) {
	f := createTestExecutor(t)
	lender := f.open(t, "lender", 1000)
	borrower := f.open(t, "borrower", 0)

	f.sched.On("Schedule", mock.Anything, mock.MatchedBy(func(job models.Job) bool {
		return job.TaskType == TaskLoanRepayment &&
			job.ContractID == "c-loan" &&
			job.NotBefore.Equal(fixedNow.Add(48*time.Hour)) &&
			job.Payload[PayloadFrom] == borrower &&
			job.Payload[PayloadTo] == lender &&
			job.Payload[PayloadAmount] == "550"
	})).Return(nil).Once()

	res, err := f.exec.Execute(context.Background(), models.Action{
		Type: models.ActionLoan,
		Params: models.Params{
			"from": lender, "to": borrower, "amount": "500",
			"interest": 0.1, "duration": "48h",
		},
	}, contract("c-loan"))
	require.NoError(t, err)
	assert.Equal(t, "550", res.Detail["repaymentAmount"])
	assert.True(t, f.balance(t, borrower).Equal(decimal.NewFromInt(500)))
	f.sched.AssertExpectations(t)

	rec, err := f.ledger.Transaction(context.Background(), res.TransactionIDs[0])
	require.NoError(t, err)
	assert.Equal(t, models.TransactionLoanDisbursement, rec.Type)
}

func TestExecutor_Loan_ScheduleFailureIsNotRetryable(t *testing.T) {
	f := createTestExecutor(t)
	lender := f.open(t, "lender", 1000)
	borrower := f.open(t, "borrower", 0)
	f.sched.On("Schedule", mock.Anything, mock.Anything).
		Return(apperrors.NewQueueError("push", errors.New("redis down"))).Once()

	res, err := f.exec.Execute(context.Background(), models.Action{
		Type: models.ActionLoan,
		Params: models.Params{
			"from": lender, "to": borrower, "amount": "100",
			"interest": "0", "duration": "1h",
		},
	}, contract("c-loan"))
	require.Error(t, err)
	assert.Equal(t, apperrors.DispositionFail, apperrors.Classify(err))
	require.NotNil(t, res)
	assert.Len(t, res.TransactionIDs, 1)
}

func TestRepaymentAmount(t *testing.T) {
	got := RepaymentAmount(decimal.RequireFromString("1000"), decimal.RequireFromString("0.05"))
	assert.True(t, got.Equal(decimal.RequireFromString("1050")))
}

// ==========================
// Validation and gating
// ==========================

func TestExecutor_InvalidParams(t *testing.T) {
	f := createTestExecutor(t)

	tests := []struct {
		name   string
		action models.Action
	}{
		{"transfer missing to", models.Action{Type: models.ActionTransfer, Params: models.Params{"from": "a", "amount": "1"}}},
		{"escrow bad amount", models.Action{Type: models.ActionEscrow, Params: models.Params{"from": "a", "amount": "x"}}},
		{"swap missing leg", models.Action{Type: models.ActionSwap, Params: models.Params{"from1": "a", "to1": "b", "amount1": "1"}}},
		{"loan negative interest", models.Action{Type: models.ActionLoan, Params: models.Params{
			"from": "a", "to": "b", "amount": "1", "interest": "-0.1", "duration": "1h",
		}}},
		{"loan bad duration", models.Action{Type: models.ActionLoan, Params: models.Params{
			"from": "a", "to": "b", "amount": "1", "interest": "0", "duration": "soon",
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.exec.Execute(context.Background(), tt.action, contract("c"))
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestExecutor_UnsupportedAction(t *testing.T) {
	f := createTestExecutor(t)
	_, err := f.exec.Execute(context.Background(), models.Action{Type: "MINT"}, contract("c"))
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedAction))
}

func TestExecutor_RiskGate(t *testing.T) {
	st := memory.New()
	log := logger.NewTestLogger(t)
	l := ledger.New(st, uuidIDs{}, log)
	assessor := risk.NewEngine(st, risk.DefaultPolicy(), log, risk.WithPatternDetector(risk.ConstantPattern(0.9)))
	a, err := l.CreateAccount(context.Background(), "whale", decimal.NewFromInt(100000))
	require.NoError(t, err)
	b, err := l.CreateAccount(context.Background(), "b", decimal.Zero)
	require.NoError(t, err)

	transfer := models.Action{
		Type:   models.ActionTransfer,
		Params: models.Params{"from": a.ID, "to": b.ID, "amount": "5000"},
	}

	// amount 0.8, frequency 0.2, pattern 0.9
	ungated := NewExecutor(l, assessor, nil, log)
	res, err := ungated.Execute(context.Background(), transfer, contract("c"))
	require.NoError(t, err)
	assert.Equal(t, models.RecommendStandardVerification, res.Risk[0].Recommendation)

	gated := NewExecutor(l, assessor, nil, log, WithRiskGate(true))
	_, err = gated.Execute(context.Background(), models.Action{
		Type:   models.ActionTransfer,
		Params: models.Params{"from": "ghost", "to": b.ID, "amount": "5000"},
	}, contract("c"))
	assert.True(t, errors.Is(err, apperrors.ErrRiskVerificationRequired), "got %v", err)

	balance, err := l.GetBalance(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(5000)))
}

func TestExecutor_CustomHandler(t *testing.T) {
	f := createTestExecutor(t)
	f.exec.Register("NOTE", HandlerFunc(func(_ context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
		return &models.ActionResult{Detail: map[string]string{"contract": env.Contract.ID}}, nil
	}))

	res, err := f.exec.Execute(context.Background(), models.Action{Type: "NOTE"}, contract("c-note"))
	require.NoError(t, err)
	assert.Equal(t, "c-note", res.Detail["contract"])
}

func TestExecutor_CustomHandler_NoResult(t *testing.T) {
	f := createTestExecutor(t)
	f.exec.Register("PING", HandlerFunc(func(context.Context, models.Action, *Env) (*models.ActionResult, error) {
		return nil, nil
	}))

	var res *models.ActionResult
	var err error
	assert.NotPanics(t, func() {
		res, err = f.exec.Execute(context.Background(), models.Action{Type: "PING"}, contract("c-ping"))
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Empty(t, res.TransactionIDs)
}
