package settlement

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/actions"
	"settlement-engine/internal/approval"
	"settlement-engine/internal/common/config"
	"settlement-engine/internal/common/crypto"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/conditions"
	"settlement-engine/internal/models"
	"settlement-engine/internal/scheduler"
	"settlement-engine/internal/store/memory"
	"settlement-engine/internal/templates"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Workers: 1, BatchSize: 4, PollInterval: 5, BackoffInitial: 1, BackoffMax: 10, MaxAttempts: 5},
		Risk:      config.RiskConfig{PatternDefault: 0.3},
		Workers:   map[string]config.WorkerConfig{},
	}
}

type testApp struct {
	*App
	queue *scheduler.MemoryQueue
	keys  map[string]ed25519.PrivateKey
}

func createTestApp(t *testing.T, cfg *config.Config, parties ...string) *testApp {
	t.Helper()
	return createTestAppWith(t, cfg, nil, parties...)
}

func createTestAppWith(t *testing.T, cfg *config.Config, extend func(*Deps), parties ...string) *testApp {
	t.Helper()
	ring := crypto.NewKeyRing()
	keys := make(map[string]ed25519.PrivateKey)
	for _, p := range parties {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		ring.Register(p, pub)
		keys[p] = priv
	}
	sealer, err := crypto.NewSealer("", ring)
	require.NoError(t, err)

	q := scheduler.NewMemoryQueue()
	deps := Deps{Config: cfg, Store: memory.New(), Sealer: sealer, Queue: q}
	if extend != nil {
		extend(&deps)
	}
	app, err := NewApp(deps, logger.NewTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, app.Seed(context.Background(), nil))
	return &testApp{App: app, queue: q, keys: keys}
}

func (a *testApp) account(t *testing.T, owner string, balance int64) string {
	t.Helper()
	acc, err := a.Service.CreateAccount(context.Background(), owner, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return acc.ID
}

func (a *testApp) approveAll(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	c, err := a.Service.GetContractState(ctx, id)
	require.NoError(t, err)
	digest, err := approval.Digest(c)
	require.NoError(t, err)
	for _, p := range c.Parties {
		require.NoError(t, a.Service.ApproveContract(ctx, id, p, crypto.Sign(digest, a.keys[p])))
	}
}

// run processes jobs until the test ends.
func (a *testApp) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (a *testApp) waitForState(t *testing.T, id string, want models.ContractState) *models.Contract {
	t.Helper()
	var c *models.Contract
	require.Eventually(t, func() bool {
		var err error
		c, err = a.Service.GetContractState(context.Background(), id)
		return err == nil && c.State == want
	}, 5*time.Second, 5*time.Millisecond, "contract %s never reached %s", id, want)
	return c
}

func oracleTemplate() templates.Definition {
	return templates.Definition{
		Name:       "ORACLE_NOTICE",
		Parameters: []models.ParameterSlot{{Name: "feed", Type: models.ParamTypeString, Required: true}},
		Conditions: []models.ConditionSpec{{Type: "ORACLE", Params: models.Params{"feed": "$feed"}}},
		Actions:    []models.ActionSpec{{Type: "NOTIFY", Params: models.Params{"feed": "$feed"}}},
	}
}

func (a *testApp) balance(t *testing.T, id string) string {
	t.Helper()
	b, err := a.Service.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b.String()
}

// ==========================
// Composition Tests
// ==========================

func TestNewApp_RequiresCollaborators(t *testing.T) {
	_, err := NewApp(Deps{Config: createTestConfig()}, logger.NewNoOpLogger())
	assert.Error(t, err)
}

func TestApp_SeedIsIdempotent(t *testing.T) {
	a := createTestApp(t, createTestConfig())
	ctx := context.Background()

	before, err := a.Templates.Latest(ctx, templates.NameEscrow)
	require.NoError(t, err)
	require.NoError(t, a.Seed(ctx, []templates.Definition{{
		Name:       "PAYMENT",
		Parameters: []models.ParameterSlot{{Name: "from", Type: models.ParamTypeAccount, Required: true}, {Name: "to", Type: models.ParamTypeAccount, Required: true}, {Name: "amount", Type: models.ParamTypeAmount, Required: true}},
		Actions:    []models.ActionSpec{{Type: models.ActionTransfer, Params: models.Params{"from": "$from", "to": "$to", "amount": "$amount"}}},
	}}))
	require.NoError(t, a.Seed(ctx, nil))

	after, err := a.Templates.Latest(ctx, templates.NameEscrow)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	payment, err := a.Templates.Latest(ctx, "PAYMENT")
	require.NoError(t, err)
	assert.Equal(t, 1, payment.Version)
}

// ==========================
// Custom Handler Tests
// ==========================

func TestApp_CustomConditionAndAction(t *testing.T) {
	var mu sync.Mutex
	ready := false
	notified := 0
	cfg := createTestConfig()
	cfg.Scheduler.MaxAttempts = 1000
	a := createTestAppWith(t, cfg, func(d *Deps) {
		d.Conditions = map[models.ConditionType]conditions.Handler{
			"ORACLE": conditions.HandlerFunc(func(_ context.Context, params models.Params) (conditions.Outcome, error) {
				mu.Lock()
				defer mu.Unlock()
				if !ready {
					return conditions.Failed("feed %v not published", params["feed"]), nil
				}
				return conditions.Met(), nil
			}),
		}
		// a handler with nothing to report returns no result
		d.Actions = map[models.ActionType]actions.Handler{
			"NOTIFY": actions.HandlerFunc(func(context.Context, models.Action, *actions.Env) (*models.ActionResult, error) {
				mu.Lock()
				defer mu.Unlock()
				notified++
				return nil, nil
			}),
		}
	}, "alice")
	ctx := context.Background()

	tid, err := a.Service.RegisterTemplate(ctx, oracleTemplate())
	require.NoError(t, err)
	id, err := a.Service.DeployContract(ctx, tid, models.Params{"feed": "btc-usd"}, []string{"alice"})
	require.NoError(t, err)

	a.run(t)
	a.approveAll(t, id)
	require.Eventually(t, func() bool {
		c, err := a.Service.GetContractState(ctx, id)
		return err == nil && len(c.Attempts) >= 1
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	ready = true
	mu.Unlock()

	c := a.waitForState(t, id, models.ContractStateCompleted)
	assert.Equal(t, models.ActionCompleted, c.Actions[0].Status)
	mu.Lock()
	assert.Equal(t, 1, notified)
	mu.Unlock()
}

func TestApp_ErroringPredicateFailsAfterBudget(t *testing.T) {
	a := createTestAppWith(t, createTestConfig(), func(d *Deps) {
		d.Conditions = map[models.ConditionType]conditions.Handler{
			"ORACLE": conditions.HandlerFunc(func(context.Context, models.Params) (conditions.Outcome, error) {
				return conditions.Outcome{}, errors.New("oracle unreachable")
			}),
		}
	}, "alice")
	ctx := context.Background()

	tid, err := a.Service.RegisterTemplate(ctx, oracleTemplate())
	require.NoError(t, err)
	id, err := a.Service.DeployContract(ctx, tid, models.Params{"feed": "btc-usd"}, []string{"alice"})
	require.NoError(t, err)

	a.run(t)
	a.approveAll(t, id)

	c := a.waitForState(t, id, models.ContractStateFailed)
	last := c.History[len(c.History)-1]
	assert.Equal(t, models.EventExecutionFailed, last.Event)
	assert.Equal(t, string(apperrors.ErrCodeConditionTimeout), last.Data["code"])
	n, err := a.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ==========================
// Ledger Facade Tests
// ==========================

func TestService_Transfer_RecordsRisk(t *testing.T) {
	a := createTestApp(t, createTestConfig())
	from := a.account(t, "alice", 1000)
	to := a.account(t, "bob", 0)

	tx, err := a.Service.Transfer(context.Background(), from, to, decimal.NewFromInt(250))

	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, tx.Status)
	require.NotNil(t, tx.Risk)
	assert.Equal(t, models.RecommendProceed, tx.Risk.Recommendation)
	assert.Equal(t, "750", a.balance(t, from))
	assert.Equal(t, "250", a.balance(t, to))
}

func TestService_Transfer_InsufficientFundsThenRetry(t *testing.T) {
	a := createTestApp(t, createTestConfig())
	ctx := context.Background()
	from := a.account(t, "alice", 50)
	to := a.account(t, "bob", 0)

	failed, err := a.Service.Transfer(ctx, from, to, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionFailed, failed.Status)
	assert.Equal(t, "50", a.balance(t, from))
	assert.Equal(t, "0", a.balance(t, to))

	funder := a.account(t, "carol", 100)
	_, err = a.Service.Transfer(ctx, funder, from, decimal.NewFromInt(100))
	require.NoError(t, err)

	retried, err := a.Service.RetryTransaction(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, retried.Status)
	assert.Equal(t, failed.ID, retried.RetryOf)
	assert.Equal(t, "100", a.balance(t, to))

	orig, err := a.Service.GetTransaction(ctx, failed.ID)
	require.NoError(t, err)
	require.Len(t, orig.Attempts, 1)
	assert.Equal(t, retried.ID, orig.Attempts[0].TransactionID)
}

func TestService_Transfer_RiskGate(t *testing.T) {
	cfg := createTestConfig()
	cfg.Risk.GateActions = true
	cfg.Risk.PatternDefault = 0.6
	a := createTestApp(t, cfg)
	ctx := context.Background()
	from := a.account(t, "alice", 10000)
	to := a.account(t, "bob", 0)

	for i := 0; i < 11; i++ {
		_, err := a.Service.Transfer(ctx, from, to, decimal.NewFromInt(1))
		require.NoError(t, err)
	}

	assessment, err := a.Service.AssessRisk(ctx, from, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, models.RecommendAdditionalVerification, assessment.Recommendation)

	_, err = a.Service.Transfer(ctx, from, to, decimal.NewFromInt(5000))
	assert.ErrorIs(t, err, apperrors.ErrRiskVerificationRequired)
	assert.Equal(t, "9989", a.balance(t, from))
}

func TestService_GetBalance_UnknownAccount(t *testing.T) {
	a := createTestApp(t, createTestConfig())
	_, err := a.Service.GetBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ==========================
// Contract Facade Tests
// ==========================

func TestService_CreateEscrow(t *testing.T) {
	a := createTestApp(t, createTestConfig(), "alice", "bob")
	ctx := context.Background()
	payer := a.account(t, "alice", 1000)
	payee := a.account(t, "bob", 0)

	id, err := a.Service.CreateEscrow(ctx, EscrowTerms{
		Payer: "alice", Payee: "bob", PayerAccount: payer, PayeeAccount: payee, Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)

	c, err := a.Service.GetContractState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatePendingApproval, c.State)
	assert.Equal(t, []string{"alice", "bob"}, c.Parties)
	require.Len(t, c.Actions, 2)
	assert.Equal(t, models.ActionEscrow, c.Actions[0].Type)
}

func TestService_CreateSwapAndLoan(t *testing.T) {
	a := createTestApp(t, createTestConfig(), "alice", "bob")
	ctx := context.Background()
	acc1 := a.account(t, "alice", 100)
	acc2 := a.account(t, "bob", 100)

	swapID, err := a.Service.CreateSwap(ctx, SwapTerms{
		Party1: "alice", Party2: "bob",
		Leg1: SwapLeg{From: acc1, To: acc2, Amount: decimal.NewFromInt(10)},
		Leg2: SwapLeg{From: acc2, To: acc1, Amount: decimal.NewFromInt(20)},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, swapID)

	loanID, err := a.Service.CreateLoan(ctx, LoanTerms{
		Lender: "alice", Borrower: "bob",
		LenderAccount: acc1, BorrowerAccount: acc2, CollateralAccount: acc2,
		Collateral: decimal.NewFromInt(50), Amount: decimal.NewFromInt(80),
		Interest: 0.05, Duration: "720h",
	})
	require.NoError(t, err)

	c, err := a.Service.GetContractState(ctx, loanID)
	require.NoError(t, err)
	require.Len(t, c.Conditions, 2)
	assert.Equal(t, models.ActionLoan, c.Actions[0].Type)
}

func TestService_CreateLoan_InvalidTerms(t *testing.T) {
	a := createTestApp(t, createTestConfig(), "alice", "bob")

	_, err := a.Service.CreateLoan(context.Background(), LoanTerms{Lender: "alice", Borrower: "bob"})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestService_ApproveAndCancel(t *testing.T) {
	a := createTestApp(t, createTestConfig(), "alice", "bob")
	ctx := context.Background()
	payer := a.account(t, "alice", 1000)
	payee := a.account(t, "bob", 0)
	id, err := a.Service.CreateEscrow(ctx, EscrowTerms{
		Payer: "alice", Payee: "bob", PayerAccount: payer, PayeeAccount: payee, Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	c, err := a.Service.GetContractState(ctx, id)
	require.NoError(t, err)
	digest, err := approval.Digest(c)
	require.NoError(t, err)
	require.NoError(t, a.Service.ApproveContract(ctx, id, "alice", crypto.Sign(digest, a.keys["alice"])))

	require.NoError(t, a.Service.CancelContract(ctx, id))
	c, err = a.Service.GetContractState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ContractStateCancelled, c.State)

	err = a.Service.ApproveContract(ctx, id, "bob", crypto.Sign(digest, a.keys["bob"]))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestService_RegisterTemplate(t *testing.T) {
	a := createTestApp(t, createTestConfig())
	ctx := context.Background()
	def := templates.Definition{
		Name:       "PAYMENT",
		Parameters: []models.ParameterSlot{{Name: "from", Type: models.ParamTypeAccount, Required: true}},
		Actions:    []models.ActionSpec{{Type: models.ActionTransfer, Params: models.Params{"from": "$from", "to": "x", "amount": "1"}}},
	}

	first, err := a.Service.RegisterTemplate(ctx, def)
	require.NoError(t, err)
	second, err := a.Service.RegisterTemplate(ctx, def)
	require.NoError(t, err)

	t2, err := a.Service.GetTemplate(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, t2.Version)
}
