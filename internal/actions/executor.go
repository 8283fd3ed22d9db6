// Package actions applies ledger-affecting contract actions.
package actions

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
)

// Ledger is the settlement surface actions use.
type Ledger interface {
	Transfer(ctx context.Context, req ledger.TransferRequest) (*models.Transaction, error)
	TransferBatch(ctx context.Context, legs []ledger.TransferRequest) ([]*models.Transaction, error)
	Hold(ctx context.Context, accountID, tag string, amount decimal.Decimal, contractID string) (*models.Transaction, error)
}

// RiskAssessor scores a transfer before it settles.
type RiskAssessor interface {
	Assess(ctx context.Context, fromAccountID string, amount decimal.Decimal) (models.RiskAssessment, error)
}

// JobScheduler accepts delayed work such as loan repayments.
type JobScheduler interface {
	Schedule(ctx context.Context, job models.Job) error
}

// Env is what a handler may touch while executing one action.
type Env struct {
	Contract  *models.Contract
	Ledger    Ledger
	Scheduler JobScheduler
	Now       time.Time

	screen func(ctx context.Context, from string, amount decimal.Decimal) (*models.RiskAssessment, error)
}

// Screen risk-scores a transfer out of from. When gating is on and the
// recommendation is ADDITIONAL_VERIFICATION it returns an error instead.
func (e *Env) Screen(ctx context.Context, from string, amount decimal.Decimal) (*models.RiskAssessment, error) {
	if e.screen == nil {
		return nil, nil
	}
	return e.screen(ctx, from, amount)
}

// Handler executes one action type.
type Handler interface {
	Execute(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error)
}

type HandlerFunc func(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error)

func (f HandlerFunc) Execute(ctx context.Context, action models.Action, env *Env) (*models.ActionResult, error) {
	return f(ctx, action, env)
}

type Executor struct {
	mu        sync.RWMutex
	handlers  map[models.ActionType]Handler
	ledger    Ledger
	risk      RiskAssessor
	scheduler JobScheduler
	gate      bool
	clock     func() time.Time
	logger    logger.Logger
}

type Option func(*Executor)

// WithRiskGate makes ADDITIONAL_VERIFICATION recommendations fail the action.
func WithRiskGate(enabled bool) Option {
	return func(e *Executor) { e.gate = enabled }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Executor) { e.clock = clock }
}

// NewExecutor returns an executor with the TRANSFER, ESCROW, SWAP and LOAN
// handlers registered.
func NewExecutor(l Ledger, risk RiskAssessor, scheduler JobScheduler, log logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		handlers:  make(map[models.ActionType]Handler),
		ledger:    l,
		risk:      risk,
		scheduler: scheduler,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger.ForComponent(log, "action-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Register(models.ActionTransfer, HandlerFunc(executeTransfer))
	e.Register(models.ActionEscrow, HandlerFunc(executeEscrow))
	e.Register(models.ActionSwap, HandlerFunc(executeSwap))
	e.Register(models.ActionLoan, HandlerFunc(executeLoan))
	return e
}

// Register adds or replaces the handler for an action type.
func (e *Executor) Register(t models.ActionType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = h
}

// Execute runs one action of contract. A non-nil result may accompany an
// error when the action settled a FAILED record.
func (e *Executor) Execute(ctx context.Context, action models.Action, contract *models.Contract) (*models.ActionResult, error) {
	e.mu.RLock()
	h, ok := e.handlers[action.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewUnsupportedActionError(string(action.Type))
	}

	env := &Env{
		Contract:  contract,
		Ledger:    e.ledger,
		Scheduler: e.scheduler,
		Now:       e.clock(),
		screen:    e.screen,
	}
	result, err := h.Execute(ctx, action, env)
	if err != nil {
		e.logger.Warn("Action failed", map[string]interface{}{
			"contractId": contract.ID,
			"type":       string(action.Type),
			"error":      err,
		})
		return result, err
	}
	if result == nil {
		result = &models.ActionResult{}
	}
	e.logger.Info("Action executed", map[string]interface{}{
		"contractId":     contract.ID,
		"type":           string(action.Type),
		"transactionIds": result.TransactionIDs,
	})
	return result, nil
}

func (e *Executor) screen(ctx context.Context, from string, amount decimal.Decimal) (*models.RiskAssessment, error) {
	if e.risk == nil {
		return nil, nil
	}
	assessment, err := e.risk.Assess(ctx, from, amount)
	if err != nil {
		return nil, err
	}
	if e.gate && assessment.Recommendation == models.RecommendAdditionalVerification {
		return &assessment, apperrors.NewRiskVerificationRequiredError(assessment.Score, string(assessment.Recommendation)).
			WithMetadata("accountId", from)
	}
	return &assessment, nil
}
