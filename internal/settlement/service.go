// Package settlement is the engine's external interface: contract lifecycle
// calls keyed by contract id and ledger calls keyed by account id.
package settlement

import (
	"context"

	"github.com/shopspring/decimal"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/contracts"
	"settlement-engine/internal/ledger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/risk"
	"settlement-engine/internal/templates"
)

type Service struct {
	engine    *contracts.Engine
	templates *templates.Registry
	ledger    *ledger.Ledger
	risk      *risk.Engine
	gate      bool
	logger    logger.Logger
}

type Option func(*Service)

// WithRiskGate rejects direct transfers whose assessment asks for
// additional verification.
func WithRiskGate(enabled bool) Option {
	return func(s *Service) { s.gate = enabled }
}

func NewService(engine *contracts.Engine, tmpl *templates.Registry, l *ledger.Ledger, r *risk.Engine, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		templates: tmpl,
		ledger:    l,
		risk:      r,
		logger:    logger.ForComponent(log, "settlement"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==========================
// Contracts
// ==========================

func (s *Service) DeployContract(ctx context.Context, templateID string, params models.Params, parties []string) (string, error) {
	return s.engine.Deploy(ctx, templateID, params, parties)
}

func (s *Service) ApproveContract(ctx context.Context, contractID, partyID, signature string) error {
	return s.engine.Approve(ctx, contractID, partyID, signature)
}

func (s *Service) CancelContract(ctx context.Context, contractID string) error {
	return s.engine.Cancel(ctx, contractID)
}

func (s *Service) GetContractState(ctx context.Context, contractID string) (*models.Contract, error) {
	return s.engine.Get(ctx, contractID)
}

func (s *Service) RegisterTemplate(ctx context.Context, def templates.Definition) (string, error) {
	return s.templates.Register(ctx, def.Name, def.Parameters, def.Conditions, def.Actions)
}

func (s *Service) GetTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	return s.templates.Get(ctx, templateID)
}

// EscrowTerms are the ESCROW template parameters.
type EscrowTerms struct {
	Payer        string
	Payee        string
	PayerAccount string
	PayeeAccount string
	Amount       decimal.Decimal
}

// CreateEscrow deploys the latest ESCROW template between payer and payee.
func (s *Service) CreateEscrow(ctx context.Context, t EscrowTerms) (string, error) {
	return s.deployStandard(ctx, templates.NameEscrow, models.Params{
		"payer":        t.Payer,
		"payee":        t.Payee,
		"payerAccount": t.PayerAccount,
		"payeeAccount": t.PayeeAccount,
		"amount":       t.Amount.String(),
	}, []string{t.Payer, t.Payee})
}

// SwapLeg is one side of a swap: Amount moves From -> To.
type SwapLeg struct {
	From   string
	To     string
	Amount decimal.Decimal
}

// SwapTerms are the SWAP template parameters. Party1 gives Leg1 and Party2
// gives Leg2.
type SwapTerms struct {
	Party1 string
	Party2 string
	Leg1   SwapLeg
	Leg2   SwapLeg
}

func (s *Service) CreateSwap(ctx context.Context, t SwapTerms) (string, error) {
	return s.deployStandard(ctx, templates.NameSwap, models.Params{
		"party1":       t.Party1,
		"party2":       t.Party2,
		"asset1From":   t.Leg1.From,
		"asset1To":     t.Leg1.To,
		"asset1Amount": t.Leg1.Amount.String(),
		"asset2From":   t.Leg2.From,
		"asset2To":     t.Leg2.To,
		"asset2Amount": t.Leg2.Amount.String(),
	}, []string{t.Party1, t.Party2})
}

// LoanTerms are the LOAN template parameters. Interest is a rate applied
// once over Duration, written as a Go duration ("720h").
type LoanTerms struct {
	Lender            string
	Borrower          string
	LenderAccount     string
	BorrowerAccount   string
	CollateralAccount string
	Collateral        decimal.Decimal
	Amount            decimal.Decimal
	Interest          float64
	Duration          string
}

func (s *Service) CreateLoan(ctx context.Context, t LoanTerms) (string, error) {
	return s.deployStandard(ctx, templates.NameLoan, models.Params{
		"lender":            t.Lender,
		"borrower":          t.Borrower,
		"lenderAccount":     t.LenderAccount,
		"borrowerAccount":   t.BorrowerAccount,
		"collateralAccount": t.CollateralAccount,
		"collateral":        t.Collateral.String(),
		"amount":            t.Amount.String(),
		"interest":          t.Interest,
		"duration":          t.Duration,
	}, []string{t.Lender, t.Borrower})
}

func (s *Service) deployStandard(ctx context.Context, name string, params models.Params, parties []string) (string, error) {
	t, err := s.templates.Latest(ctx, name)
	if err != nil {
		return "", err
	}
	return s.engine.Deploy(ctx, t.ID, params, parties)
}

// ==========================
// Ledger
// ==========================

func (s *Service) CreateAccount(ctx context.Context, ownerID string, initialBalance decimal.Decimal) (*models.Account, error) {
	return s.ledger.CreateAccount(ctx, ownerID, initialBalance)
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.ledger.GetBalance(ctx, accountID)
}

func (s *Service) AssessRisk(ctx context.Context, accountID string, amount decimal.Decimal) (models.RiskAssessment, error) {
	return s.risk.Assess(ctx, accountID, amount)
}

// Transfer assesses the sender and settles the amount. The assessment is
// stored on the transaction record. Lack of funds is a FAILED record, not
// an error.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*models.Transaction, error) {
	assessment, err := s.risk.Assess(ctx, from, amount)
	if err != nil {
		return nil, err
	}
	if s.gate && assessment.Recommendation == models.RecommendAdditionalVerification {
		s.logger.Warn("Transfer held for verification", map[string]interface{}{
			"accountId": from,
			"score":     assessment.Score,
		})
		return nil, apperrors.NewRiskVerificationRequiredError(assessment.Score, string(assessment.Recommendation)).
			WithMetadata("accountId", from)
	}
	return s.ledger.Transfer(ctx, ledger.TransferRequest{
		From:   from,
		To:     to,
		Amount: amount,
		Risk:   &assessment,
	})
}

// RetryTransaction re-attempts a FAILED transfer.
func (s *Service) RetryTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.ledger.Retry(ctx, transactionID)
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.ledger.Transaction(ctx, transactionID)
}
