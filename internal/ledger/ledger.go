// Package ledger holds account balances and settles transfers between them.
//
// Every settlement locks the accounts it touches in ascending id order,
// computes the new balances on private copies and commits balances and
// transaction records as one unit. Insufficient funds never raise an error:
// they produce FAILED records and leave balances untouched.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/locks"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/common/observability"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

const (
	reasonInsufficientFunds = string(apperrors.ErrCodeInsufficientFunds)
	reasonBatchAborted      = "BATCH_ABORTED"

	accountLockPrefix     = "account:"
	transactionLockPrefix = "transaction:"
)

// Store is the persistence the ledger needs.
type Store interface {
	store.AccountStore
	store.TransactionStore
	store.SettlementStore
}

// IDGenerator is the random-id half of the sealing collaborator.
type IDGenerator interface {
	RandomID() string
}

// AuditSink receives every committed transaction record.
type AuditSink interface {
	IndexTransaction(ctx context.Context, t *models.Transaction) error
}

// TransferRequest describes one leg of a settlement.
type TransferRequest struct {
	From   string
	To     string
	Amount decimal.Decimal
	// Type defaults to TRANSFER, or ESCROW_RELEASE when FromEscrow is set.
	Type models.TransactionType
	// FromEscrow debits the hold tagged EscrowTag instead of the balance.
	FromEscrow bool
	EscrowTag  string
	ContractID string
	Risk       *models.RiskAssessment
}

type Ledger struct {
	store  Store
	locks  *locks.Table
	ids    IDGenerator
	audit  AuditSink
	clock  func() time.Time
	logger logger.Logger
}

type Option func(*Ledger)

func WithAuditSink(a AuditSink) Option {
	return func(l *Ledger) { l.audit = a }
}

func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLocks shares a lock table with other components.
func WithLocks(t *locks.Table) Option {
	return func(l *Ledger) { l.locks = t }
}

func New(s Store, ids IDGenerator, log logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		locks:  locks.NewTable(),
		ids:    ids,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.ForComponent(log, "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ==========================
// Accounts
// ==========================

// CreateAccount opens an account with a non-negative initial balance.
func (l *Ledger) CreateAccount(ctx context.Context, ownerID string, initial decimal.Decimal) (*models.Account, error) {
	if ownerID == "" {
		return nil, apperrors.NewValidationError("ownerId is required")
	}
	if initial.IsNegative() {
		return nil, apperrors.NewValidationError("initial balance must not be negative")
	}
	now := l.clock()
	acc := &models.Account{
		ID:        l.ids.RandomID(),
		OwnerID:   ownerID,
		Balance:   initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.SaveAccount(ctx, acc); err != nil {
		return nil, err
	}
	l.logger.Info("Account created", map[string]interface{}{
		"accountId": acc.ID,
		"ownerId":   ownerID,
		"balance":   initial.String(),
	})
	return acc, nil
}

func (l *Ledger) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := l.store.LoadAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (l *Ledger) Account(ctx context.Context, accountID string) (*models.Account, error) {
	return l.store.LoadAccount(ctx, accountID)
}

func (l *Ledger) Transaction(ctx context.Context, id string) (*models.Transaction, error) {
	return l.store.LoadTransaction(ctx, id)
}

// ==========================
// Settlement
// ==========================

// Transfer moves amount between two accounts.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	records, err := l.settle(ctx, []TransferRequest{req}, "")
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// TransferBatch applies every leg or none. Used by SWAP.
func (l *Ledger) TransferBatch(ctx context.Context, legs []TransferRequest) ([]*models.Transaction, error) {
	if len(legs) == 0 {
		return nil, apperrors.NewValidationError("batch has no legs")
	}
	return l.settle(ctx, legs, "")
}

// Hold moves amount from the account's balance into a sub-balance tagged tag.
func (l *Ledger) Hold(ctx context.Context, accountID, tag string, amount decimal.Decimal, contractID string) (*models.Transaction, error) {
	if tag == "" {
		return nil, apperrors.NewValidationError("escrow tag is required")
	}
	return l.Transfer(ctx, TransferRequest{
		From:       accountID,
		To:         accountID,
		Amount:     amount,
		Type:       models.TransactionEscrowHold,
		EscrowTag:  tag,
		ContractID: contractID,
	})
}

// Retry re-attempts a FAILED transfer. The failed record gains an attempt
// entry; a successful retry also produces a new COMPLETED record whose
// RetryOf names the original.
func (l *Ledger) Retry(ctx context.Context, transactionID string) (*models.Transaction, error) {
	orig, err := l.store.LoadTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.TransactionFailed {
		return nil, apperrors.NewInvalidStateError("retry", string(orig.Status))
	}
	if orig.Type == models.TransactionSwapLeg {
		return nil, apperrors.NewValidationError("swap legs settle together and cannot be retried individually")
	}

	req := TransferRequest{
		From:       orig.FromAccountID,
		To:         orig.ToAccountID,
		Amount:     orig.Amount,
		Type:       orig.Type,
		FromEscrow: orig.Type == models.TransactionEscrowRelease,
		EscrowTag:  orig.EscrowTag,
		ContractID: orig.ContractID,
		Risk:       orig.Risk,
	}
	records, err := l.settle(ctx, []TransferRequest{req}, transactionID)
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// settle applies reqs atomically. When retryOf is set the original record is
// reloaded under lock, gains an attempt entry and is committed alongside.
func (l *Ledger) settle(ctx context.Context, reqs []TransferRequest, retryOf string) ([]*models.Transaction, error) {
	ctx, span := observability.StartSpan(ctx, "ledger.settle", attribute.Int("legs", len(reqs)))
	defer span.End()

	normalized := make([]TransferRequest, len(reqs))
	lockIDs := make([]string, 0, 2*len(reqs)+1)
	for i, req := range reqs {
		n, err := normalize(req, len(reqs) > 1)
		if err != nil {
			return nil, err
		}
		normalized[i] = n
		lockIDs = append(lockIDs, accountLockPrefix+n.From, accountLockPrefix+n.To)
	}
	if retryOf != "" {
		lockIDs = append(lockIDs, transactionLockPrefix+retryOf)
	}

	unlock := l.locks.Lock(lockIDs...)
	defer unlock()

	var orig *models.Transaction
	if retryOf != "" {
		var err error
		if orig, err = l.store.LoadTransaction(ctx, retryOf); err != nil {
			return nil, err
		}
		if orig.Status != models.TransactionFailed {
			return nil, apperrors.NewInvalidStateError("retry", string(orig.Status))
		}
		for _, a := range orig.Attempts {
			if a.Status == models.TransactionCompleted {
				return nil, apperrors.NewInvalidStateError("retry", "SETTLED_BY_"+a.TransactionID)
			}
		}
	}

	accounts := make(map[string]*models.Account)
	order := make([]string, 0, len(lockIDs))
	for _, req := range normalized {
		for _, id := range []string{req.From, req.To} {
			if _, ok := accounts[id]; ok {
				continue
			}
			acc, err := l.store.LoadAccount(ctx, id)
			if err != nil {
				return nil, err
			}
			accounts[id] = acc
			order = append(order, id)
		}
	}

	now := l.clock()
	records := make([]*models.Transaction, len(normalized))
	for i, req := range normalized {
		records[i] = &models.Transaction{
			ID:            l.ids.RandomID(),
			FromAccountID: req.From,
			ToAccountID:   req.To,
			Amount:        req.Amount,
			Type:          req.Type,
			Status:        models.TransactionCompleted,
			Timestamp:     now,
			ContractID:    req.ContractID,
			EscrowTag:     req.EscrowTag,
			RetryOf:       retryOf,
			Risk:          req.Risk,
		}
	}

	failedLeg, available := apply(accounts, normalized)
	if failedLeg >= 0 {
		for i, rec := range records {
			rec.Status = models.TransactionFailed
			rec.FailureReason = reasonBatchAborted
			if i == failedLeg {
				rec.FailureReason = reasonInsufficientFunds
			}
		}
		l.logger.Info("Settlement rejected", map[string]interface{}{
			"accountId": normalized[failedLeg].From,
			"requested": normalized[failedLeg].Amount.String(),
			"available": available.String(),
			"legs":      len(normalized),
		})
	}

	var (
		toCommit []*models.Account
		persist  []*models.Transaction
	)
	if failedLeg < 0 {
		toCommit = make([]*models.Account, 0, len(order))
		for _, id := range order {
			acc := accounts[id]
			acc.UpdatedAt = now
			toCommit = append(toCommit, acc)
		}
	}
	if orig != nil {
		attempt := models.TransactionAttempt{At: now, Status: records[0].Status, Reason: records[0].FailureReason}
		if failedLeg < 0 {
			attempt.TransactionID = records[0].ID
			persist = append(persist, records...)
		}
		orig.Attempts = append(orig.Attempts, attempt)
		persist = append(persist, orig)
	} else {
		persist = records
	}

	if err := l.store.CommitSettlement(ctx, toCommit, persist); err != nil {
		span.RecordError(err)
		return nil, err
	}

	for _, rec := range records {
		metrics.LedgerTransfers.WithLabelValues(string(rec.Type), string(rec.Status)).Inc()
	}
	l.index(ctx, persist)
	return records, nil
}

// apply mutates accounts leg by leg. It returns the index of the first leg
// that lacks funds, or -1, with the funds that leg found available.
func apply(accounts map[string]*models.Account, legs []TransferRequest) (int, decimal.Decimal) {
	for i, leg := range legs {
		from, to := accounts[leg.From], accounts[leg.To]
		switch {
		case leg.Type == models.TransactionEscrowHold:
			if from.Balance.LessThan(leg.Amount) {
				return i, from.Balance
			}
			from.Balance = from.Balance.Sub(leg.Amount)
			if from.Held == nil {
				from.Held = make(map[string]decimal.Decimal)
			}
			from.Held[leg.EscrowTag] = from.Held[leg.EscrowTag].Add(leg.Amount)
		case leg.FromEscrow:
			held := from.Held[leg.EscrowTag]
			if held.LessThan(leg.Amount) {
				return i, held
			}
			if rest := held.Sub(leg.Amount); rest.IsZero() {
				delete(from.Held, leg.EscrowTag)
			} else {
				from.Held[leg.EscrowTag] = rest
			}
			to.Balance = to.Balance.Add(leg.Amount)
		default:
			if from.Balance.LessThan(leg.Amount) {
				return i, from.Balance
			}
			from.Balance = from.Balance.Sub(leg.Amount)
			to.Balance = to.Balance.Add(leg.Amount)
		}
	}
	return -1, decimal.Zero
}

func normalize(req TransferRequest, inBatch bool) (TransferRequest, error) {
	if req.From == "" || req.To == "" {
		return req, apperrors.NewValidationError("from and to accounts are required")
	}
	if !req.Amount.IsPositive() {
		return req, apperrors.NewValidationError(fmt.Sprintf("amount must be positive, got %s", req.Amount.String()))
	}
	if req.Type == "" {
		switch {
		case req.FromEscrow:
			req.Type = models.TransactionEscrowRelease
		case inBatch:
			req.Type = models.TransactionSwapLeg
		default:
			req.Type = models.TransactionTransfer
		}
	}
	if req.Type == models.TransactionEscrowHold {
		if req.From != req.To {
			return req, apperrors.NewValidationError("escrow hold must stay on one account")
		}
		return req, nil
	}
	if req.From == req.To {
		return req, apperrors.NewValidationError("from and to accounts must differ")
	}
	if req.FromEscrow && req.EscrowTag == "" {
		return req, apperrors.NewValidationError("escrow release requires a tag")
	}
	return req, nil
}

func (l *Ledger) index(ctx context.Context, records []*models.Transaction) {
	if l.audit == nil {
		return
	}
	for _, rec := range records {
		if err := l.audit.IndexTransaction(ctx, rec); err != nil {
			metrics.SinkFailures.WithLabelValues("audit").Inc()
			l.logger.Warn("Audit indexing failed", map[string]interface{}{
				"transactionId": rec.ID,
				"error":         err,
			})
		}
	}
}

// IsInsufficientFunds reports whether a record failed for lack of funds.
func IsInsufficientFunds(t *models.Transaction) bool {
	return t != nil && t.Status == models.TransactionFailed && t.FailureReason == reasonInsufficientFunds
}

// FailureError converts a FAILED record into an error for callers that treat
// failed settlement as fatal.
func FailureError(records ...*models.Transaction) error {
	var errs []error
	for _, rec := range records {
		if rec == nil || rec.Status != models.TransactionFailed {
			continue
		}
		if rec.FailureReason == reasonInsufficientFunds {
			errs = append(errs, apperrors.NewInsufficientFundsError(rec.FromAccountID, rec.Amount.String(), "below requested").
				WithMetadata("transactionId", rec.ID))
			continue
		}
		errs = append(errs, fmt.Errorf("transaction %s failed: %s", rec.ID, rec.FailureReason))
	}
	return errors.Join(errs...)
}
