// Package postgres is the durable Store. Contract and template documents are
// sealed before they are written.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

var _ store.Store = (*Store)(nil)

// Sealer encrypts documents at rest.
type Sealer interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	queryInsertTemplate = `INSERT INTO templates (id, name, version, document, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`
	querySelectTemplate       = `SELECT document FROM templates WHERE id = $1`
	querySelectLatestTemplate = `SELECT document FROM templates WHERE name = $1 ORDER BY version DESC LIMIT 1`

	queryUpsertContract = `INSERT INTO contracts (id, template_id, state, document, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`
	querySelectContract         = `SELECT document FROM contracts WHERE id = $1`
	querySelectContractsByState = `SELECT document FROM contracts WHERE state = $1 ORDER BY updated_at`

	queryUpsertAccount = `INSERT INTO accounts (id, owner_id, balance, held, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, held = EXCLUDED.held, updated_at = EXCLUDED.updated_at`
	querySelectAccount = `SELECT id, owner_id, balance, held, created_at, updated_at FROM accounts WHERE id = $1`

	queryUpsertTransaction = `INSERT INTO transactions (id, from_account_id, to_account_id, amount, type, status, contract_id, created_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, document = EXCLUDED.document`
	querySelectTransaction = `SELECT document FROM transactions WHERE id = $1`
	queryCountCompleted    = `SELECT COUNT(*) FROM transactions
		WHERE (from_account_id = $1 OR to_account_id = $1) AND status = $2 AND created_at >= $3`
)

type Store struct {
	db     *sql.DB
	sealer Sealer
}

func New(db *sql.DB, sealer Sealer) *Store {
	return &Store{db: db, sealer: sealer}
}

// ==========================
// Templates
// ==========================

func (s *Store) SaveTemplate(ctx context.Context, t *models.Template) error {
	doc, err := s.seal(t)
	if err != nil {
		return apperrors.NewStorageError("seal template", err)
	}
	if _, err := s.db.ExecContext(ctx, queryInsertTemplate, t.ID, t.Name, t.Version, doc, t.CreatedAt); err != nil {
		return apperrors.NewStorageError("insert template", err)
	}
	return nil
}

func (s *Store) LoadTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	if err := s.loadSealed(ctx, querySelectTemplate, id, "Template", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) LatestTemplateByName(ctx context.Context, name string) (*models.Template, error) {
	var t models.Template
	if err := s.loadSealed(ctx, querySelectLatestTemplate, name, "Template", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ==========================
// Contracts
// ==========================

func (s *Store) SaveContract(ctx context.Context, c *models.Contract) error {
	doc, err := s.seal(c)
	if err != nil {
		return apperrors.NewStorageError("seal contract", err)
	}
	if _, err := s.db.ExecContext(ctx, queryUpsertContract, c.ID, c.TemplateID, string(c.State), doc, c.UpdatedAt); err != nil {
		return apperrors.NewStorageError("upsert contract", err)
	}
	return nil
}

func (s *Store) LoadContract(ctx context.Context, id string) (*models.Contract, error) {
	var c models.Contract
	if err := s.loadSealed(ctx, querySelectContract, id, "Contract", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListContractsByState(ctx context.Context, state models.ContractState) ([]*models.Contract, error) {
	rows, err := s.db.QueryContext(ctx, querySelectContractsByState, string(state))
	if err != nil {
		return nil, apperrors.NewStorageError("list contracts", err)
	}
	defer rows.Close()

	var out []*models.Contract
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.NewStorageError("scan contract", err)
		}
		var c models.Contract
		if err := s.open(doc, &c); err != nil {
			return nil, apperrors.NewStorageError("open contract", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("list contracts", err)
	}
	return out, nil
}

// ==========================
// Accounts & Transactions
// ==========================

func (s *Store) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	var (
		a    models.Account
		held []byte
	)
	err := s.db.QueryRowContext(ctx, querySelectAccount, id).Scan(
		&a.ID, &a.OwnerID, &a.Balance, &held, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("Account", id)
		}
		return nil, apperrors.NewStorageError("select account", err)
	}
	if len(held) > 0 {
		if err := json.Unmarshal(held, &a.Held); err != nil {
			return nil, apperrors.NewStorageError("decode holds", err)
		}
	}
	return &a, nil
}

func (s *Store) SaveAccount(ctx context.Context, a *models.Account) error {
	return saveAccount(ctx, s.db, a)
}

func (s *Store) LoadTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var doc []byte
	if err := s.db.QueryRowContext(ctx, querySelectTransaction, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("Transaction", id)
		}
		return nil, apperrors.NewStorageError("select transaction", err)
	}
	var t models.Transaction
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, apperrors.NewStorageError("decode transaction", err)
	}
	return &t, nil
}

func (s *Store) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	return saveTransaction(ctx, s.db, t)
}

func (s *Store) CountCompletedSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, queryCountCompleted, accountID, string(models.TransactionCompleted), since).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStorageError("count transactions", err)
	}
	return n, nil
}

// CommitSettlement writes balances and records in one SQL transaction.
func (s *Store) CommitSettlement(ctx context.Context, accounts []*models.Account, records []*models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin settlement", err)
	}
	for _, a := range accounts {
		if err := saveAccount(ctx, tx, a); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, t := range records {
		if err := saveTransaction(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit settlement", err)
	}
	return nil
}

func saveAccount(ctx context.Context, db execer, a *models.Account) error {
	held := a.Held
	if held == nil {
		held = map[string]decimal.Decimal{}
	}
	heldJSON, err := json.Marshal(held)
	if err != nil {
		return apperrors.NewStorageError("encode holds", err)
	}
	if _, err := db.ExecContext(ctx, queryUpsertAccount,
		a.ID, a.OwnerID, a.Balance.String(), heldJSON, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return apperrors.NewStorageError("upsert account", err)
	}
	return nil
}

func saveTransaction(ctx context.Context, db execer, t *models.Transaction) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return apperrors.NewStorageError("encode transaction", err)
	}
	var contractID sql.NullString
	if t.ContractID != "" {
		contractID = sql.NullString{String: t.ContractID, Valid: true}
	}
	if _, err := db.ExecContext(ctx, queryUpsertTransaction,
		t.ID, t.FromAccountID, t.ToAccountID, t.Amount.String(), string(t.Type), string(t.Status),
		contractID, t.Timestamp, doc,
	); err != nil {
		return apperrors.NewStorageError("upsert transaction", err)
	}
	return nil
}

// ==========================
// Sealing helpers
// ==========================

func (s *Store) seal(v interface{}) ([]byte, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return s.sealer.Encrypt(plain)
}

func (s *Store) open(doc []byte, v interface{}) error {
	plain, err := s.sealer.Decrypt(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

func (s *Store) loadSealed(ctx context.Context, query, key, kind string, v interface{}) error {
	var doc []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError(kind, key)
		}
		return apperrors.NewStorageError("select "+kind, err)
	}
	if err := s.open(doc, v); err != nil {
		return apperrors.NewStorageError("open "+kind, err)
	}
	return nil
}
