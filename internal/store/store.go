// Package store defines the persistence collaborator. Implementations return
// copies; the engine's own locking guarantees a single writer per id.
package store

import (
	"context"
	"time"

	"settlement-engine/internal/models"
)

// Missing entities are reported as NOT_FOUND StandardErrors.
type TemplateStore interface {
	LoadTemplate(ctx context.Context, id string) (*models.Template, error)
	SaveTemplate(ctx context.Context, t *models.Template) error
	// LatestTemplateByName returns the highest version registered under name.
	LatestTemplateByName(ctx context.Context, name string) (*models.Template, error)
}

type ContractStore interface {
	LoadContract(ctx context.Context, id string) (*models.Contract, error)
	SaveContract(ctx context.Context, c *models.Contract) error
	ListContractsByState(ctx context.Context, state models.ContractState) ([]*models.Contract, error)
}

type AccountStore interface {
	LoadAccount(ctx context.Context, id string) (*models.Account, error)
	SaveAccount(ctx context.Context, a *models.Account) error
}

type TransactionStore interface {
	LoadTransaction(ctx context.Context, id string) (*models.Transaction, error)
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	// CountCompletedSince counts COMPLETED transactions touching accountID
	// (either side) at or after since.
	CountCompletedSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// SettlementStore commits balance changes and their transaction records as one unit.
type SettlementStore interface {
	CommitSettlement(ctx context.Context, accounts []*models.Account, records []*models.Transaction) error
}

type Store interface {
	TemplateStore
	ContractStore
	AccountStore
	TransactionStore
	SettlementStore
}
