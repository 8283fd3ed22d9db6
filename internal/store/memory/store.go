// Package memory is the in-process Store used for tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu           sync.RWMutex
	templates    map[string]*models.Template
	contracts    map[string]*models.Contract
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
}

func New() *Store {
	return &Store{
		templates:    make(map[string]*models.Template),
		contracts:    make(map[string]*models.Contract),
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
	}
}

func (s *Store) LoadTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Template", id)
	}
	return t.Clone(), nil
}

func (s *Store) SaveTemplate(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *Store) LatestTemplateByName(_ context.Context, name string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Template
	for _, t := range s.templates {
		if t.Name == name && (latest == nil || t.Version > latest.Version) {
			latest = t
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFoundError("Template", name)
	}
	return latest.Clone(), nil
}

func (s *Store) LoadContract(_ context.Context, id string) (*models.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Contract", id)
	}
	return c.Clone(), nil
}

func (s *Store) SaveContract(_ context.Context, c *models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c.Clone()
	return nil
}

// ListContractsByState returns matches ordered by creation time.
func (s *Store) ListContractsByState(_ context.Context, state models.ContractState) ([]*models.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contract
	for _, c := range s.contracts {
		if c.State == state {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) LoadAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Account", id)
	}
	return a.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *Store) LoadTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Transaction", id)
	}
	return t.Clone(), nil
}

func (s *Store) SaveTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t.Clone()
	return nil
}

func (s *Store) CountCompletedSince(_ context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.transactions {
		if t.Status != models.TransactionCompleted || t.Timestamp.Before(since) {
			continue
		}
		if t.FromAccountID == accountID || t.ToAccountID == accountID {
			n++
		}
	}
	return n, nil
}

// CommitSettlement applies accounts and records under one write lock, so no
// reader observes half of a settlement.
func (s *Store) CommitSettlement(_ context.Context, accounts []*models.Account, records []*models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accounts {
		s.accounts[a.ID] = a.Clone()
	}
	for _, t := range records {
		s.transactions[t.ID] = t.Clone()
	}
	return nil
}

// Accounts returns a snapshot of every account, for invariant checks.
func (s *Store) Accounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
