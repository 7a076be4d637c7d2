package manager

import (
	"context"
	"sync"

	"tradecore/exchange"
	"tradecore/models"
)

// MemoryStore is an in-process AccountStore, used standalone and in tests.
// Credential records never leave the map.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.ExchangeAccount
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]models.ExchangeAccount)}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.ExchangeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, exchange.NewValidationError("unknown exchange account %q", id)
	}
	return &account, nil
}

func (s *MemoryStore) SaveAccount(ctx context.Context, account *models.ExchangeAccount) error {
	if account.ID == "" {
		return exchange.NewValidationError("exchange account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = *account
	return nil
}

func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return exchange.NewValidationError("unknown exchange account %q", id)
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]models.ExchangeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]models.ExchangeAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	return accounts, nil
}
