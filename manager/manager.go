// Package manager resolves opaque exchange-account ids to live, initialized
// adapters. Adapters are cached per account id so repeated calls reuse one
// authenticated client; credential records live in an external account
// store the manager only talks to through the AccountStore interface.
package manager

import (
	"context"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"tradecore/exchange"
	"tradecore/exchange/binance"
	"tradecore/exchange/coinbase"
	"tradecore/exchange/kraken"
	"tradecore/logger"
	"tradecore/models"
)

// AccountStore is the external collaborator holding credential records. The
// manager never persists or logs credential material itself.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*models.ExchangeAccount, error)
	SaveAccount(ctx context.Context, account *models.ExchangeAccount) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context) ([]models.ExchangeAccount, error)
}

// Factory constructs a concrete adapter for an exchange name. Swappable in
// tests.
type Factory func(exchangeName string, creds models.ExchangeCredentials) (exchange.Adapter, error)

// DefaultFactory knows the built-in exchanges.
func DefaultFactory(exchangeName string, creds models.ExchangeCredentials) (exchange.Adapter, error) {
	switch strings.ToLower(exchangeName) {
	case "binance":
		return binance.New(creds), nil
	case "coinbase":
		return coinbase.New(creds), nil
	case "kraken":
		return kraken.New(creds), nil
	default:
		return nil, exchange.NewValidationError("unsupported exchange %q", exchangeName)
	}
}

// Manager owns the adapter cache and the account lifecycle operations.
type Manager struct {
	store   AccountStore
	factory Factory
	log     *logger.Entry

	mu       sync.Mutex
	adapters map[string]exchange.Adapter
}

// New creates a manager over the given account store. A nil factory falls
// back to DefaultFactory.
func New(store AccountStore, factory Factory) *Manager {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Manager{
		store:    store,
		factory:  factory,
		log:      logger.GetLogger().WithComponent("exchange_manager"),
		adapters: make(map[string]exchange.Adapter),
	}
}

// GetAdapter resolves an account id to a live adapter. Cache hits return
// immediately; misses load the credential record, build the matching
// adapter, initialize it and cache it. Resolution failures are fatal to the
// calling operation, never retried.
func (m *Manager) GetAdapter(ctx context.Context, accountID string) (exchange.Adapter, error) {
	m.mu.Lock()
	if adapter, ok := m.adapters[accountID]; ok {
		m.mu.Unlock()
		return adapter, nil
	}
	m.mu.Unlock()

	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	adapter, err := m.factory(account.Exchange, account.Credentials)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		adapter.Close()
		return nil, err
	}

	m.mu.Lock()
	// Another caller may have won the race while we initialized.
	if existing, ok := m.adapters[accountID]; ok {
		m.mu.Unlock()
		adapter.Close()
		return existing, nil
	}
	m.adapters[accountID] = adapter
	m.mu.Unlock()

	m.log.WithFields(logger.Fields{
		"account_id": accountID,
		"exchange":   account.Exchange,
	}).Info("adapter initialized and cached")
	return adapter, nil
}

func (m *Manager) TestConnection(ctx context.Context, accountID string) (bool, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return false, err
	}
	return adapter.TestConnection(ctx)
}

func (m *Manager) CreateOrder(ctx context.Context, accountID string, req *models.OrderRequest) (*models.Order, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.CreateOrder(ctx, req)
}

func (m *Manager) GetOpenOrders(ctx context.Context, accountID, symbol string) ([]models.Order, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.GetOpenOrders(ctx, symbol)
}

func (m *Manager) CancelOrder(ctx context.Context, accountID, symbol, orderID string) (*models.Order, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.CancelOrder(ctx, symbol, orderID)
}

func (m *Manager) GetTicker(ctx context.Context, accountID, symbol string) (*models.Ticker, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.GetTicker(ctx, symbol)
}

func (m *Manager) GetOrderBook(ctx context.Context, accountID, symbol string, limit int) (*models.OrderBook, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.GetOrderBook(ctx, symbol, limit)
}

// GetMarketData fetches the ticker and order book in flight together.
func (m *Manager) GetMarketData(ctx context.Context, accountID, symbol string, limit int) (*models.MarketData, error) {
	adapter, err := m.GetAdapter(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		ticker  *models.Ticker
		book    *models.OrderBook
		tickErr error
		bookErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker, tickErr = adapter.GetTicker(ctx, symbol)
	}()
	go func() {
		defer wg.Done()
		book, bookErr = adapter.GetOrderBook(ctx, symbol, limit)
	}()
	wg.Wait()

	if tickErr != nil {
		return nil, tickErr
	}
	if bookErr != nil {
		return nil, bookErr
	}
	return &models.MarketData{Ticker: ticker, OrderBook: book}, nil
}

// CreateExchangeAccount verifies the candidate credentials against the live
// exchange before persisting anything: a throwaway adapter is built,
// initialized and connection-tested, and torn down regardless of outcome.
func (m *Manager) CreateExchangeAccount(ctx context.Context, account *models.ExchangeAccount) error {
	if err := m.verifyCredentials(ctx, account); err != nil {
		return err
	}
	if err := m.store.SaveAccount(ctx, account); err != nil {
		return err
	}
	m.log.WithFields(logger.Fields{
		"account_id": account.ID,
		"exchange":   account.Exchange,
	}).Info("exchange account created")
	return nil
}

// UpdateExchangeAccount runs the same test-connect-before-persist protocol
// and evicts any cached adapter still bound to the old credentials.
func (m *Manager) UpdateExchangeAccount(ctx context.Context, account *models.ExchangeAccount) error {
	if err := m.verifyCredentials(ctx, account); err != nil {
		return err
	}
	if err := m.store.SaveAccount(ctx, account); err != nil {
		return err
	}
	m.evict(account.ID)
	m.log.WithFields(logger.Fields{
		"account_id": account.ID,
		"exchange":   account.Exchange,
	}).Info("exchange account updated")
	return nil
}

// DeleteExchangeAccount tears down any cached adapter first so no
// authenticated client outlives its credential record.
func (m *Manager) DeleteExchangeAccount(ctx context.Context, accountID string) error {
	m.evict(accountID)
	if err := m.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	m.log.WithFields(logger.Fields{"account_id": accountID}).Info("exchange account deleted")
	return nil
}

// CloseAll closes every cached adapter and empties the cache, collecting
// individual close failures.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	adapters := m.adapters
	m.adapters = make(map[string]exchange.Adapter)
	m.mu.Unlock()

	var result *multierror.Error
	for accountID, adapter := range adapters {
		if err := adapter.Close(); err != nil {
			result = multierror.Append(result, err)
			m.log.WithError(err).WithFields(logger.Fields{
				"account_id": accountID,
			}).Warn("adapter close failed")
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) verifyCredentials(ctx context.Context, account *models.ExchangeAccount) error {
	probe, err := m.factory(account.Exchange, account.Credentials)
	if err != nil {
		return err
	}
	defer probe.Close()

	if err := probe.Initialize(ctx); err != nil {
		return err
	}
	ok, err := probe.TestConnection(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return exchange.NewAuthenticationError(account.Exchange, "connection test failed for account "+account.ID)
	}
	return nil
}

func (m *Manager) evict(accountID string) {
	m.mu.Lock()
	adapter, ok := m.adapters[accountID]
	if ok {
		delete(m.adapters, accountID)
	}
	m.mu.Unlock()
	if ok {
		adapter.Close()
	}
}
