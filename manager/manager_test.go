package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradecore/exchange"
	"tradecore/models"
)

// fakeAdapter counts lifecycle calls and can be scripted to fail.
type fakeAdapter struct {
	name        string
	initErr     error
	connectOK   bool
	connectErr  error
	initCalls   int
	closeCalls  int
	tickerCalls int
}

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) Config() models.ExchangeConfig { return models.ExchangeConfig{Name: f.name} }
func (f *fakeAdapter) Initialize(ctx context.Context) error {
	f.initCalls++
	return f.initErr
}
func (f *fakeAdapter) Close() error {
	f.closeCalls++
	return nil
}
func (f *fakeAdapter) TestConnection(ctx context.Context) (bool, error) {
	return f.connectOK, f.connectErr
}
func (f *fakeAdapter) GetServerTime(ctx context.Context) (time.Time, error) { return time.Now(), nil }
func (f *fakeAdapter) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	f.tickerCalls++
	return &models.Ticker{Exchange: f.name, Symbol: symbol, Last: 100}, nil
}
func (f *fakeAdapter) GetTickers(ctx context.Context) ([]models.Ticker, error) { return nil, nil }
func (f *fakeAdapter) GetOrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	return &models.OrderBook{Exchange: f.name, Symbol: symbol}, nil
}
func (f *fakeAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (f *fakeAdapter) GetAccount(ctx context.Context) ([]models.Balance, error) { return nil, nil }
func (f *fakeAdapter) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	return nil, nil
}
func (f *fakeAdapter) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	return &models.Order{ID: "1", Exchange: f.name, Symbol: req.Symbol, Status: models.StatusNew}, nil
}
func (f *fakeAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	return nil, exchange.NewOrderNotFoundError(f.name, "order "+orderID)
}
func (f *fakeAdapter) GetOrders(ctx context.Context, symbol string, limit int) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: models.StatusCanceled}, nil
}
func (f *fakeAdapter) CancelAllOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	return nil, nil
}
func (f *fakeAdapter) GetMyTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	return nil, nil
}
func (f *fakeAdapter) FormatSymbol(symbol string) string { return symbol }
func (f *fakeAdapter) ParseSymbol(symbol string) string  { return symbol }
func (f *fakeAdapter) StreamOrderBook(ctx context.Context, symbol string, depth int) (exchange.BookStream, error) {
	return nil, exchange.NewCapabilityError(f.name, "order book streaming")
}

// fakeFactory hands out pre-built adapters and records construction.
type fakeFactory struct {
	adapters []*fakeAdapter
	next     int
}

func (ff *fakeFactory) build(exchangeName string, creds models.ExchangeCredentials) (exchange.Adapter, error) {
	if ff.next >= len(ff.adapters) {
		ff.adapters = append(ff.adapters, &fakeAdapter{name: exchangeName, connectOK: true})
	}
	adapter := ff.adapters[ff.next]
	ff.next++
	return adapter, nil
}

func seedAccount(t *testing.T, store *MemoryStore, id string) {
	t.Helper()
	err := store.SaveAccount(context.Background(), &models.ExchangeAccount{
		ID: id, Name: "main", Exchange: "binance",
		Credentials: models.ExchangeCredentials{APIKey: "k", APISecret: "s"},
	})
	require.NoError(t, err)
}

func TestGetAdapterCachesPerAccount(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	ff := &fakeFactory{}
	m := New(store, ff.build)

	first, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)
	second, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, ff.next, "factory must run once per account")
	require.Equal(t, 1, ff.adapters[0].initCalls)
}

func TestGetAdapterUnknownAccountIsFatal(t *testing.T) {
	m := New(NewMemoryStore(), (&fakeFactory{}).build)
	_, err := m.GetAdapter(context.Background(), "missing")
	require.Equal(t, exchange.KindValidation, exchange.KindOf(err))
}

func TestGetAdapterClosesOnInitFailure(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	broken := &fakeAdapter{name: "binance", initErr: exchange.NewNetworkError("binance", "timeout", nil)}
	m := New(store, (&fakeFactory{adapters: []*fakeAdapter{broken}}).build)

	_, err := m.GetAdapter(context.Background(), "acct-1")
	require.Equal(t, exchange.KindNetwork, exchange.KindOf(err))
	require.Equal(t, 1, broken.closeCalls, "failed adapter must be closed, not leaked")
}

func TestCreateAccountVerifiesBeforePersist(t *testing.T) {
	store := NewMemoryStore()
	probe := &fakeAdapter{name: "binance", connectOK: false}
	m := New(store, (&fakeFactory{adapters: []*fakeAdapter{probe}}).build)

	err := m.CreateExchangeAccount(context.Background(), &models.ExchangeAccount{
		ID: "acct-1", Exchange: "binance",
		Credentials: models.ExchangeCredentials{APIKey: "bad", APISecret: "bad"},
	})
	require.Equal(t, exchange.KindAuthentication, exchange.KindOf(err))
	require.Equal(t, 1, probe.closeCalls, "probe adapter must be torn down")

	_, err = store.GetAccount(context.Background(), "acct-1")
	require.Error(t, err, "failed verification must not persist the account")
}

func TestCreateAccountPersistsOnSuccess(t *testing.T) {
	store := NewMemoryStore()
	probe := &fakeAdapter{name: "binance", connectOK: true}
	m := New(store, (&fakeFactory{adapters: []*fakeAdapter{probe}}).build)

	err := m.CreateExchangeAccount(context.Background(), &models.ExchangeAccount{
		ID: "acct-1", Exchange: "binance",
		Credentials: models.ExchangeCredentials{APIKey: "k", APISecret: "s"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, probe.closeCalls)

	account, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, "binance", account.Exchange)
}

func TestUpdateAccountEvictsCachedAdapter(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	cached := &fakeAdapter{name: "binance", connectOK: true}
	probe := &fakeAdapter{name: "binance", connectOK: true}
	fresh := &fakeAdapter{name: "binance", connectOK: true}
	m := New(store, (&fakeFactory{adapters: []*fakeAdapter{cached, probe, fresh}}).build)

	_, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)

	err = m.UpdateExchangeAccount(context.Background(), &models.ExchangeAccount{
		ID: "acct-1", Exchange: "binance",
		Credentials: models.ExchangeCredentials{APIKey: "new", APISecret: "new"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, cached.closeCalls, "stale adapter must be evicted and closed")

	got, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Same(t, exchange.Adapter(fresh), got, "next resolution must build a fresh adapter")
}

func TestDeleteAccountTearsDownAdapterFirst(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	cached := &fakeAdapter{name: "binance", connectOK: true}
	m := New(store, (&fakeFactory{adapters: []*fakeAdapter{cached}}).build)

	_, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)

	require.NoError(t, m.DeleteExchangeAccount(context.Background(), "acct-1"))
	require.Equal(t, 1, cached.closeCalls)

	_, err = m.GetAdapter(context.Background(), "acct-1")
	require.Error(t, err, "deleted account must no longer resolve")
}

func TestGetMarketDataCombinesTickerAndBook(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	m := New(store, (&fakeFactory{}).build)

	data, err := m.GetMarketData(context.Background(), "acct-1", "BTCUSDT", 50)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", data.Ticker.Symbol)
	require.Equal(t, "BTCUSDT", data.OrderBook.Symbol)
}

func TestCloseAllEmptiesCache(t *testing.T) {
	store := NewMemoryStore()
	seedAccount(t, store, "acct-1")
	seedAccount(t, store, "acct-2")
	ff := &fakeFactory{}
	m := New(store, ff.build)

	_, err := m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)
	_, err = m.GetAdapter(context.Background(), "acct-2")
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	for _, adapter := range ff.adapters {
		require.Equal(t, 1, adapter.closeCalls)
	}

	_, err = m.GetAdapter(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, 3, ff.next, "post-close resolution must rebuild the adapter")
}

func TestDefaultFactoryRejectsUnknownExchange(t *testing.T) {
	_, err := DefaultFactory("ftx", models.ExchangeCredentials{})
	require.Equal(t, exchange.KindValidation, exchange.KindOf(err))
}
