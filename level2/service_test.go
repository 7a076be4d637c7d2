package level2

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"tradecore/exchange"
	"tradecore/models"
)

// bookAdapter serves a fixed order book, optionally failing every call.
type bookAdapter struct {
	name  string
	bids  []models.BookLevel
	asks  []models.BookLevel
	fail  bool
	calls int64
}

func (b *bookAdapter) Name() string                                { return b.name }
func (b *bookAdapter) Config() models.ExchangeConfig               { return models.ExchangeConfig{Name: b.name} }
func (b *bookAdapter) Initialize(ctx context.Context) error        { return nil }
func (b *bookAdapter) Close() error                                { return nil }
func (b *bookAdapter) TestConnection(ctx context.Context) (bool, error) { return true, nil }
func (b *bookAdapter) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}
func (b *bookAdapter) GetOrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	atomic.AddInt64(&b.calls, 1)
	if b.fail {
		return nil, exchange.NewNetworkError(b.name, "connection refused", nil)
	}
	return &models.OrderBook{
		Exchange: b.name, Symbol: symbol,
		Bids: b.bids, Asks: b.asks,
		Timestamp: time.Now(),
	}, nil
}
func (b *bookAdapter) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return nil, exchange.NewCapabilityError(b.name, "ticker")
}
func (b *bookAdapter) GetTickers(ctx context.Context) ([]models.Ticker, error) { return nil, nil }
func (b *bookAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return nil, nil
}
func (b *bookAdapter) GetAccount(ctx context.Context) ([]models.Balance, error) { return nil, nil }
func (b *bookAdapter) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	return nil, nil
}
func (b *bookAdapter) CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error) {
	return nil, exchange.NewCapabilityError(b.name, "orders")
}
func (b *bookAdapter) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	return nil, exchange.NewOrderNotFoundError(b.name, "order "+orderID)
}
func (b *bookAdapter) GetOrders(ctx context.Context, symbol string, limit int) ([]models.Order, error) {
	return nil, nil
}
func (b *bookAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}
func (b *bookAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	return nil, exchange.NewOrderNotFoundError(b.name, "order "+orderID)
}
func (b *bookAdapter) CancelAllOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return nil, nil
}
func (b *bookAdapter) GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	return nil, nil
}
func (b *bookAdapter) GetMyTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	return nil, nil
}
func (b *bookAdapter) FormatSymbol(symbol string) string { return symbol }
func (b *bookAdapter) ParseSymbol(symbol string) string  { return symbol }
func (b *bookAdapter) StreamOrderBook(ctx context.Context, symbol string, depth int) (exchange.BookStream, error) {
	return nil, exchange.NewCapabilityError(b.name, "order book streaming")
}

func twoExchangeService(cfg Config) (*Service, *bookAdapter, *bookAdapter) {
	binance := &bookAdapter{
		name: "binance",
		bids: []models.BookLevel{{Price: 100, Quantity: 1, OrderCount: 1}},
		asks: []models.BookLevel{{Price: 101, Quantity: 1, OrderCount: 1}},
	}
	kraken := &bookAdapter{
		name: "kraken",
		bids: []models.BookLevel{{Price: 100, Quantity: 2, OrderCount: 1}},
		asks: []models.BookLevel{{Price: 102, Quantity: 1, OrderCount: 1}},
	}
	svc := NewService(map[string]exchange.Adapter{"binance": binance, "kraken": kraken}, cfg)
	return svc, binance, kraken
}

func TestSubscribeRequiresCallback(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	_, err := svc.Subscribe(context.Background(), "BTCUSDT", nil, nil)
	if exchange.KindOf(err) != exchange.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubscribeRejectsUnknownExchange(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	_, err := svc.Subscribe(context.Background(), "BTCUSDT", func(*models.Level2Data) {}, []string{"ftx"})
	if exchange.KindOf(err) != exchange.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubscribePushesInitialSnapshotSynchronously(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	defer svc.Close()

	var got *models.Level2Data
	id, err := svc.Subscribe(context.Background(), "BTCUSDT", func(d *models.Level2Data) { got = d }, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer svc.Unsubscribe(id)

	if got == nil {
		t.Fatal("initial snapshot must be delivered before Subscribe returns")
	}
	if got.TotalBidVolume != 3 || got.TotalAskVolume != 2 {
		t.Fatalf("snapshot volumes = %v/%v, want 3/2", got.TotalBidVolume, got.TotalAskVolume)
	}
}

func TestSubscribersShareOnePollingLoop(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	defer svc.Close()

	noop := func(*models.Level2Data) {}
	first, err := svc.Subscribe(context.Background(), "btcusdt", noop, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	// Same symbol and exchange set spelled differently resolves to the same key.
	second, err := svc.Subscribe(context.Background(), "BTCUSDT", noop, []string{"KRAKEN", "binance"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	svc.mu.Lock()
	loops := len(svc.subs)
	svc.mu.Unlock()
	if loops != 1 {
		t.Fatalf("polling loops = %d, want 1 shared loop", loops)
	}

	if err := svc.Unsubscribe(first); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	svc.mu.Lock()
	loops = len(svc.subs)
	svc.mu.Unlock()
	if loops != 1 {
		t.Fatal("loop must survive while a subscriber remains")
	}

	if err := svc.Unsubscribe(second); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	svc.mu.Lock()
	loops = len(svc.subs)
	svc.mu.Unlock()
	if loops != 0 {
		t.Fatal("last unsubscribe must stop the loop")
	}
}

func TestUnsubscribeUnknownID(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	if err := svc.Unsubscribe("nope"); exchange.KindOf(err) != exchange.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPollingDeliversUpdates(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: 10 * time.Millisecond})
	defer svc.Close()

	updates := make(chan *models.Level2Data, 16)
	id, err := svc.Subscribe(context.Background(), "BTCUSDT", func(d *models.Level2Data) {
		select {
		case updates <- d:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer svc.Unsubscribe(id)

	// Initial snapshot plus at least one ticked refresh.
	for i := 0; i < 2; i++ {
		select {
		case <-updates:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for polled update")
		}
	}
}

func TestAggregateSkipsFailingExchange(t *testing.T) {
	svc, _, kraken := twoExchangeService(Config{Interval: time.Hour})
	kraken.fail = true

	data, err := svc.GetAggregatedLevel2Data(context.Background(), "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("one healthy exchange should be enough: %v", err)
	}
	if len(data.Exchanges) != 1 || data.Exchanges[0] != "binance" {
		t.Fatalf("exchanges = %v, want [binance] only", data.Exchanges)
	}
	if data.TotalBidVolume != 1 {
		t.Fatalf("bid volume = %v, want binance's 1", data.TotalBidVolume)
	}
}

func TestAggregateFailsWhenAllExchangesFail(t *testing.T) {
	svc, binance, kraken := twoExchangeService(Config{Interval: time.Hour})
	binance.fail = true
	kraken.fail = true

	_, err := svc.GetAggregatedLevel2Data(context.Background(), "BTCUSDT", nil)
	if err == nil {
		t.Fatal("expected error when every exchange failed")
	}
}

func TestAggregatedDataServedFromCache(t *testing.T) {
	svc, binance, _ := twoExchangeService(Config{Interval: time.Hour, CacheTTL: time.Hour})

	if _, err := svc.GetAggregatedLevel2Data(context.Background(), "BTCUSDT", nil); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := svc.GetAggregatedLevel2Data(context.Background(), "BTCUSDT", nil); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if calls := atomic.LoadInt64(&binance.calls); calls != 1 {
		t.Fatalf("adapter calls = %d, want 1 (second fetch from cache)", calls)
	}
}

func TestDerivedViews(t *testing.T) {
	svc, _, _ := twoExchangeService(Config{Interval: time.Hour})
	ctx := context.Background()

	flow, err := svc.GetOrderFlow(ctx, "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("GetOrderFlow failed: %v", err)
	}
	if flow.MarketPressure != "bullish" {
		t.Fatalf("pressure = %q, want bullish for 0.2 imbalance", flow.MarketPressure)
	}

	analysis, err := svc.GetMarketDepthAnalysis(ctx, "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("GetMarketDepthAnalysis failed: %v", err)
	}
	if analysis.OrderFlowImbalance != flow.OrderFlowImbalance {
		t.Fatal("views must derive from the same aggregate")
	}

	heatmap, err := svc.GetLiquidityHeatmap(ctx, "BTCUSDT", nil)
	if err != nil {
		t.Fatalf("GetLiquidityHeatmap failed: %v", err)
	}
	if heatmap.Symbol != "BTCUSDT" {
		t.Fatalf("heatmap symbol = %q", heatmap.Symbol)
	}
}
