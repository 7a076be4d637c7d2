package exchange

import (
	"context"
	"time"

	"tradecore/models"
)

// Adapter is the uniform contract every concrete exchange implements. All
// operations take a context and return normalized domain types; exchange-
// specific wire shapes never leak past the adapter boundary.
type Adapter interface {
	// Name returns the lowercase exchange identifier ("binance", ...).
	Name() string
	// Config returns the static capability descriptor for the exchange.
	Config() models.ExchangeConfig

	// Initialize verifies connectivity and clock skew. It must be called
	// before any authenticated operation.
	Initialize(ctx context.Context) error
	// Close releases any resources held by the adapter.
	Close() error
	// TestConnection verifies the credentials against an authenticated
	// endpoint, falling back to a public one when no credentials are set.
	TestConnection(ctx context.Context) (bool, error)
	GetServerTime(ctx context.Context) (time.Time, error)

	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	// GetTickers fetches all tradable symbols. One failing item is skipped,
	// the rest continue.
	GetTickers(ctx context.Context) ([]models.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	GetAccount(ctx context.Context) ([]models.Balance, error)
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)

	CreateOrder(ctx context.Context, req *models.OrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
	GetOrders(ctx context.Context, symbol string, limit int) ([]models.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
	CancelAllOrders(ctx context.Context, symbol string) ([]models.Order, error)

	GetTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
	GetMyTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)

	// FormatSymbol converts a canonical symbol ("BTCUSDT") into the
	// exchange's native format.
	FormatSymbol(symbol string) string
	// ParseSymbol converts an exchange-native symbol back to canonical
	// form, inverting FormatSymbol.
	ParseSymbol(symbol string) string

	// StreamOrderBook opens a live depth stream for the symbol. Exchanges
	// without a streaming implementation return a capability error.
	StreamOrderBook(ctx context.Context, symbol string, depth int) (BookStream, error)
}

// OCOPlacer is implemented by adapters with a native one-cancels-other
// endpoint. The advanced orders service type-asserts for it before falling
// back to client-side synthesis.
type OCOPlacer interface {
	CreateOCO(ctx context.Context, req *OCORequest) ([]models.Order, error)
}

// OCORequest carries the two legs of a one-cancels-other order in
// exchange-neutral form.
type OCORequest struct {
	Symbol         string
	Side           models.OrderSide
	Amount         float64
	LimitPrice     float64
	StopPrice      float64
	StopLimitPrice float64
}
