package models

import "time"

// Ticker is a normalized 24h market snapshot. Recomputed on every fetch,
// never cached by adapters.
type Ticker struct {
	Exchange      string    `json:"exchange"`
	Symbol        string    `json:"symbol"`
	Last          float64   `json:"last"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	QuoteVolume   float64   `json:"quoteVolume"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

// BookLevel is a single price level of one exchange's order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	// OrderCount is the number of resting orders at this level when the
	// exchange reports it, otherwise 1.
	OrderCount int `json:"orderCount"`
}

// OrderBook is a normalized depth snapshot from a single exchange.
// Bids are sorted descending by price, asks ascending.
type OrderBook struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// Candle is a normalized OHLCV bar.
type Candle struct {
	OpenTime  time.Time `json:"openTime"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"closeTime"`
}

// Trade is a normalized public or own execution.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId,omitempty"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Fee       float64   `json:"fee,omitempty"`
	FeeAsset  string    `json:"feeAsset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance is a normalized per-asset account balance.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// MarketData bundles the two snapshots the manager's combined call returns.
type MarketData struct {
	Ticker    *Ticker    `json:"ticker"`
	OrderBook *OrderBook `json:"orderBook"`
}
