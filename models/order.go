package models

import (
	"fmt"
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the normalized order type shared by all adapters. Adapters
// translate these to their exchange-specific equivalents, lossily where the
// exchange has no native counterpart.
type OrderType string

const (
	TypeMarket       OrderType = "MARKET"
	TypeLimit        OrderType = "LIMIT"
	TypeStop         OrderType = "STOP"
	TypeStopLimit    OrderType = "STOP_LIMIT"
	TypeTakeProfit   OrderType = "TAKE_PROFIT"
	TypeTrailingStop OrderType = "TRAILING_STOP"
	TypeIceberg      OrderType = "ICEBERG"
	TypeOCO          OrderType = "OCO"
	TypeConditional  OrderType = "CONDITIONAL"
)

// OrderStatus is the normalized lifecycle state reported by exchanges.
// Adapters never mutate an order locally; status transitions only come back
// through get/cancel calls.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusOpen            OrderStatus = "OPEN"
	StatusClosed          OrderStatus = "CLOSED"
)

// TimeInForce controls how long an order stays working on the book.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
)

// TriggerSource selects the price feed a conditional order triggers on.
type TriggerSource string

const (
	TriggerLast  TriggerSource = "LAST"
	TriggerMark  TriggerSource = "MARK"
	TriggerIndex TriggerSource = "INDEX"
)

// OrderRequest is the normalized order submission model. Optional fields are
// zero when unused; adapters drop parameters their exchange does not accept.
type OrderRequest struct {
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Amount        float64     `json:"amount"`
	Price         float64     `json:"price,omitempty"`
	StopPrice     float64     `json:"stopPrice,omitempty"`
	TimeInForce   TimeInForce `json:"timeInForce,omitempty"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	IcebergQty    float64     `json:"icebergQty,omitempty"`
	// TrailingDelta is an absolute price offset for trailing stops;
	// TrailingPercent is the relative alternative. Adapters that support
	// only one mode reject the other with a capability error.
	TrailingDelta   float64       `json:"trailingDelta,omitempty"`
	TrailingPercent float64       `json:"trailingPercent,omitempty"`
	TriggerPrice    float64       `json:"triggerPrice,omitempty"`
	TriggerBy       TriggerSource `json:"triggerBy,omitempty"`
}

// Validate checks the cross-field invariants every adapter relies on before
// building an exchange request.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order symbol is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid order side %q", r.Side)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("order amount must be positive, got %v", r.Amount)
	}
	if r.Price < 0 {
		return fmt.Errorf("order price must be positive, got %v", r.Price)
	}
	switch r.Type {
	case TypeLimit, TypeStopLimit, TypeIceberg:
		if r.Price == 0 {
			return fmt.Errorf("%s order requires a price", r.Type)
		}
	}
	switch r.Type {
	case TypeStop, TypeStopLimit:
		if r.StopPrice <= 0 {
			return fmt.Errorf("%s order requires a stop price", r.Type)
		}
	}
	return nil
}

// Order is the normalized view of an exchange-side order.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"clientOrderId,omitempty"`
	Exchange      string      `json:"exchange"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Status        OrderStatus `json:"status"`
	Amount        float64     `json:"amount"`
	Price         float64     `json:"price,omitempty"`
	StopPrice     float64     `json:"stopPrice,omitempty"`
	Filled        float64     `json:"filled"`
	Remaining     float64     `json:"remaining"`
	AveragePrice  float64     `json:"averagePrice,omitempty"`
	TimeInForce   TimeInForce `json:"timeInForce,omitempty"`
	// GroupID ties legs of a multi-order strategy together, e.g. both legs
	// of an OCO pair. Empty for standalone orders.
	GroupID   string    `json:"groupId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsOpen reports whether the order is still working on the exchange.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case StatusNew, StatusPartiallyFilled, StatusOpen:
		return true
	}
	return false
}
