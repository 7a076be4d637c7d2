package coinbase

import (
	"strings"

	"tradecore/exchange"
	"tradecore/models"
)

// Wire-format structs for the Coinbase Exchange REST API. Prices and sizes
// arrive as strings, timestamps as RFC3339; all conversion happens here.

type timeResponse struct {
	ISO   string  `json:"iso"`
	Epoch float64 `json:"epoch"`
}

type productResponse struct {
	ID            string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Status        string `json:"status"`
}

type tickerResponse struct {
	TradeID int64  `json:"trade_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	Volume  string `json:"volume"`
	Time    string `json:"time"`
}

type statsResponse struct {
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Volume      string `json:"volume"`
	Last        string `json:"last"`
	Volume30Day string `json:"volume_30day"`
}

func buildTicker(symbol string, tick tickerResponse, stats statsResponse) models.Ticker {
	last := exchange.FloatOr(tick.Price, 0)
	open := exchange.FloatOr(stats.Open, 0)
	change := 0.0
	changePct := 0.0
	if open > 0 && last > 0 {
		change = last - open
		changePct = change / open * 100
	}
	return models.Ticker{
		Exchange:      "coinbase",
		Symbol:        symbol,
		Last:          last,
		Bid:           exchange.FloatOr(tick.Bid, 0),
		Ask:           exchange.FloatOr(tick.Ask, 0),
		High:          exchange.FloatOr(stats.High, 0),
		Low:           exchange.FloatOr(stats.Low, 0),
		Volume:        exchange.FloatOr(stats.Volume, 0),
		Change:        change,
		ChangePercent: changePct,
		Timestamp:     exchange.TimeRFC3339(tick.Time),
	}
}

// bookResponse entries are [price, size, num_orders] with mixed types, so
// they decode as raw interface slices.
type bookResponse struct {
	Sequence int64           `json:"sequence"`
	Bids     [][]interface{} `json:"bids"`
	Asks     [][]interface{} `json:"asks"`
}

func (r bookResponse) toOrderBook(symbol string, limit int) models.OrderBook {
	return models.OrderBook{
		Exchange:  "coinbase",
		Symbol:    symbol,
		Bids:      parseLevels(r.Bids, limit),
		Asks:      parseLevels(r.Asks, limit),
		Timestamp: exchange.TimeMillis(nil),
	}
}

func parseLevels(raw [][]interface{}, limit int) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := exchange.Float(entry[0])
		if err != nil || price == 0 {
			continue
		}
		qty, err := exchange.Float(entry[1])
		if err != nil || qty == 0 {
			continue
		}
		orders := 1
		if len(entry) > 2 {
			orders = int(exchange.FloatOr(entry[2], 1))
		}
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty, OrderCount: orders})
		if limit > 0 && len(levels) >= limit {
			break
		}
	}
	return levels
}

type accountResponse struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Hold      string `json:"hold"`
}

type orderResponse struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FilledSize    string `json:"filled_size"`
	Status        string `json:"status"`
	Stop          string `json:"stop"`
	StopPrice     string `json:"stop_price"`
	TimeInForce   string `json:"time_in_force"`
	CreatedAt     string `json:"created_at"`
	DoneReason    string `json:"done_reason"`
	ExecutedValue string `json:"executed_value"`
}

func (r orderResponse) toOrder(a *Adapter) models.Order {
	amount := exchange.FloatOr(r.Size, 0)
	filled := exchange.FloatOr(r.FilledSize, 0)

	avgPrice := 0.0
	if filled > 0 {
		avgPrice = exchange.FloatOr(r.ExecutedValue, 0) / filled
	}

	return models.Order{
		ID:            r.ID,
		ClientOrderID: r.ClientOID,
		Exchange:      "coinbase",
		Symbol:        a.ParseSymbol(r.ProductID),
		Side:          parseSide(r.Side),
		Type:          parseOrderType(r.Type, r.Stop),
		Status:        parseOrderStatus(r.Status, r.DoneReason),
		Amount:        amount,
		Price:         exchange.FloatOr(r.Price, 0),
		StopPrice:     exchange.FloatOr(r.StopPrice, 0),
		Filled:        filled,
		Remaining:     amount - filled,
		AveragePrice:  avgPrice,
		TimeInForce:   models.TimeInForce(r.TimeInForce),
		Timestamp:     exchange.TimeRFC3339(r.CreatedAt),
	}
}

type publicTradeResponse struct {
	TradeID int64  `json:"trade_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	Time    string `json:"time"`
}

func (r publicTradeResponse) toTrade(symbol string) models.Trade {
	// The reported side is the maker side, so the aggressor took the
	// opposite direction.
	side := models.SideBuy
	if r.Side == "buy" {
		side = models.SideSell
	}
	return models.Trade{
		ID:        formatInt(r.TradeID),
		Exchange:  "coinbase",
		Symbol:    symbol,
		Side:      side,
		Price:     exchange.FloatOr(r.Price, 0),
		Quantity:  exchange.FloatOr(r.Size, 0),
		Timestamp: exchange.TimeRFC3339(r.Time),
	}
}

type fillResponse struct {
	TradeID   int64  `json:"trade_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	Side      string `json:"side"`
	CreatedAt string `json:"created_at"`
}

func (r fillResponse) toTrade(a *Adapter) models.Trade {
	// Fees are charged in the quote currency of the product.
	quote := ""
	product := a.FormatSymbol(r.ProductID)
	if i := strings.LastIndex(product, "-"); i > 0 {
		quote = product[i+1:]
	}
	return models.Trade{
		ID:        formatInt(r.TradeID),
		OrderID:   r.OrderID,
		Exchange:  "coinbase",
		Symbol:    a.ParseSymbol(r.ProductID),
		Side:      parseSide(r.Side),
		Price:     exchange.FloatOr(r.Price, 0),
		Quantity:  exchange.FloatOr(r.Size, 0),
		Fee:       exchange.FloatOr(r.Fee, 0),
		FeeAsset:  quote,
		Timestamp: exchange.TimeRFC3339(r.CreatedAt),
	}
}

func parseSide(s string) models.OrderSide {
	if s == "sell" {
		return models.SideSell
	}
	return models.SideBuy
}

func parseOrderType(t, stop string) models.OrderType {
	switch {
	case stop != "" && t == "limit":
		return models.TypeStopLimit
	case stop != "":
		return models.TypeStop
	case t == "market":
		return models.TypeMarket
	default:
		return models.TypeLimit
	}
}

func parseOrderStatus(status, doneReason string) models.OrderStatus {
	switch status {
	case "pending":
		return models.StatusNew
	case "open", "active":
		return models.StatusOpen
	case "done":
		if doneReason == "filled" {
			return models.StatusFilled
		}
		return models.StatusCanceled
	case "rejected":
		return models.StatusRejected
	default:
		return models.OrderStatus(status)
	}
}
