package binance

import (
	"time"

	"tradecore/exchange"
	"tradecore/models"
)

// Wire-format structs for the Binance spot REST API. Numeric fields arrive
// as strings; conversion into the normalized domain types happens here and
// nowhere else.

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type ticker24hResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	CloseTime          int64  `json:"closeTime"`
}

func (r ticker24hResponse) toTicker(a *Adapter) models.Ticker {
	return models.Ticker{
		Exchange:      "binance",
		Symbol:        a.ParseSymbol(r.Symbol),
		Last:          exchange.FloatOr(r.LastPrice, 0),
		Bid:           exchange.FloatOr(r.BidPrice, 0),
		Ask:           exchange.FloatOr(r.AskPrice, 0),
		High:          exchange.FloatOr(r.HighPrice, 0),
		Low:           exchange.FloatOr(r.LowPrice, 0),
		Volume:        exchange.FloatOr(r.Volume, 0),
		QuoteVolume:   exchange.FloatOr(r.QuoteVolume, 0),
		Change:        exchange.FloatOr(r.PriceChange, 0),
		ChangePercent: exchange.FloatOr(r.PriceChangePercent, 0),
		Timestamp:     exchange.TimeMillis(r.CloseTime),
	}
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (r depthResponse) toOrderBook(symbol string) models.OrderBook {
	return models.OrderBook{
		Exchange:  "binance",
		Symbol:    symbol,
		Bids:      parseLevels(r.Bids),
		Asks:      parseLevels(r.Asks),
		Timestamp: time.Now().UTC(),
	}
}

func parseLevels(raw [][]string) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := exchange.ParseFloat(entry[0])
		if err != nil {
			continue
		}
		qty, err := exchange.ParseFloat(entry[1])
		if err != nil {
			continue
		}
		if price == 0 || qty == 0 {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty, OrderCount: 1})
	}
	return levels
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	IcebergQty    string `json:"icebergQty"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
}

func (r orderResponse) toOrder(a *Adapter) models.Order {
	amount := exchange.FloatOr(r.OrigQty, 0)
	filled := exchange.FloatOr(r.ExecutedQty, 0)

	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}

	return models.Order{
		ID:            formatInt(r.OrderID),
		ClientOrderID: r.ClientOrderID,
		Exchange:      "binance",
		Symbol:        a.ParseSymbol(r.Symbol),
		Side:          models.OrderSide(r.Side),
		Type:          parseOrderType(r.Type, exchange.FloatOr(r.IcebergQty, 0)),
		Status:        parseOrderStatus(r.Status),
		Amount:        amount,
		Price:         exchange.FloatOr(r.Price, 0),
		StopPrice:     exchange.FloatOr(r.StopPrice, 0),
		Filled:        filled,
		Remaining:     amount - filled,
		TimeInForce:   models.TimeInForce(r.TimeInForce),
		Timestamp:     exchange.TimeMillis(ts),
	}
}

type ocoResponse struct {
	OrderListID  int64           `json:"orderListId"`
	OrderReports []orderResponse `json:"orderReports"`
}

type publicTradeResponse struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (r publicTradeResponse) toTrade(symbol string) models.Trade {
	side := models.SideBuy
	if r.IsBuyerMaker {
		// The maker was the buyer, so the aggressor sold.
		side = models.SideSell
	}
	return models.Trade{
		ID:        formatInt(r.ID),
		Exchange:  "binance",
		Symbol:    symbol,
		Side:      side,
		Price:     exchange.FloatOr(r.Price, 0),
		Quantity:  exchange.FloatOr(r.Qty, 0),
		Timestamp: exchange.TimeMillis(r.Time),
	}
}

type myTradeResponse struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

func (r myTradeResponse) toTrade(a *Adapter) models.Trade {
	side := models.SideSell
	if r.IsBuyer {
		side = models.SideBuy
	}
	return models.Trade{
		ID:        formatInt(r.ID),
		OrderID:   formatInt(r.OrderID),
		Exchange:  "binance",
		Symbol:    a.ParseSymbol(r.Symbol),
		Side:      side,
		Price:     exchange.FloatOr(r.Price, 0),
		Quantity:  exchange.FloatOr(r.Qty, 0),
		Fee:       exchange.FloatOr(r.Commission, 0),
		FeeAsset:  r.CommissionAsset,
		Timestamp: exchange.TimeMillis(r.Time),
	}
}

func parseOrderType(t string, icebergQty float64) models.OrderType {
	if icebergQty > 0 {
		return models.TypeIceberg
	}
	switch t {
	case "MARKET":
		return models.TypeMarket
	case "LIMIT", "LIMIT_MAKER":
		return models.TypeLimit
	case "STOP_LOSS":
		return models.TypeStop
	case "STOP_LOSS_LIMIT":
		return models.TypeStopLimit
	case "TAKE_PROFIT", "TAKE_PROFIT_LIMIT":
		return models.TypeTakeProfit
	default:
		return models.OrderType(t)
	}
}

func parseOrderStatus(s string) models.OrderStatus {
	switch s {
	case "NEW":
		return models.StatusNew
	case "PARTIALLY_FILLED":
		return models.StatusPartiallyFilled
	case "FILLED":
		return models.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return models.StatusCanceled
	case "REJECTED":
		return models.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return models.StatusExpired
	default:
		return models.OrderStatus(s)
	}
}
