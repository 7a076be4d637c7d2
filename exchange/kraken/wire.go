package kraken

import (
	"encoding/json"

	"tradecore/exchange"
	"tradecore/models"
)

// Every Kraken response wraps its payload in the same envelope. The result
// is decoded lazily so each call can pick its own shape.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func decodeResult(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return exchange.NewExchangeError("kraken", "", "malformed response envelope: "+err.Error())
	}
	if err := errorFromList(env.Error); err != nil {
		return err
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return exchange.NewExchangeError("kraken", "", "malformed result payload: "+err.Error())
		}
	}
	return nil
}

type timeResult struct {
	UnixTime int64 `json:"unixtime"`
}

// tickerInfo carries Kraken's array-encoded ticker fields:
// a/b are [price, whole lot volume, lot volume], c is [price, lot volume],
// v/p/l/h are [today, last 24h], o is the opening price.
type tickerInfo struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}

func (t tickerInfo) toTicker(pair string) models.Ticker {
	last := firstFloat(t.Last)
	open := exchange.FloatOr(t.Open, 0)
	change := 0.0
	changePct := 0.0
	if open > 0 && last > 0 {
		change = last - open
		changePct = change / open * 100
	}
	return models.Ticker{
		Exchange:      "kraken",
		Symbol:        parsePair(pair),
		Last:          last,
		Bid:           firstFloat(t.Bid),
		Ask:           firstFloat(t.Ask),
		High:          secondFloat(t.High),
		Low:           secondFloat(t.Low),
		Volume:        secondFloat(t.Volume),
		Change:        change,
		ChangePercent: changePct,
		Timestamp:     exchange.TimeMillis(nil),
	}
}

func firstFloat(values []string) float64 {
	if len(values) == 0 {
		return 0
	}
	return exchange.FloatOr(values[0], 0)
}

func secondFloat(values []string) float64 {
	if len(values) < 2 {
		return firstFloat(values)
	}
	return exchange.FloatOr(values[1], 0)
}

type depthSide struct {
	Asks [][]interface{} `json:"asks"`
	Bids [][]interface{} `json:"bids"`
}

func (d depthSide) toOrderBook(pair string, limit int) models.OrderBook {
	return models.OrderBook{
		Exchange:  "kraken",
		Symbol:    parsePair(pair),
		Bids:      parseLevels(d.Bids, limit),
		Asks:      parseLevels(d.Asks, limit),
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
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty, OrderCount: 1})
		if limit > 0 && len(levels) >= limit {
			break
		}
	}
	return levels
}

// orderInfo is the shape shared by OpenOrders, ClosedOrders and QueryOrders.
type orderInfo struct {
	Status  string  `json:"status"`
	OpenTm  float64 `json:"opentm"`
	Volume  string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	Price   string  `json:"price"`
	Descr   struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
		Price2    string `json:"price2"`
	} `json:"descr"`
}

func (o orderInfo) toOrder(txid string) models.Order {
	amount := exchange.FloatOr(o.Volume, 0)
	filled := exchange.FloatOr(o.VolExec, 0)

	side := models.SideBuy
	if o.Descr.Type == "sell" {
		side = models.SideSell
	}

	order := models.Order{
		ID:           txid,
		Exchange:     "kraken",
		Symbol:       parsePair(o.Descr.Pair),
		Side:         side,
		Type:         parseOrderType(o.Descr.OrderType),
		Status:       parseOrderStatus(o.Status, filled, amount),
		Amount:       amount,
		Filled:       filled,
		Remaining:    amount - filled,
		AveragePrice: exchange.FloatOr(o.Price, 0),
		Timestamp:    exchange.TimeSeconds(o.OpenTm),
	}

	switch order.Type {
	case models.TypeStop, models.TypeTakeProfit, models.TypeTrailingStop:
		order.StopPrice = exchange.FloatOr(o.Descr.Price, 0)
	case models.TypeStopLimit:
		order.StopPrice = exchange.FloatOr(o.Descr.Price, 0)
		order.Price = exchange.FloatOr(o.Descr.Price2, 0)
	default:
		order.Price = exchange.FloatOr(o.Descr.Price, 0)
	}
	return order
}

type openOrdersResult struct {
	Open map[string]orderInfo `json:"open"`
}

type closedOrdersResult struct {
	Closed map[string]orderInfo `json:"closed"`
}

type addOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxIDs []string `json:"txid"`
}

type cancelResult struct {
	Count int `json:"count"`
}

type tradesHistoryResult struct {
	Trades map[string]ownTradeInfo `json:"trades"`
}

type ownTradeInfo struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Time      float64 `json:"time"`
	Type      string  `json:"type"`
	Price     string  `json:"price"`
	Volume    string  `json:"vol"`
	Fee       string  `json:"fee"`
}

func (t ownTradeInfo) toTrade(id string) models.Trade {
	side := models.SideBuy
	if t.Type == "sell" {
		side = models.SideSell
	}
	symbol := parsePair(t.Pair)
	quote := ""
	if len(symbol) > 3 {
		quote = symbol[len(symbol)-3:]
	}
	return models.Trade{
		ID:        id,
		OrderID:   t.OrderTxID,
		Exchange:  "kraken",
		Symbol:    symbol,
		Side:      side,
		Price:     exchange.FloatOr(t.Price, 0),
		Quantity:  exchange.FloatOr(t.Volume, 0),
		Fee:       exchange.FloatOr(t.Fee, 0),
		FeeAsset:  quote,
		Timestamp: exchange.TimeSeconds(t.Time),
	}
}

// Public trade entries are [price, volume, time, buy/sell, market/limit, misc].
func parsePublicTrade(pair string, entry []interface{}) (models.Trade, bool) {
	if len(entry) < 4 {
		return models.Trade{}, false
	}
	price, err := exchange.Float(entry[0])
	if err != nil {
		return models.Trade{}, false
	}
	qty, err := exchange.Float(entry[1])
	if err != nil {
		return models.Trade{}, false
	}
	side := models.SideBuy
	if s, ok := entry[3].(string); ok && s == "s" {
		side = models.SideSell
	}
	return models.Trade{
		Exchange:  "kraken",
		Symbol:    parsePair(pair),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Timestamp: exchange.TimeSeconds(entry[2]),
	}, true
}

func parseOrderType(t string) models.OrderType {
	switch t {
	case "market":
		return models.TypeMarket
	case "limit":
		return models.TypeLimit
	case "stop-loss":
		return models.TypeStop
	case "stop-loss-limit":
		return models.TypeStopLimit
	case "take-profit", "take-profit-limit":
		return models.TypeTakeProfit
	case "trailing-stop", "trailing-stop-limit":
		return models.TypeTrailingStop
	default:
		return models.OrderType(t)
	}
}

func parseOrderStatus(status string, filled, amount float64) models.OrderStatus {
	switch status {
	case "pending":
		return models.StatusNew
	case "open":
		if filled > 0 && filled < amount {
			return models.StatusPartiallyFilled
		}
		return models.StatusOpen
	case "closed":
		return models.StatusFilled
	case "canceled":
		return models.StatusCanceled
	case "expired":
		return models.StatusExpired
	default:
		return models.OrderStatus(status)
	}
}
