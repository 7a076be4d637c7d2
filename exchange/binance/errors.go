package binance

import (
	"encoding/json"
	"strconv"
	"time"

	"tradecore/exchange"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// parseAPIError refines Binance error payloads into the typed taxonomy.
// Returning nil defers to the generic status-code classification.
func parseAPIError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
		return nil
	}

	code := strconv.Itoa(e.Code)
	switch e.Code {
	case -1003, -1015:
		// WAF limit / too many requests.
		return exchange.NewRateLimitError("binance", e.Msg, time.Minute)
	case -1021, -1022, -2014, -2015:
		// Bad timestamp, bad signature, bad API key format, rejected key.
		return exchange.NewAuthenticationError("binance", e.Msg)
	case -2010, -2018, -2019:
		return exchange.NewInsufficientFundsError("binance", code, e.Msg)
	case -2011, -2013:
		// Cancel rejected / order does not exist.
		return exchange.NewOrderNotFoundError("binance", e.Msg)
	default:
		return exchange.NewExchangeError("binance", code, e.Msg)
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
