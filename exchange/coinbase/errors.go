package coinbase

import (
	"encoding/json"
	"strconv"
	"strings"

	"tradecore/exchange"
)

type apiError struct {
	Message string `json:"message"`
}

// parseAPIError refines Coinbase error payloads, which carry only a
// human-readable message. Returning nil defers to the generic status-code
// classification.
func parseAPIError(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return nil
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return exchange.NewInsufficientFundsError("coinbase", "", e.Message)
	case strings.Contains(msg, "order not found") || strings.Contains(msg, "notfound"):
		return exchange.NewOrderNotFoundError("coinbase", e.Message)
	case strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid signature") || strings.Contains(msg, "invalid passphrase"):
		return exchange.NewAuthenticationError("coinbase", e.Message)
	default:
		return nil
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
