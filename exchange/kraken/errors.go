package kraken

import (
	"strings"
	"time"

	"tradecore/exchange"
)

// Kraken reports failures as an error string array inside an HTTP 200
// envelope, so classification happens after decoding rather than in the
// transport's status-code parser.
func errorFromList(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	joined := strings.Join(errs, "; ")
	lower := strings.ToLower(joined)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return exchange.NewRateLimitError("kraken", joined, 15*time.Second)
	case strings.Contains(lower, "invalid key") || strings.Contains(lower, "invalid signature") || strings.Contains(lower, "invalid nonce") || strings.Contains(lower, "permission denied"):
		return exchange.NewAuthenticationError("kraken", joined)
	case strings.Contains(lower, "insufficient funds"):
		return exchange.NewInsufficientFundsError("kraken", "", joined)
	case strings.Contains(lower, "unknown order"):
		return exchange.NewOrderNotFoundError("kraken", joined)
	default:
		return exchange.NewExchangeError("kraken", "", joined)
	}
}
