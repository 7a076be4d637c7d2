package exchange

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"authentication", NewAuthenticationError("binance", "bad signature"), KindAuthentication, false},
		{"rate limit", NewRateLimitError("binance", "budget exceeded", time.Second), KindRateLimit, true},
		{"insufficient funds", NewInsufficientFundsError("kraken", "", "no balance"), KindInsufficientFunds, false},
		{"order not found", NewOrderNotFoundError("coinbase", "gone"), KindOrderNotFound, false},
		{"network", NewNetworkError("binance", "timeout", nil), KindNetwork, true},
		{"exchange", NewExchangeError("binance", "-1100", "bad param"), KindExchange, false},
		{"validation", NewValidationError("amount must be positive"), KindValidation, false},
		{"capability", NewCapabilityError("kraken", "iceberg orders"), KindCapability, false},
		{"untyped", errors.New("plain"), Kind(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf = %q, want %q", got, tt.kind)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestErrorIsMatchesOnKind(t *testing.T) {
	err := NewRateLimitError("binance", "slow down", time.Second)
	target := NewRateLimitError("kraken", "different message", 0)
	if !errors.Is(err, target) {
		t.Fatal("rate limit errors should match regardless of exchange")
	}
	if errors.Is(err, NewNetworkError("binance", "timeout", nil)) {
		t.Fatal("rate limit error should not match a network error")
	}
}

func TestRetryAfterOf(t *testing.T) {
	if got := RetryAfterOf(NewRateLimitError("binance", "wait", 42*time.Second)); got != 42*time.Second {
		t.Fatalf("RetryAfterOf = %v, want 42s", got)
	}
	if got := RetryAfterOf(errors.New("plain")); got != 0 {
		t.Fatalf("RetryAfterOf untyped = %v, want 0", got)
	}
}

func TestErrorMessageNeverEmpty(t *testing.T) {
	err := NewExchangeError("binance", "-2010", "insufficient balance")
	msg := err.Error()
	for _, want := range []string{"binance", "-2010", "insufficient balance"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error message %q missing %q", msg, want)
		}
	}
}
