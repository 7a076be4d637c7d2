package exchange

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an adapter failure into the taxonomy callers switch on.
type Kind string

const (
	// KindAuthentication covers invalid or expired credentials and bad
	// signatures (HTTP 401/403).
	KindAuthentication Kind = "authentication"
	// KindRateLimit covers local budget rejections and remote HTTP 429.
	KindRateLimit Kind = "rate_limit"
	// KindInsufficientFunds covers exchange-reported balance shortfalls.
	KindInsufficientFunds Kind = "insufficient_funds"
	// KindOrderNotFound covers missing orders and resources (HTTP 404 or
	// exchange-specific codes).
	KindOrderNotFound Kind = "order_not_found"
	// KindNetwork covers transport failures and 5xx responses. The only
	// category, together with KindRateLimit, eligible for automatic retry.
	KindNetwork Kind = "network"
	// KindExchange is the catch-all for exchange-reported 4xx errors that
	// match no more specific category.
	KindExchange Kind = "exchange"
	// KindValidation covers malformed requests caught before any network
	// call.
	KindValidation Kind = "validation"
	// KindCapability covers operations the target exchange does not
	// support.
	KindCapability Kind = "capability"
)

// Error is the typed error every adapter failure is converted into. It
// carries a machine-readable kind plus the exchange's raw code and message
// for diagnostics; it never carries credential material.
type Error struct {
	Kind     Kind
	Exchange string
	Code     string
	Message  string
	// RetryAfter hints how long a rate-limited caller should wait.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	if e.Exchange != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Exchange, e.Kind, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is match on kind so callers can compare against the
// sentinel constructors without caring about exchange or message.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

func NewAuthenticationError(exchange, message string) *Error {
	return &Error{Kind: KindAuthentication, Exchange: exchange, Message: message}
}

func NewRateLimitError(exchange, message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Exchange: exchange, Message: message, RetryAfter: retryAfter}
}

func NewInsufficientFundsError(exchange, code, message string) *Error {
	return &Error{Kind: KindInsufficientFunds, Exchange: exchange, Code: code, Message: message}
}

func NewOrderNotFoundError(exchange, message string) *Error {
	return &Error{Kind: KindOrderNotFound, Exchange: exchange, Message: message}
}

func NewNetworkError(exchange, message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Exchange: exchange, Message: message, cause: cause}
}

func NewExchangeError(exchange, code, message string) *Error {
	return &Error{Kind: KindExchange, Exchange: exchange, Code: code, Message: message}
}

func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewCapabilityError(exchange, feature string) *Error {
	return &Error{
		Kind:     KindCapability,
		Exchange: exchange,
		Message:  fmt.Sprintf("%s does not support %s", exchange, feature),
	}
}

// KindOf extracts the kind of err, or the empty Kind for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is eligible for the retry helper's
// automatic backoff. Only rate-limit and network failures qualify;
// authentication, validation and not-found errors always propagate.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindNetwork:
		return true
	}
	return false
}

// RetryAfterOf returns the retry-after hint carried by a rate-limit error,
// or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
