package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestDoClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		kind   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, nil, KindAuthentication},
		{"forbidden", http.StatusForbidden, nil, KindAuthentication},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, KindRateLimit},
		{"not found", http.StatusNotFound, nil, KindOrderNotFound},
		{"server error", http.StatusInternalServerError, nil, KindNetwork},
		{"bad request", http.StatusBadRequest, nil, KindExchange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"msg":"nope"}`))
			}))
			defer srv.Close()

			c := NewClient("testex", srv.URL)
			_, err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil, "market")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q, want %q", got, tt.kind)
			}
			if tt.kind == KindRateLimit {
				if got := RetryAfterOf(err); got != 7*time.Second {
					t.Fatalf("retry-after = %v, want 7s", got)
				}
			}
		})
	}
}

func TestDoPrefersErrorParser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"insufficient balance"}`))
	}))
	defer srv.Close()

	c := NewClient("testex", srv.URL, WithErrorParser(func(status int, body []byte) error {
		return NewInsufficientFundsError("testex", "-2010", "insufficient balance")
	}))
	_, err := c.Do(context.Background(), http.MethodGet, "/order", nil, nil, nil, "trade")
	if got := KindOf(err); got != KindInsufficientFunds {
		t.Fatalf("kind = %q, want insufficient_funds", got)
	}
}

func TestDoEnforcesLocalBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	limiter := NewWindowLimiter(1, time.Minute)
	c := NewClient("testex", srv.URL, WithLimiter(limiter))

	if _, err := c.Do(context.Background(), http.MethodGet, "/a", nil, nil, nil, "market"); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	_, err := c.Do(context.Background(), http.MethodGet, "/a", nil, nil, nil, "market")
	if got := KindOf(err); got != KindRateLimit {
		t.Fatalf("kind = %q, want rate_limit", got)
	}
	if calls != 1 {
		t.Fatalf("rejected call must not reach the server, got %d calls", calls)
	}
}

func TestDoInvokesSignHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient("testex", srv.URL)
	_, err := c.Do(context.Background(), http.MethodGet, "/private", nil, nil,
		func(req *http.Request, method, path string, query url.Values, body []byte) error {
			req.Header.Set("X-Test-Key", "k")
			return nil
		}, "account")
	if err != nil {
		t.Fatalf("signed request failed: %v", err)
	}
}

func TestRetryHonorsRetryableKinds(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return NewNetworkError("testex", "flaky", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry should eventually succeed, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return NewAuthenticationError("testex", "bad key")
	})
	if KindOf(err) != KindAuthentication {
		t.Fatalf("expected the auth error back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("auth errors must not be retried, got %d attempts", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return NewNetworkError("testex", "down", nil)
	})
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected the last network error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}
