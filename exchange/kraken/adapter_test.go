package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"tradecore/exchange"
	"tradecore/models"
)

var testCreds = models.ExchangeCredentials{
	APIKey:    "test-key",
	APISecret: base64.StdEncoding.EncodeToString([]byte("test-secret")),
}

func TestPairAliases(t *testing.T) {
	a := New(models.ExchangeCredentials{})
	tests := []struct {
		canonical string
		native    string
	}{
		{"BTCUSD", "XXBTZUSD"},
		{"ETHUSD", "XETHZUSD"},
		{"BTCUSDT", "XBTUSDT"},
		{"SOLUSD", "SOLUSD"},
	}
	for _, tt := range tests {
		if got := a.FormatSymbol(tt.canonical); got != tt.native {
			t.Errorf("FormatSymbol(%q) = %q, want %q", tt.canonical, got, tt.native)
		}
		if got := a.ParseSymbol(tt.native); got != tt.canonical {
			t.Errorf("ParseSymbol(%q) = %q, want %q", tt.native, got, tt.canonical)
		}
	}
}

func TestParseAsset(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"XXBT", "BTC"}, {"ZUSD", "USD"}, {"XETH", "ETH"}, {"USDT", "USDT"},
	}
	for _, tt := range tests {
		if got := parseAsset(tt.in); got != tt.want {
			t.Errorf("parseAsset(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorFromList(t *testing.T) {
	tests := []struct {
		name string
		errs []string
		kind exchange.Kind
	}{
		{"none", nil, ""},
		{"invalid key", []string{"EAPI:Invalid key"}, exchange.KindAuthentication},
		{"invalid nonce", []string{"EAPI:Invalid nonce"}, exchange.KindAuthentication},
		{"insufficient funds", []string{"EOrder:Insufficient funds"}, exchange.KindInsufficientFunds},
		{"unknown order", []string{"EOrder:Unknown order"}, exchange.KindOrderNotFound},
		{"rate limit", []string{"EAPI:Rate limit exceeded"}, exchange.KindRateLimit},
		{"generic", []string{"EGeneral:Invalid arguments"}, exchange.KindExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errorFromList(tt.errs)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if exchange.KindOf(err) != tt.kind {
				t.Fatalf("kind = %q, want %q", exchange.KindOf(err), tt.kind)
			}
		})
	}
}

func TestGetCandlesRejectsInvalidInterval(t *testing.T) {
	a := New(models.ExchangeCredentials{})
	_, err := a.GetCandles(context.Background(), "BTCUSD", "2h", 10)
	if exchange.KindOf(err) != exchange.KindValidation {
		t.Fatalf("expected validation error for unsupported interval, got %v", err)
	}
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("API-Key") != "test-key" {
			t.Error("api key header missing")
		}
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("body is not form encoded: %v", err)
		}
		nonce := form.Get("nonce")
		if nonce == "" {
			t.Fatal("nonce missing")
		}

		digest := sha256.Sum256([]byte(nonce + string(body)))
		mac := hmac.New(sha512.New, []byte("test-secret"))
		mac.Write(append([]byte(r.URL.Path), digest[:]...))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("API-Sign"); got != expected {
			t.Errorf("signature = %s, want %s", got, expected)
		}
		w.Write([]byte(`{"error":[],"result":{"XXBT":"1.5","ZUSD":"1000","DOT":"0"}}`))
	}))
	defer srv.Close()

	a := New(testCreds, WithBaseURL(srv.URL))
	balances, err := a.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %d, want 2 (zero balances skipped)", len(balances))
	}
	for _, b := range balances {
		if b.Asset != "BTC" && b.Asset != "USD" {
			t.Errorf("unexpected asset %q, aliases not applied", b.Asset)
		}
	}
}

func TestGetTickerResolvesAliasedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pair"); got != "XXBTZUSD" {
			t.Errorf("pair = %q, want XXBTZUSD", got)
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{"a":["50001","1","1"],"b":["50000","1","1"],"c":["50000.5","0.1"],"v":["100","250"],"l":["49000","48500"],"h":["51000","51500"],"o":"49500"}}}`))
	}))
	defer srv.Close()

	a := New(models.ExchangeCredentials{}, WithBaseURL(srv.URL))
	ticker, err := a.GetTicker(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("GetTicker failed: %v", err)
	}
	if ticker.Symbol != "BTCUSD" {
		t.Fatalf("symbol = %q, want canonical BTCUSD", ticker.Symbol)
	}
	if ticker.Last != 50000.5 || ticker.Bid != 50000 || ticker.Ask != 50001 {
		t.Fatalf("ticker = %+v", ticker)
	}
	// The 24h entries of v/l/h are used, not today's.
	if ticker.Volume != 250 || ticker.Low != 48500 || ticker.High != 51500 {
		t.Fatalf("24h fields wrong: %+v", ticker)
	}
}

func TestOrderParams(t *testing.T) {
	a := New(testCreds)

	form, err := a.orderParams(&models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideSell, Type: models.TypeStopLimit,
		Amount: 1, Price: 94, StopPrice: 95,
	})
	if err != nil {
		t.Fatalf("orderParams failed: %v", err)
	}
	if form.Get("ordertype") != "stop-loss-limit" || form.Get("price") != "95" || form.Get("price2") != "94" {
		t.Fatalf("stop-limit params wrong: %v", form)
	}
	if form.Get("pair") != "XXBTZUSD" || form.Get("type") != "sell" {
		t.Fatalf("pair/type wrong: %v", form)
	}

	form, err = a.orderParams(&models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideSell, Type: models.TypeTrailingStop,
		Amount: 1, TrailingDelta: 50,
	})
	if err != nil {
		t.Fatalf("orderParams failed: %v", err)
	}
	if form.Get("ordertype") != "trailing-stop" || form.Get("price") != "+50" {
		t.Fatalf("trailing stop params wrong: %v", form)
	}

	form, err = a.orderParams(&models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideSell, Type: models.TypeTrailingStop,
		Amount: 1, TrailingPercent: 2,
	})
	if err != nil {
		t.Fatalf("orderParams failed: %v", err)
	}
	if form.Get("price") != "+2%" {
		t.Fatalf("relative trailing offset = %q, want +2%%", form.Get("price"))
	}
}

func TestOrderParamsRejectsFillOrKill(t *testing.T) {
	a := New(testCreds)
	_, err := a.orderParams(&models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeLimit,
		Amount: 1, Price: 100, TimeInForce: models.TIFFillOrKill,
	})
	if exchange.KindOf(err) != exchange.KindCapability {
		t.Fatalf("expected capability error for FOK, got %v", err)
	}
}

func TestOrderParamsRejectsIceberg(t *testing.T) {
	a := New(testCreds)
	_, err := a.orderParams(&models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeIceberg,
		Amount: 10, Price: 100, IcebergQty: 1,
	})
	if exchange.KindOf(err) != exchange.KindCapability {
		t.Fatalf("expected capability error for iceberg, got %v", err)
	}
}

func TestEnvelopeErrorSurfacesFromHTTP200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":{}}`))
	}))
	defer srv.Close()

	a := New(testCreds, WithBaseURL(srv.URL))
	_, err := a.CreateOrder(context.Background(), &models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeMarket, Amount: 1,
	})
	if exchange.KindOf(err) != exchange.KindInsufficientFunds {
		t.Fatalf("expected insufficient funds from 200 envelope, got %v", err)
	}
}

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		status string
		filled float64
		amount float64
		want   models.OrderStatus
	}{
		{"pending", 0, 1, models.StatusNew},
		{"open", 0, 1, models.StatusOpen},
		{"open", 0.5, 1, models.StatusPartiallyFilled},
		{"closed", 1, 1, models.StatusFilled},
		{"canceled", 0, 1, models.StatusCanceled},
		{"expired", 0, 1, models.StatusExpired},
	}
	for _, tt := range tests {
		if got := parseOrderStatus(tt.status, tt.filled, tt.amount); got != tt.want {
			t.Errorf("parseOrderStatus(%q, %v, %v) = %q, want %q", tt.status, tt.filled, tt.amount, got, tt.want)
		}
	}
}

func TestCreateOrderBuildsFromRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/0/private/AddOrder" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"error":[],"result":{"descr":{"order":"buy 1 XBTUSD @ limit 100"},"txid":["OABC-123"]}}`))
	}))
	defer srv.Close()

	a := New(testCreds, WithBaseURL(srv.URL))
	order, err := a.CreateOrder(context.Background(), &models.OrderRequest{
		Symbol: "BTCUSD", Side: models.SideBuy, Type: models.TypeLimit, Amount: 1, Price: 100,
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.ID != "OABC-123" || order.Status != models.StatusNew {
		t.Fatalf("order = %+v", order)
	}
	if order.Symbol != "BTCUSD" {
		t.Fatalf("symbol = %q, want canonical BTCUSD", order.Symbol)
	}
}
