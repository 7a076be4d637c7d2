package models

// ExchangeCredentials is opaque key material scoped to one exchange account.
// It is passed by value into adapter construction and must never be logged
// or persisted by this module.
type ExchangeCredentials struct {
	APIKey     string `json:"-"`
	APISecret  string `json:"-"`
	Passphrase string `json:"-"`
}

// String redacts the key material so a credentials value can never leak
// through formatted logging.
func (c ExchangeCredentials) String() string {
	return "ExchangeCredentials(redacted)"
}

// Empty reports whether no key material is present. Public market-data
// endpoints work without credentials.
func (c ExchangeCredentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// Features describes which order capabilities an exchange supports natively.
// Operations gated on a false flag fail with a capability error before any
// network call.
type Features struct {
	Margin            bool `json:"margin"`
	Futures           bool `json:"futures"`
	OCO               bool `json:"oco"`
	Iceberg           bool `json:"iceberg"`
	TrailingStop      bool `json:"trailingStop"`
	FillOrKill        bool `json:"fillOrKill"`
	ImmediateOrCancel bool `json:"immediateOrCancel"`
	ConditionalOrders bool `json:"conditionalOrders"`
}

// RateLimitTier is the local request budget for one endpoint group.
type RateLimitTier struct {
	Budget   int `json:"budget"`
	WindowMs int `json:"windowMs"`
}

// ExchangeConfig is the static capability descriptor for one exchange type.
// One immutable instance exists per exchange.
type ExchangeConfig struct {
	Name       string                   `json:"name"`
	BaseURL    string                   `json:"baseUrl"`
	WSBaseURL  string                   `json:"wsBaseUrl,omitempty"`
	Features   Features                 `json:"features"`
	RateLimits map[string]RateLimitTier `json:"rateLimits"`
}

// ExchangeAccount links persisted credential material to an exchange type.
// The record itself lives in an external account store; this module only
// consumes it.
type ExchangeAccount struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Exchange    string              `json:"exchange"`
	Credentials ExchangeCredentials `json:"-"`
	Status      string              `json:"status"`
}
