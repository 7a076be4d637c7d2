package kraken

import "strings"

// Kraken still reports the classic X/Z-prefixed pair names for its oldest
// markets. The alias table covers those; everything else passes through with
// just the BTC/XBT swap.

var pairAliases = map[string]string{
	"BTCUSD": "XXBTZUSD",
	"BTCEUR": "XXBTZEUR",
	"ETHUSD": "XETHZUSD",
	"ETHEUR": "XETHZEUR",
	"LTCUSD": "XLTCZUSD",
	"XRPUSD": "XXRPZUSD",
}

var reverseAliases = func() map[string]string {
	m := make(map[string]string, len(pairAliases))
	for canonical, native := range pairAliases {
		m[native] = canonical
	}
	return m
}()

var assetAliases = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XETH": "ETH",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"ZUSD": "USD",
	"ZEUR": "EUR",
	"ZGBP": "GBP",
}

func formatPair(symbol string) string {
	s := strings.ToUpper(symbol)
	if native, ok := pairAliases[s]; ok {
		return native
	}
	return strings.Replace(s, "BTC", "XBT", 1)
}

func parsePair(pair string) string {
	p := strings.ToUpper(pair)
	if canonical, ok := reverseAliases[p]; ok {
		return canonical
	}
	return strings.Replace(p, "XBT", "BTC", 1)
}

func parseAsset(asset string) string {
	a := strings.ToUpper(asset)
	if canonical, ok := assetAliases[a]; ok {
		return canonical
	}
	return a
}
