package venue

import "fmt"

// NewAdapter constructs the adapter for a venue name using its production
// endpoints. Names follow the exchanges.enabled config values.
func NewAdapter(name string) (Adapter, error) {
	switch name {
	case "binance":
		return NewBinance(""), nil
	case "bybit":
		return NewBybit(""), nil
	case "okx":
		return NewOKX(""), nil
	case "kraken":
		return NewKraken(""), nil
	case "coinbase":
		return NewCoinbase(""), nil
	case "kucoin":
		return NewKuCoin(""), nil
	default:
		return nil, fmt.Errorf("venue: unknown venue %q", name)
	}
}
