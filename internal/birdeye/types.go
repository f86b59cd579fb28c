package birdeye

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Timeframes is the fallback order used when a metric is reported per window.
var Timeframes = []string{"24h", "12h", "8h", "6h", "4h", "2h", "1h", "30m"}

// TradeData is the payload of the trade-data endpoint.
// Numeric fields are kept by their provider name; absent and null fields are not stored.
type TradeData struct {
	Address string
	Metrics map[string]float64
}

// UnmarshalJSON keeps the address and every numeric field of the payload.
func (t *TradeData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.Metrics = make(map[string]float64, len(raw))
	for key, value := range raw {
		if key == "address" {
			if err := json.Unmarshal(value, &t.Address); err != nil {
				return fmt.Errorf("decode address: %w", err)
			}
			continue
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var f float64
		if err := json.Unmarshal(value, &f); err == nil {
			t.Metrics[key] = f
		}
	}
	return nil
}

// Value returns a metric and whether the provider reported it.
func (t *TradeData) Value(name string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.Metrics[name]
	return v, ok
}

// Get returns a metric, or 0 when absent.
func (t *TradeData) Get(name string) float64 {
	v, _ := t.Value(name)
	return v
}

// Security is the payload of the token security endpoint.
type Security struct {
	TotalSupply    float64 `json:"totalSupply"`
	CreatorBalance float64 `json:"creatorBalance"`
	FakeToken      *bool   `json:"fakeToken"`
	JupStrictList  *bool   `json:"jupStrictList"`
}

// Overview is the payload of the token overview endpoint.
type Overview struct {
	Liquidity      float64 `json:"liquidity"`
	Price          float64 `json:"price"`
	PriceChange24h float64 `json:"priceChange24h"`
	Volume24h      float64 `json:"volume24h"`
	MarketCap      float64 `json:"marketCap"`
}

// envelope wraps every provider response.
type envelope[T any] struct {
	Data    *T   `json:"data"`
	Success bool `json:"success"`
}
