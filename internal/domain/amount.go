package domain

import (
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Suffix multipliers used by compact chat figures ("139K", "5.7M").
var compactMultipliers = map[byte]decimal.Decimal{
	'K': decimal.NewFromInt(1_000),
	'M': decimal.NewFromInt(1_000_000),
	'B': decimal.NewFromInt(1_000_000_000),
}

// ParseCompactAmount parses a compact figure such as "20.8K" into its exact value.
func ParseCompactAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return decimal.Zero, fmt.Errorf("parse compact amount: empty input")
	}

	mult := decimal.NewFromInt(1)
	if m, ok := compactMultipliers[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse compact amount %q: %w", s, err)
	}
	return d.Mul(mult), nil
}

// IsTokenAddress reports whether s uses the address alphabet accepted in
// mention links: one or more ASCII letters or digits.
func IsTokenAddress(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// solanaAddressLen is the decoded length of a Solana public key.
const solanaAddressLen = 32

// IsSolanaAddress reports whether s decodes as a base58 32-byte public key.
func IsSolanaAddress(s string) bool {
	if s == "" {
		return false
	}
	b, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(b) == solanaAddressLen
}
