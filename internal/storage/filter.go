package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// SortField selects the descending sort key of ListTokens.
type SortField string

const (
	SortByFirstSeen SortField = "firstSeenAt"
	SortByMarketCap SortField = "performance.mcap"
	SortByPrice     SortField = "performance.price"
	SortByVolume    SortField = "performance.volume24h"
)

// ParseSortField maps a user-facing sort name to a SortField.
// Empty input selects SortByFirstSeen.
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recency", "recent", "firstseenat":
		return SortByFirstSeen, nil
	case "marketcap", "mcap", "performance.mcap":
		return SortByMarketCap, nil
	case "price", "performance.price":
		return SortByPrice, nil
	case "volume", "volume24h", "performance.volume24h":
		return SortByVolume, nil
	default:
		return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalidInput, s)
	}
}

// TokenFilter narrows ListTokens. Zero values disable a criterion.
type TokenFilter struct {
	Chain     string
	Address   string
	Ticker    string
	StartTime *time.Time // firstSeenAt >= StartTime
	EndTime   *time.Time // firstSeenAt <= EndTime
	SortBy    SortField  // defaults to SortByFirstSeen
	Limit     int        // 0 means unlimited
}

// Matches reports whether r satisfies every criterion of f.
func (f TokenFilter) Matches(r *domain.TokenRecord) bool {
	if f.Chain != "" && r.Chain != f.Chain {
		return false
	}
	if f.Address != "" && r.TokenAddress != f.Address {
		return false
	}
	if f.Ticker != "" && r.Ticker != f.Ticker {
		return false
	}
	if f.StartTime != nil && r.FirstSeenAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && r.FirstSeenAt.After(*f.EndTime) {
		return false
	}
	return true
}

// SortValue returns the numeric sort key of r for field.
// Records without performance sort as 0.
func SortValue(r *domain.TokenRecord, field SortField) float64 {
	switch field {
	case SortByMarketCap, SortByPrice, SortByVolume:
		if r.Performance == nil {
			return 0
		}
		switch field {
		case SortByMarketCap:
			return r.Performance.MarketCap
		case SortByPrice:
			return r.Performance.Price
		default:
			return r.Performance.Volume24h
		}
	default:
		return float64(r.FirstSeenAt.UnixNano())
	}
}

// SortRecords sorts records by field descending, ties broken by address ascending.
func SortRecords(records []*domain.TokenRecord, field SortField) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, vj := SortValue(records[i], field), SortValue(records[j], field)
		if vi != vj {
			return vi > vj
		}
		return records[i].TokenAddress < records[j].TokenAddress
	})
}

// ApplyFilter filters, sorts and caps records in memory.
func ApplyFilter(records []*domain.TokenRecord, f TokenFilter) []*domain.TokenRecord {
	out := make([]*domain.TokenRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	SortRecords(out, f.SortBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
