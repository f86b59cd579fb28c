package domain

import "time"

// RecommendationUser is the user block of a recommendation payload.
type RecommendationUser struct {
	Username  string    `json:"username"`
	DiscordID string    `json:"discordId"`
	Timestamp time.Time `json:"timestamp"`
}

// RecommendationToken is the token block of a recommendation payload.
type RecommendationToken struct {
	Name               string     `json:"name"`
	Ticker             string     `json:"ticker"`
	Chain              string     `json:"chain"`
	TokenAddress       string     `json:"tokenAddress"`
	PumpLink           string     `json:"pumpFunLink"`
	MarketCap          string     `json:"marketCap"`          // from the first update
	Percentage         string     `json:"percentage"`         // from the first update
	RecommendationType UpdateKind `json:"recommendationType"` // from the first update
	Timestamp          time.Time  `json:"timestamp"`          // first mention time
}

// Recommendation is the payload handed to the downstream consumer.
type Recommendation struct {
	User        RecommendationUser   `json:"user"`
	Token       RecommendationToken  `json:"token"`
	Performance *PerformanceSnapshot `json:"performance"`
}

// NewRecommendation projects a record into a recommendation payload.
// Returns nil if the record has no first mention or no performance yet.
func NewRecommendation(r *TokenRecord) *Recommendation {
	if r == nil || r.FirstMention == nil || r.Performance == nil {
		return nil
	}

	rec := &Recommendation{
		User: RecommendationUser{
			Username:  r.FirstMention.Username,
			DiscordID: r.FirstMention.DiscordID,
			Timestamp: r.FirstMention.Timestamp,
		},
		Token: RecommendationToken{
			Name:         r.Name,
			Ticker:       r.Ticker,
			Chain:        r.Chain,
			TokenAddress: r.TokenAddress,
			PumpLink:     r.PumpLink,
			Timestamp:    r.FirstMention.Timestamp,
		},
	}
	if len(r.Updates) > 0 {
		first := r.Updates[0]
		rec.Token.MarketCap = first.MarketCap
		rec.Token.Percentage = first.Percentage
		rec.Token.RecommendationType = first.Kind
	}

	perf := *r.Performance
	rec.Performance = &perf
	return rec
}
