package domain

import "time"

// DefaultChain is assigned when a mention carries no chain.
const DefaultChain = "SOL"

// UpdateKind distinguishes a first public announcement from a follow-up.
type UpdateKind string

const (
	UpdateKindNewListing UpdateKind = "new_listing"
	UpdateKindUpdate     UpdateKind = "update"
)

// String returns the string representation of UpdateKind.
func (k UpdateKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k UpdateKind) IsValid() bool {
	return k == UpdateKindNewListing || k == UpdateKindUpdate
}

// User identifies a chat participant.
type User struct {
	Username  string `json:"username" bson:"username"`
	DiscordID string `json:"discordId" bson:"discordId"`
}

// Mention is a user reference pinned to a point in time.
type Mention struct {
	Username  string    `json:"username" bson:"username"`
	DiscordID string    `json:"discordId" bson:"discordId"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// IsZero reports whether no mention is recorded.
func (m Mention) IsZero() bool {
	return m.Username == "" && m.DiscordID == "" && m.Timestamp.IsZero()
}

// Update is one observed (marketCap, percentage) pair for a token.
type Update struct {
	Timestamp        time.Time  `json:"timestamp" bson:"timestamp"`
	MarketCap        string     `json:"marketCap" bson:"marketCap"`   // compact figure as posted, e.g. "100K"
	Percentage       string     `json:"percentage" bson:"percentage"` // without the trailing %
	Kind             UpdateKind `json:"type" bson:"type"`
	MessageTimestamp time.Time  `json:"msgTimestamp,omitzero" bson:"msgTimestamp,omitempty"` // chat timestamp of the source message
}

// TokenRecord is the full lifecycle record of a token, keyed by TokenAddress.
// Field names follow the persisted document layout.
type TokenRecord struct {
	Name                  string               `json:"name" bson:"name"`
	Ticker                string               `json:"ticker" bson:"ticker"`
	Chain                 string               `json:"chain" bson:"chain"`
	TokenAddress          string               `json:"tokenAddress" bson:"tokenAddress"`
	PumpLink              string               `json:"pumpFunLink" bson:"pumpFunLink"`
	FirstSeenAt           time.Time            `json:"firstSeenAt" bson:"firstSeenAt"`                                         // set once at creation
	MessageTimestamp      *time.Time           `json:"msgTimestamp,omitempty" bson:"msgTimestamp,omitempty"`                   // chat timestamp of the triggering message
	ScanRecommendation    Mention              `json:"scanRecommendation" bson:"scanRecommendation"`                           // poster of the triggering message
	Updates               []Update             `json:"updates" bson:"updates"`                                                 // append-only
	FirstMention          *Mention             `json:"firstMention,omitempty" bson:"firstMention,omitempty"`                   // written at most once
	Performance           *PerformanceSnapshot `json:"performance,omitempty" bson:"performance,omitempty"`                     // overwritten on refresh
	LastPerformanceUpdate *time.Time           `json:"lastPerformanceUpdate,omitempty" bson:"lastPerformanceUpdate,omitempty"` // last successful performance write
}

// LatestUpdate returns the most recent update, or nil if there are none.
func (r *TokenRecord) LatestUpdate() *Update {
	if len(r.Updates) == 0 {
		return nil
	}
	return &r.Updates[len(r.Updates)-1]
}

// LastMessageAt returns the chat timestamp of the newest message applied to the
// record, or the zero time when none is known.
func (r *TokenRecord) LastMessageAt() time.Time {
	var last time.Time
	if r.MessageTimestamp != nil {
		last = *r.MessageTimestamp
	}
	for i := range r.Updates {
		if ts := r.Updates[i].MessageTimestamp; ts.After(last) {
			last = ts
		}
	}
	return last
}

// Clone returns a deep copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Updates != nil {
		c.Updates = make([]Update, len(r.Updates))
		copy(c.Updates, r.Updates)
	}
	if r.MessageTimestamp != nil {
		ts := *r.MessageTimestamp
		c.MessageTimestamp = &ts
	}
	if r.FirstMention != nil {
		m := *r.FirstMention
		c.FirstMention = &m
	}
	if r.Performance != nil {
		p := *r.Performance
		c.Performance = &p
	}
	if r.LastPerformanceUpdate != nil {
		ts := *r.LastPerformanceUpdate
		c.LastPerformanceUpdate = &ts
	}
	return &c
}

// Stats is the "<marketCap>/<percentage>%" pair carried by a mention.
type Stats struct {
	MarketCap  string `json:"marketCap"`
	Percentage string `json:"percentage"`
}

// MentionEvent is a classified chat message announcing a token.
// Classification fills the token fields; ingestion adds Poster and MessageTimestamp.
type MentionEvent struct {
	TokenName        string     `json:"tokenName"`
	Ticker           string     `json:"ticker"`
	Chain            string     `json:"chain"`
	TokenAddress     string     `json:"tokenAddress"`
	PumpLink         string     `json:"pumpFunLink"`
	UpdateKind       UpdateKind `json:"type"`
	Stats            *Stats     `json:"stats,omitempty"` // nil when the message has no stats
	HasDiscordLink   bool       `json:"hasDiscordLink"`  // trailing [⬆︎](...) link present
	Poster           *User      `json:"user,omitempty"`
	MessageTimestamp time.Time  `json:"msgTimestamp"`
}

// DiffersFrom reports whether the event's stats differ from the given update.
// An event without stats never differs.
func (e *MentionEvent) DiffersFrom(u *Update) bool {
	if e.Stats == nil {
		return false
	}
	if u == nil {
		return true
	}
	return u.MarketCap != e.Stats.MarketCap || u.Percentage != e.Stats.Percentage
}

// IsNewOrUpdated reports whether the event should mutate the given record.
// A nil record means the address has never been seen. An event whose message
// is not newer than the last applied one is a re-read of the channel window
// and never mutates the record.
func (e *MentionEvent) IsNewOrUpdated(existing *TokenRecord) bool {
	if existing == nil {
		return true
	}
	if last := existing.LastMessageAt(); !e.MessageTimestamp.IsZero() && !last.IsZero() &&
		!e.MessageTimestamp.After(last) {
		return false
	}
	return e.DiffersFrom(existing.LatestUpdate())
}

// NewRecord builds the record created by the first sighting of an address.
func (e *MentionEvent) NewRecord(now time.Time) *TokenRecord {
	chain := e.Chain
	if chain == "" {
		chain = DefaultChain
	}

	r := &TokenRecord{
		Name:         e.TokenName,
		Ticker:       e.Ticker,
		Chain:        chain,
		TokenAddress: e.TokenAddress,
		PumpLink:     e.PumpLink,
		FirstSeenAt:  now,
		Updates:      []Update{},
	}
	if !e.MessageTimestamp.IsZero() {
		ts := e.MessageTimestamp
		r.MessageTimestamp = &ts
	}
	if e.Poster != nil {
		r.ScanRecommendation = Mention{Username: e.Poster.Username, DiscordID: e.Poster.DiscordID, Timestamp: now}
	}
	if u := e.Update(now); u != nil {
		r.Updates = append(r.Updates, *u)
	}

	// The poster of a new listing is its first mention.
	if e.UpdateKind == UpdateKindNewListing && e.Poster != nil {
		m := r.ScanRecommendation
		r.FirstMention = &m
	}
	return r
}

// Update returns the update entry this event contributes, or nil without stats.
func (e *MentionEvent) Update(now time.Time) *Update {
	if e.Stats == nil {
		return nil
	}
	kind := e.UpdateKind
	if kind == "" {
		kind = UpdateKindNewListing
	}
	return &Update{
		Timestamp:        now,
		MarketCap:        e.Stats.MarketCap,
		Percentage:       e.Stats.Percentage,
		Kind:             kind,
		MessageTimestamp: e.MessageTimestamp,
	}
}

// NeedsFirstMention reports whether the record still waits for mention resolution.
// New listings carry their own mention and never qualify.
func (r *TokenRecord) NeedsFirstMention() bool {
	return r.FirstMention == nil
}
