package storage

import (
	"context"

	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// TokenReader is the read-only query surface over token records.
type TokenReader interface {
	// GetByAddress retrieves a record by token address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.TokenRecord, error)

	// ListTokens returns records matching the filter, sorted per filter.SortBy (descending).
	ListTokens(ctx context.Context, filter TokenFilter) ([]*domain.TokenRecord, error)

	// ListByUser returns records whose triggering message was posted by discordID, newest first.
	ListByUser(ctx context.Context, discordID string) ([]*domain.TokenRecord, error)

	// CountSent returns the number of delivered recommendations.
	CountSent(ctx context.Context) (int, error)
}

// MentionQueue is the FIFO of token addresses awaiting first-mention resolution.
// Membership is a set: an address already queued is not queued twice.
type MentionQueue interface {
	// NextMentionJob pops the oldest queued address. Returns false if the queue is empty.
	NextMentionJob(ctx context.Context) (string, bool, error)

	// MentionQueueLength returns the number of queued addresses.
	MentionQueueLength(ctx context.Context) (int, error)
}

// TokenStore is the durable token lifecycle state.
// It owns the records, the mention-job queue, the refresh throttle and the sent set.
// Persistence errors are returned as-is; the store never retries.
type TokenStore interface {
	TokenReader
	MentionQueue

	// IsNewOrUpdated reports whether the event should mutate state: true for an unseen
	// address, or when the event carries stats that differ from the latest update.
	IsNewOrUpdated(ctx context.Context, event *domain.MentionEvent) (bool, error)

	// Save creates or appends records for every event passing IsNewOrUpdated.
	// Non-new_listing events enqueue a mention job while the record has no first mention.
	// An empty slice is a no-op.
	Save(ctx context.Context, events []*domain.MentionEvent) (SaveResult, error)

	// UpdatePerformance overwrites the performance snapshot and stamps lastPerformanceUpdate.
	// Creates a bare record if the address is unknown.
	UpdatePerformance(ctx context.Context, address string, snapshot *domain.PerformanceSnapshot) error

	// SetFirstMention writes the first mention if the record has none.
	// Returns false if a first mention already exists. Returns ErrNotFound for unknown addresses.
	SetFirstMention(ctx context.Context, address string, mention domain.Mention) (bool, error)

	// ShouldRefreshPerformance reports whether the throttle window has elapsed for address.
	ShouldRefreshPerformance(ctx context.Context, address string) (bool, error)

	// MarkPerformanceRefreshed stamps the throttle clock for address.
	MarkPerformanceRefreshed(ctx context.Context, address string) error

	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, address string) error

	// IsSent reports whether address was delivered.
	IsSent(ctx context.Context, address string) (bool, error)

	// ListUnsent returns all records not in the sent set, oldest first.
	ListUnsent(ctx context.Context) ([]*domain.TokenRecord, error)

	// ListNeedingRefresh returns all records whose throttle window has elapsed, oldest first.
	ListNeedingRefresh(ctx context.Context) ([]*domain.TokenRecord, error)

	// Import inserts records, sent marks and refresh marks from a legacy document.
	// Existing entries are left untouched.
	Import(ctx context.Context, doc *LegacyDocument) (ImportResult, error)
}

// SaveResult summarizes a Save call.
type SaveResult struct {
	Created  int // new records
	Appended int // updates appended to existing records
	Enqueued int // mention jobs enqueued
	Skipped  int // duplicates and events without an address
}

// ImportResult summarizes an Import call.
type ImportResult struct {
	Tokens    int // records inserted
	Sent      int // sent marks inserted
	Refreshes int // refresh marks inserted
}

// PerformanceHistoryStore keeps the time series of performance refreshes.
type PerformanceHistoryStore interface {
	// Append adds a history point. Returns ErrDuplicateKey if (token_address, timestamp) exists.
	Append(ctx context.Context, p *domain.PerformancePoint) error

	// GetByAddress returns all points for a token, ordered by timestamp ASC.
	GetByAddress(ctx context.Context, address string) ([]*domain.PerformancePoint, error)
}
