// Package storetest is the behavioural contract every storage.TokenStore backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// BaseTime is the initial clock value of every contract test.
var BaseTime = time.Date(2025, 1, 27, 10, 0, 0, 0, time.UTC)

// Factory returns an empty store configured with opts.
// Implementations register their own cleanup on t.
type Factory func(t *testing.T, opts ...storage.Option) storage.TokenStore

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock set to at.
func NewClock(at time.Time) *Clock {
	return &Clock{now: at}
}

// Now returns the current clock value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Event builds a mention event for tests.
func Event(address string, kind domain.UpdateKind, marketCap, percentage string) *domain.MentionEvent {
	e := &domain.MentionEvent{
		TokenName:    "Token " + address,
		Ticker:       "T" + address,
		Chain:        "SOL",
		TokenAddress: address,
		PumpLink:     "https://pump.fun/" + address,
		UpdateKind:   kind,
		Poster:       &domain.User{Username: "poster", DiscordID: "42"},
	}
	if marketCap != "" || percentage != "" {
		e.Stats = &domain.Stats{MarketCap: marketCap, Percentage: percentage}
	}
	return e
}

// Run executes the contract suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	setup := func(t *testing.T) (storage.TokenStore, *Clock) {
		clock := NewClock(BaseTime)
		return factory(t, storage.WithClock(clock.Now), storage.WithRefreshInterval(30*time.Minute)), clock
	}

	t.Run("GetByAddressNotFound", func(t *testing.T) {
		store, _ := setup(t)
		_, err := store.GetByAddress(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("SaveEmpty", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		res, err := store.Save(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, storage.SaveResult{}, res)

		tokens, err := store.ListTokens(ctx, storage.TokenFilter{})
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("SaveNewListingCarriesFirstMention", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		res, err := store.Save(ctx, []*domain.MentionEvent{Event("ADDR123", domain.UpdateKindNewListing, "100K", "20")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, 0, res.Enqueued)

		rec, err := store.GetByAddress(ctx, "ADDR123")
		require.NoError(t, err)
		assert.Equal(t, "TADDR123", rec.Ticker)
		assert.Equal(t, "SOL", rec.Chain)
		assert.WithinDuration(t, BaseTime, rec.FirstSeenAt, time.Millisecond)
		require.NotNil(t, rec.FirstMention)
		assert.Equal(t, "poster", rec.FirstMention.Username)
		assert.Equal(t, "42", rec.FirstMention.DiscordID)
		assert.Equal(t, "42", rec.ScanRecommendation.DiscordID)
		require.Len(t, rec.Updates, 1)
		assert.Equal(t, "100K", rec.Updates[0].MarketCap)
		assert.Equal(t, "20", rec.Updates[0].Percentage)
		assert.Equal(t, domain.UpdateKindNewListing, rec.Updates[0].Kind)

		n, err := store.MentionQueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("SaveUpdateEnqueuesMentionJob", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		res, err := store.Save(ctx, []*domain.MentionEvent{
			Event("A1", domain.UpdateKindUpdate, "10K", "5"),
			Event("A2", domain.UpdateKindUpdate, "", ""),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 2, res.Enqueued)

		rec, err := store.GetByAddress(ctx, "A2")
		require.NoError(t, err)
		assert.Nil(t, rec.FirstMention)
		assert.Empty(t, rec.Updates)

		addr, ok, err := store.NextMentionJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "A1", addr)

		addr, ok, err = store.NextMentionJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "A2", addr)

		_, ok, err = store.NextMentionJob(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SaveIsIdempotent", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()
		events := []*domain.MentionEvent{Event("ADDR123", domain.UpdateKindNewListing, "100K", "20")}

		_, err := store.Save(ctx, events)
		require.NoError(t, err)
		res, err := store.Save(ctx, events)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Skipped)

		rec, err := store.GetByAddress(ctx, "ADDR123")
		require.NoError(t, err)
		assert.Len(t, rec.Updates, 1)
	})

	t.Run("SaveSequenceIsIdempotent", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		first := Event("ADDR123", domain.UpdateKindUpdate, "100K", "20")
		first.MessageTimestamp = BaseTime.Add(-10 * time.Second)
		second := Event("ADDR123", domain.UpdateKindUpdate, "200K", "30")
		second.MessageTimestamp = BaseTime.Add(-5 * time.Second)
		window := []*domain.MentionEvent{first, second}

		res, err := store.Save(ctx, window)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, 1, res.Appended)
		assert.Equal(t, 1, res.Enqueued)

		_, ok, err := store.NextMentionJob(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		for i := 0; i < 2; i++ {
			res, err = store.Save(ctx, window)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Skipped, "re-read window %d", i)
			assert.Zero(t, res.Enqueued, "re-read window %d", i)
		}

		n, err := store.MentionQueueLength(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		rec, err := store.GetByAddress(ctx, "ADDR123")
		require.NoError(t, err)
		require.Len(t, rec.Updates, 2)
		assert.True(t, rec.Updates[1].MessageTimestamp.Equal(second.MessageTimestamp))

		// A newer message is applied even when its stats match an older update.
		third := Event("ADDR123", domain.UpdateKindUpdate, "100K", "20")
		third.MessageTimestamp = BaseTime
		res, err = store.Save(ctx, append(window, third))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Appended)

		rec, err = store.GetByAddress(ctx, "ADDR123")
		require.NoError(t, err)
		assert.Len(t, rec.Updates, 3)
	})

	t.Run("IsNewOrUpdated", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		base := Event("ADDR123", domain.UpdateKindNewListing, "100K", "20")
		ok, err := store.IsNewOrUpdated(ctx, base)
		require.NoError(t, err)
		assert.True(t, ok, "unseen address")

		_, err = store.Save(ctx, []*domain.MentionEvent{base})
		require.NoError(t, err)

		ok, err = store.IsNewOrUpdated(ctx, Event("ADDR123", domain.UpdateKindUpdate, "100K", "20"))
		require.NoError(t, err)
		assert.False(t, ok, "same stats")

		ok, err = store.IsNewOrUpdated(ctx, Event("ADDR123", domain.UpdateKindUpdate, "120K", "20"))
		require.NoError(t, err)
		assert.True(t, ok, "market cap changed")

		ok, err = store.IsNewOrUpdated(ctx, Event("ADDR123", domain.UpdateKindUpdate, "100K", "25"))
		require.NoError(t, err)
		assert.True(t, ok, "percentage changed")

		ok, err = store.IsNewOrUpdated(ctx, Event("ADDR123", domain.UpdateKindUpdate, "", ""))
		require.NoError(t, err)
		assert.False(t, ok, "no stats")
	})

	t.Run("SaveAppendsChangedStatsInOrder", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{Event("ADDR123", domain.UpdateKindNewListing, "100K", "20")})
		require.NoError(t, err)

		clock.Advance(time.Minute)
		res, err := store.Save(ctx, []*domain.MentionEvent{
			Event("ADDR123", domain.UpdateKindUpdate, "200K", "40"),
			Event("ADDR123", domain.UpdateKindUpdate, "200K", "40"),
			Event("ADDR123", domain.UpdateKindUpdate, "300K", "60"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Appended)
		assert.Equal(t, 1, res.Skipped)

		rec, err := store.GetByAddress(ctx, "ADDR123")
		require.NoError(t, err)
		require.Len(t, rec.Updates, 3)
		assert.Equal(t, "100K", rec.Updates[0].MarketCap)
		assert.Equal(t, "200K", rec.Updates[1].MarketCap)
		assert.Equal(t, "300K", rec.Updates[2].MarketCap)
		assert.Equal(t, domain.UpdateKindUpdate, rec.Updates[2].Kind)
		assert.WithinDuration(t, BaseTime, rec.FirstSeenAt, time.Millisecond)

		// first mention already present, no job
		n, err := store.MentionQueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("MentionQueueIsASet", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{Event("A1", domain.UpdateKindUpdate, "10K", "5")})
		require.NoError(t, err)
		res, err := store.Save(ctx, []*domain.MentionEvent{Event("A1", domain.UpdateKindUpdate, "20K", "10")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Appended)
		assert.Equal(t, 0, res.Enqueued)

		n, err := store.MentionQueueLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("SetFirstMentionIsWriteOnce", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.SetFirstMention(ctx, "missing", domain.Mention{Username: "u"})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = store.Save(ctx, []*domain.MentionEvent{Event("A1", domain.UpdateKindUpdate, "10K", "5")})
		require.NoError(t, err)
		_, _, err = store.NextMentionJob(ctx)
		require.NoError(t, err)

		first := domain.Mention{Username: "early", DiscordID: "7", Timestamp: BaseTime.Add(-time.Hour)}
		wrote, err := store.SetFirstMention(ctx, "A1", first)
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = store.SetFirstMention(ctx, "A1", domain.Mention{Username: "late", DiscordID: "8", Timestamp: BaseTime})
		require.NoError(t, err)
		assert.False(t, wrote)

		rec, err := store.GetByAddress(ctx, "A1")
		require.NoError(t, err)
		require.NotNil(t, rec.FirstMention)
		assert.Equal(t, "early", rec.FirstMention.Username)
		assert.WithinDuration(t, first.Timestamp, rec.FirstMention.Timestamp, time.Millisecond)

		// resolved records are not re-queued by later updates
		res, err := store.Save(ctx, []*domain.MentionEvent{Event("A1", domain.UpdateKindUpdate, "20K", "10")})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Enqueued)
	})

	t.Run("UpdatePerformance", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{Event("A1", domain.UpdateKindNewListing, "10K", "5")})
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)
		err = store.UpdatePerformance(ctx, "A1", &domain.PerformanceSnapshot{
			Symbol:       "ignored",
			TokenAddress: "A1",
			Liquidity:    1234.5,
			MarketCap:    99,
			RapidDump:    true,
		})
		require.NoError(t, err)

		rec, err := store.GetByAddress(ctx, "A1")
		require.NoError(t, err)
		require.NotNil(t, rec.Performance)
		assert.Equal(t, "TA1", rec.Performance.Symbol)
		assert.Equal(t, 1234.5, rec.Performance.Liquidity)
		assert.True(t, rec.Performance.RapidDump)
		require.NotNil(t, rec.LastPerformanceUpdate)
		assert.WithinDuration(t, BaseTime.Add(5*time.Minute), *rec.LastPerformanceUpdate, time.Millisecond)

		// overwrite
		err = store.UpdatePerformance(ctx, "A1", &domain.PerformanceSnapshot{TokenAddress: "A1", Liquidity: 1})
		require.NoError(t, err)
		rec, err = store.GetByAddress(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, 1.0, rec.Performance.Liquidity)
		assert.False(t, rec.Performance.RapidDump)
	})

	t.Run("UpdatePerformanceCreatesBareRecord", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		err := store.UpdatePerformance(ctx, "ORPHAN", &domain.PerformanceSnapshot{Symbol: "ORP", TokenAddress: "ORPHAN"})
		require.NoError(t, err)

		rec, err := store.GetByAddress(ctx, "ORPHAN")
		require.NoError(t, err)
		assert.Equal(t, "ORPHAN", rec.TokenAddress)
		assert.Equal(t, "SOL", rec.Chain)
		assert.Empty(t, rec.Updates)
		require.NotNil(t, rec.Performance)
		assert.Equal(t, "ORP", rec.Performance.Symbol)
	})

	t.Run("RefreshThrottle", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{
			Event("A1", domain.UpdateKindNewListing, "10K", "5"),
			Event("A2", domain.UpdateKindNewListing, "20K", "5"),
		})
		require.NoError(t, err)

		ok, err := store.ShouldRefreshPerformance(ctx, "A1")
		require.NoError(t, err)
		assert.True(t, ok, "never refreshed")

		require.NoError(t, store.MarkPerformanceRefreshed(ctx, "A1"))

		ok, err = store.ShouldRefreshPerformance(ctx, "A1")
		require.NoError(t, err)
		assert.False(t, ok, "just refreshed")

		due, err := store.ListNeedingRefresh(ctx)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "A2", due[0].TokenAddress)

		clock.Advance(29 * time.Minute)
		ok, err = store.ShouldRefreshPerformance(ctx, "A1")
		require.NoError(t, err)
		assert.False(t, ok, "inside window")

		clock.Advance(time.Minute)
		ok, err = store.ShouldRefreshPerformance(ctx, "A1")
		require.NoError(t, err)
		assert.True(t, ok, "window elapsed")

		due, err = store.ListNeedingRefresh(ctx)
		require.NoError(t, err)
		assert.Len(t, due, 2)
	})

	t.Run("SentSet", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{
			Event("A1", domain.UpdateKindNewListing, "10K", "5"),
			Event("A2", domain.UpdateKindNewListing, "20K", "5"),
		})
		require.NoError(t, err)

		sent, err := store.IsSent(ctx, "A1")
		require.NoError(t, err)
		assert.False(t, sent)

		require.NoError(t, store.MarkSent(ctx, "A1"))

		sent, err = store.IsSent(ctx, "A1")
		require.NoError(t, err)
		assert.True(t, sent)

		count, err := store.CountSent(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		// later performance writes do not resurrect a sent token
		require.NoError(t, store.UpdatePerformance(ctx, "A1", &domain.PerformanceSnapshot{TokenAddress: "A1"}))

		unsent, err := store.ListUnsent(ctx)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
		assert.Equal(t, "A2", unsent[0].TokenAddress)
	})

	t.Run("ListTokens", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		for i, addr := range []string{"A1", "A2", "A3"} {
			e := Event(addr, domain.UpdateKindNewListing, "10K", "5")
			if i == 2 {
				e.Chain = "ETH"
			}
			_, err := store.Save(ctx, []*domain.MentionEvent{e})
			require.NoError(t, err)
			clock.Advance(time.Hour)
		}
		require.NoError(t, store.UpdatePerformance(ctx, "A1", &domain.PerformanceSnapshot{TokenAddress: "A1", MarketCap: 300, Price: 1, Volume24h: 10}))
		require.NoError(t, store.UpdatePerformance(ctx, "A2", &domain.PerformanceSnapshot{TokenAddress: "A2", MarketCap: 100, Price: 3, Volume24h: 30}))

		all, err := store.ListTokens(ctx, storage.TokenFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"A3", "A2", "A1"}, addresses(all), "newest first")

		sol, err := store.ListTokens(ctx, storage.TokenFilter{Chain: "SOL"})
		require.NoError(t, err)
		assert.Equal(t, []string{"A2", "A1"}, addresses(sol))

		byTicker, err := store.ListTokens(ctx, storage.TokenFilter{Ticker: "TA2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"A2"}, addresses(byTicker))

		byAddr, err := store.ListTokens(ctx, storage.TokenFilter{Address: "A3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"A3"}, addresses(byAddr))

		start := BaseTime.Add(30 * time.Minute)
		end := BaseTime.Add(90 * time.Minute)
		ranged, err := store.ListTokens(ctx, storage.TokenFilter{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		assert.Equal(t, []string{"A2"}, addresses(ranged))

		byMcap, err := store.ListTokens(ctx, storage.TokenFilter{Chain: "SOL", SortBy: storage.SortByMarketCap})
		require.NoError(t, err)
		assert.Equal(t, []string{"A1", "A2"}, addresses(byMcap))

		byPrice, err := store.ListTokens(ctx, storage.TokenFilter{Chain: "SOL", SortBy: storage.SortByPrice})
		require.NoError(t, err)
		assert.Equal(t, []string{"A2", "A1"}, addresses(byPrice))

		byVolume, err := store.ListTokens(ctx, storage.TokenFilter{Chain: "SOL", SortBy: storage.SortByVolume, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"A2"}, addresses(byVolume))
	})

	t.Run("ListByUser", func(t *testing.T) {
		store, clock := setup(t)
		ctx := context.Background()

		e1 := Event("A1", domain.UpdateKindNewListing, "10K", "5")
		e2 := Event("A2", domain.UpdateKindNewListing, "10K", "5")
		e2.Poster = &domain.User{Username: "other", DiscordID: "99"}
		e3 := Event("A3", domain.UpdateKindUpdate, "10K", "5")

		_, err := store.Save(ctx, []*domain.MentionEvent{e1})
		require.NoError(t, err)
		clock.Advance(time.Minute)
		_, err = store.Save(ctx, []*domain.MentionEvent{e2, e3})
		require.NoError(t, err)

		mine, err := store.ListByUser(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, []string{"A3", "A1"}, addresses(mine))

		none, err := store.ListByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Import", func(t *testing.T) {
		store, _ := setup(t)
		ctx := context.Background()

		_, err := store.Save(ctx, []*domain.MentionEvent{Event("EXISTING", domain.UpdateKindNewListing, "1K", "1")})
		require.NoError(t, err)

		seen := BaseTime.Add(-24 * time.Hour)
		doc := storage.NewLegacyDocument()
		doc.Tokens["LEGACY"] = &domain.TokenRecord{
			Name:         "Legacy",
			Ticker:       "LEG",
			Chain:        "SOL",
			TokenAddress: "LEGACY",
			PumpLink:     "https://pump.fun/LEGACY",
			FirstSeenAt:  seen,
			Updates:      []domain.Update{{Timestamp: seen, MarketCap: "5K", Percentage: "3", Kind: domain.UpdateKindNewListing}},
			FirstMention: &domain.Mention{Username: "old", DiscordID: "1", Timestamp: seen},
		}
		doc.Tokens["EXISTING"] = &domain.TokenRecord{Name: "Overwrite", TokenAddress: "EXISTING", Chain: "SOL", FirstSeenAt: seen}
		doc.SentRecommendations["LEGACY"] = seen
		doc.LastPerformanceUpdates["LEGACY"] = seen

		res, err := store.Import(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, storage.ImportResult{Tokens: 1, Sent: 1, Refreshes: 1}, res)

		legacy, err := store.GetByAddress(ctx, "LEGACY")
		require.NoError(t, err)
		assert.Equal(t, "LEG", legacy.Ticker)
		require.Len(t, legacy.Updates, 1)
		assert.Equal(t, "5K", legacy.Updates[0].MarketCap)
		require.NotNil(t, legacy.FirstMention)
		assert.Equal(t, "old", legacy.FirstMention.Username)

		existing, err := store.GetByAddress(ctx, "EXISTING")
		require.NoError(t, err)
		assert.Equal(t, "Token EXISTING", existing.Name, "import must not overwrite")

		sent, err := store.IsSent(ctx, "LEGACY")
		require.NoError(t, err)
		assert.True(t, sent)

		res, err = store.Import(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, storage.ImportResult{}, res)
	})
}

func addresses(records []*domain.TokenRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.TokenAddress)
	}
	return out
}
