package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/storage/storetest"
)

func TestTokenStore_Contract(t *testing.T) {
	pool := setupTestDB(t)

	storetest.Run(t, func(t *testing.T, opts ...storage.Option) storage.TokenStore {
		truncateAll(t, pool)
		return NewTokenStore(pool, opts...)
	})
}

func TestTokenStore_PersistsRecordFields(t *testing.T) {
	pool := setupTestDB(t)

	clock := storetest.NewClock(storetest.BaseTime)
	store := NewTokenStore(pool, storage.WithClock(clock.Now))
	ctx := context.Background()

	e := storetest.Event("ADDR123", domain.UpdateKindNewListing, "100K", "20")
	e.MessageTimestamp = storetest.BaseTime.Add(-2 * time.Second)

	_, err := store.Save(ctx, []*domain.MentionEvent{e})
	require.NoError(t, err)

	rec, err := store.GetByAddress(ctx, "ADDR123")
	require.NoError(t, err)

	assert.Equal(t, "Token ADDR123", rec.Name)
	assert.Equal(t, "https://pump.fun/ADDR123", rec.PumpLink)
	require.NotNil(t, rec.MessageTimestamp)
	assert.True(t, rec.MessageTimestamp.Equal(e.MessageTimestamp))
	assert.Equal(t, "poster", rec.ScanRecommendation.Username)
	assert.True(t, rec.ScanRecommendation.Timestamp.Equal(storetest.BaseTime))
	assert.Nil(t, rec.Performance)
	assert.Nil(t, rec.LastPerformanceUpdate)
}

func TestTokenStore_ConcurrentMentionJobPops(t *testing.T) {
	pool := setupTestDB(t)

	store := NewTokenStore(pool)
	ctx := context.Background()

	var events []*domain.MentionEvent
	for _, addr := range []string{"J1", "J2", "J3", "J4"} {
		events = append(events, storetest.Event(addr, domain.UpdateKindUpdate, "", ""))
	}
	_, err := store.Save(ctx, events)
	require.NoError(t, err)

	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			addr, ok, err := store.NextMentionJob(ctx)
			if err != nil || !ok {
				results <- ""
				return
			}
			results <- addr
		}()
	}

	seen := make(map[string]int)
	for i := 0; i < 8; i++ {
		if addr := <-results; addr != "" {
			seen[addr]++
		}
	}

	// skipped rows stay queued; drain them
	for {
		addr, ok, err := store.NextMentionJob(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[addr]++
	}

	assert.Len(t, seen, 4)
	for addr, n := range seen {
		assert.Equal(t, 1, n, "job %s popped more than once", addr)
	}
}
