package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbopar/discord-token-tracker/internal/birdeye"
	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/ingestion"
	"github.com/bbopar/discord-token-tracker/internal/mention"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/storage/memory"
	"github.com/bbopar/discord-token-tracker/internal/storage/storetest"
)

type fakeEvents struct {
	mu      sync.Mutex
	events  []*domain.MentionEvent
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeEvents) Poll(ctx context.Context) ([]*domain.MentionEvent, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, f.err
}

type fakeMentions struct {
	mu    sync.Mutex
	store storage.TokenStore
	calls []string
	err   error
}

func (f *fakeMentions) ResolveJob(ctx context.Context, address string) (mention.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, address)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	m := domain.Mention{Username: "alice", DiscordID: "7", Timestamp: storetest.BaseTime}
	if _, err := f.store.SetFirstMention(ctx, address, m); err != nil {
		return "", err
	}
	return mention.OutcomeResolved, nil
}

type fakePerformance struct {
	mu       sync.Mutex
	calls    []string
	notFound map[string]bool
}

func (f *fakePerformance) ResolvePerformance(_ context.Context, address string) (*domain.PerformanceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	if f.notFound[address] {
		return nil, birdeye.ErrTokenNotFound
	}
	return &domain.PerformanceSnapshot{TokenAddress: address, Price: 1, MarketCap: 1000}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, rec *domain.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("agent offline")
	}
	f.sent = append(f.sent, rec.Token.TokenAddress)
	return nil
}

type fixture struct {
	store     *memory.TokenStore
	history   *memory.PerformanceHistoryStore
	clock     *storetest.Clock
	events    *fakeEvents
	mentions  *fakeMentions
	perf      *fakePerformance
	sender    *fakeSender
	scheduler *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := storetest.NewClock(storetest.BaseTime)
	store := memory.NewTokenStore(storage.WithClock(clock.Now))
	f := &fixture{
		store:    store,
		history:  memory.NewPerformanceHistoryStore(),
		clock:    clock,
		events:   &fakeEvents{},
		mentions: &fakeMentions{store: store},
		perf:     &fakePerformance{notFound: map[string]bool{}},
		sender:   &fakeSender{},
	}
	f.scheduler = New(Options{
		Store:       f.store,
		Events:      f.events,
		Mentions:    f.mentions,
		Performance: f.perf,
		Sender:      f.sender,
		History:     f.history,
		Now:         clock.Now,
	})
	return f
}

func TestScheduler_IngestTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.events.events = []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20"),
		storetest.Event("BBB", domain.UpdateKindUpdate, "2M", "150"),
	}

	require.NoError(t, f.scheduler.IngestTick(ctx))

	st := f.scheduler.Status()
	require.NotNil(t, st.LastRun)
	assert.True(t, st.LastRun.Success)
	assert.Equal(t, 2, st.LastRun.NewMessagesCount)
	assert.Equal(t, storetest.BaseTime, st.LastRun.Timestamp)
	assert.Equal(t, 1, st.MentionQueueLength, "only the update waits for a mention")

	a, err := f.store.GetByAddress(ctx, "AAA")
	require.NoError(t, err)
	require.NotNil(t, a.FirstMention)
	assert.Len(t, a.Updates, 1)

	// Same page again: nothing new.
	require.NoError(t, f.scheduler.IngestTick(ctx))
	st = f.scheduler.Status()
	assert.True(t, st.LastRun.Success)
	assert.Zero(t, st.LastRun.NewMessagesCount)

	a, err = f.store.GetByAddress(ctx, "AAA")
	require.NoError(t, err)
	assert.Len(t, a.Updates, 1)
}

func TestScheduler_IngestTickRepeatedWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	listing := storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20")
	listing.MessageTimestamp = storetest.BaseTime.Add(-time.Minute)
	update := storetest.Event("AAA", domain.UpdateKindUpdate, "200K", "30")
	update.MessageTimestamp = storetest.BaseTime.Add(-30 * time.Second)
	f.events.events = []*domain.MentionEvent{listing, update}

	require.NoError(t, f.scheduler.IngestTick(ctx))
	assert.Equal(t, 2, f.scheduler.Status().LastRun.NewMessagesCount)

	for i := 0; i < 3; i++ {
		f.clock.Advance(2 * time.Second)
		require.NoError(t, f.scheduler.IngestTick(ctx))
		assert.Zero(t, f.scheduler.Status().LastRun.NewMessagesCount, "tick %d", i+2)
	}

	rec, err := f.store.GetByAddress(ctx, "AAA")
	require.NoError(t, err)
	caps := make([]string, len(rec.Updates))
	for i, u := range rec.Updates {
		caps[i] = u.MarketCap
	}
	assert.Equal(t, []string{"100K", "200K"}, caps)
	assert.Zero(t, f.scheduler.Status().MentionQueueLength)
}

func TestScheduler_IngestTickRejectsUnorderedBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	older := storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20")
	older.MessageTimestamp = storetest.BaseTime.Add(-time.Minute)
	newer := storetest.Event("AAA", domain.UpdateKindUpdate, "200K", "30")
	newer.MessageTimestamp = storetest.BaseTime
	f.events.events = []*domain.MentionEvent{newer, older}

	err := f.scheduler.IngestTick(ctx)
	require.ErrorIs(t, err, ingestion.ErrInvalidOrdering)
	assert.False(t, f.scheduler.Status().LastRun.Success)

	_, err = f.store.GetByAddress(ctx, "AAA")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScheduler_IngestTickFailure(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("discord down")

	err := f.scheduler.IngestTick(context.Background())
	require.Error(t, err)

	st := f.scheduler.Status()
	require.NotNil(t, st.LastRun)
	assert.False(t, st.LastRun.Success)
	assert.Contains(t, st.LastRun.Error, "discord down")
}

func TestScheduler_MentionTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Save(ctx, []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20"),
		storetest.Event("BBB", domain.UpdateKindUpdate, "2M", "150"),
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.MentionTick(ctx))

	assert.Equal(t, []string{"BBB"}, f.mentions.calls)
	assert.ElementsMatch(t, []string{"AAA", "BBB"}, f.perf.calls)
	assert.Zero(t, f.scheduler.Status().MentionQueueLength)

	b, err := f.store.GetByAddress(ctx, "BBB")
	require.NoError(t, err)
	require.NotNil(t, b.FirstMention)
	assert.Equal(t, "alice", b.FirstMention.Username)
	require.NotNil(t, b.Performance)
	assert.Equal(t, "TBBB", b.Performance.Symbol)

	points, err := f.history.GetByAddress(ctx, "BBB")
	require.NoError(t, err)
	assert.Len(t, points, 1)

	// Throttled: no second fetch inside the window.
	f.perf.calls = nil
	require.NoError(t, f.scheduler.MentionTick(ctx))
	assert.Empty(t, f.perf.calls)
	assert.Len(t, f.mentions.calls, 1, "queue is empty")
}

func TestScheduler_MentionTickDropsFailedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mentions.err = errors.New("search timeout")

	_, err := f.store.Save(ctx, []*domain.MentionEvent{storetest.Event("BBB", domain.UpdateKindUpdate, "2M", "150")})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.MentionTick(ctx))

	n, err := f.store.MentionQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed job is not re-enqueued")

	b, err := f.store.GetByAddress(ctx, "BBB")
	require.NoError(t, err)
	assert.Nil(t, b.FirstMention)
}

func TestScheduler_RefreshTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.perf.notFound["GONE"] = true

	_, err := f.store.Save(ctx, []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20"),
		storetest.Event("GONE", domain.UpdateKindNewListing, "50K", "10"),
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.RefreshTick(ctx))
	assert.ElementsMatch(t, []string{"AAA", "GONE"}, f.perf.calls)

	a, err := f.store.GetByAddress(ctx, "AAA")
	require.NoError(t, err)
	assert.NotNil(t, a.Performance)

	gone, err := f.store.GetByAddress(ctx, "GONE")
	require.NoError(t, err)
	assert.Nil(t, gone.Performance)

	// Only the failed token is still due.
	f.perf.calls = nil
	require.NoError(t, f.scheduler.RefreshTick(ctx))
	assert.Equal(t, []string{"GONE"}, f.perf.calls)

	// After the window both are due again.
	f.clock.Advance(storage.DefaultRefreshInterval)
	f.perf.calls = nil
	require.NoError(t, f.scheduler.RefreshTick(ctx))
	assert.ElementsMatch(t, []string{"AAA", "GONE"}, f.perf.calls)

	points, err := f.history.GetByAddress(ctx, "AAA")
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestScheduler_DeliveryTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Save(ctx, []*domain.MentionEvent{
		storetest.Event("AAA", domain.UpdateKindNewListing, "100K", "20"),
		storetest.Event("BBB", domain.UpdateKindUpdate, "2M", "150"), // no first mention
	})
	require.NoError(t, err)
	require.NoError(t, f.scheduler.RefreshTick(ctx))

	// Delivery failure leaves the token unsent.
	f.sender.fail = true
	require.NoError(t, f.scheduler.DeliveryTick(ctx))
	sent, err := f.store.IsSent(ctx, "AAA")
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, f.scheduler.Status().RecommendationsSent)

	f.sender.fail = false
	require.NoError(t, f.scheduler.DeliveryTick(ctx))
	assert.Equal(t, []string{"AAA"}, f.sender.sent)
	assert.Equal(t, 1, f.scheduler.Status().RecommendationsSent)

	// Sent tokens never go out again, even after new performance.
	f.clock.Advance(storage.DefaultRefreshInterval)
	require.NoError(t, f.scheduler.RefreshTick(ctx))
	require.NoError(t, f.scheduler.DeliveryTick(ctx))
	assert.Equal(t, []string{"AAA"}, f.sender.sent)
}

func TestScheduler_DeliveryTickSkipsIncomplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// No stats: no update to take marketCap and percentage from.
	e := storetest.Event("AAA", domain.UpdateKindNewListing, "", "")
	_, err := f.store.Save(ctx, []*domain.MentionEvent{e})
	require.NoError(t, err)
	require.NoError(t, f.scheduler.RefreshTick(ctx))

	require.NoError(t, f.scheduler.DeliveryTick(ctx))
	assert.Empty(t, f.sender.sent)

	unsent, err := f.store.ListUnsent(ctx)
	require.NoError(t, err)
	assert.Len(t, unsent, 1)
}

func TestScheduler_RunJobSkipsOverlap(t *testing.T) {
	f := newFixture(t)
	f.events.started = make(chan struct{}, 1)
	f.events.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.RunJob(context.Background(), JobIngest)
		done <- err
	}()
	<-f.events.started

	ran, err := f.scheduler.RunJob(context.Background(), JobIngest)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.True(t, f.scheduler.Status().Jobs[JobIngest].Running)

	close(f.events.release)
	require.NoError(t, <-done)

	st := f.scheduler.Status().Jobs[JobIngest]
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Runs)

	_, err = f.scheduler.RunJob(context.Background(), "unknown")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.events.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	select {
	case <-f.events.started:
	case <-time.After(5 * time.Second):
		t.Fatal("ingest did not run at start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
