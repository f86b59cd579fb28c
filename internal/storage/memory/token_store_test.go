package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/storage/storetest"
)

func TestTokenStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...storage.Option) storage.TokenStore {
		return NewTokenStore(opts...)
	})
}

func TestFileStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts ...storage.Option) storage.TokenStore {
		s, err := OpenFileStore(filepath.Join(t.TempDir(), "data", "tokens.json"), opts...)
		if err != nil {
			t.Fatalf("OpenFileStore failed: %v", err)
		}
		return s
	})
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}

	tokens, err := s.ListTokens(context.Background(), storage.TokenFilter{})
	if err != nil {
		t.Fatalf("ListTokens failed: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("expected empty store, got %d tokens", len(tokens))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not be created before the first mutation")
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	clock := storetest.NewClock(storetest.BaseTime)

	s, err := OpenFileStore(path, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}

	_, err = s.Save(ctx, []*domain.MentionEvent{
		storetest.Event("A1", domain.UpdateKindNewListing, "10K", "5"),
		storetest.Event("A2", domain.UpdateKindUpdate, "20K", "6"),
		storetest.Event("A3", domain.UpdateKindUpdate, "30K", "7"),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.MarkSent(ctx, "A1"); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	if err := s.MarkPerformanceRefreshed(ctx, "A1"); err != nil {
		t.Fatalf("MarkPerformanceRefreshed failed: %v", err)
	}
	if _, _, err := s.NextMentionJob(ctx); err != nil {
		t.Fatalf("NextMentionJob failed: %v", err)
	}

	reopened, err := OpenFileStore(path, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	rec, err := reopened.GetByAddress(ctx, "A1")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if rec.FirstMention == nil || rec.FirstMention.DiscordID != "42" {
		t.Errorf("first mention not persisted: %+v", rec.FirstMention)
	}
	if !rec.FirstSeenAt.Equal(storetest.BaseTime) {
		t.Errorf("firstSeenAt = %v, want %v", rec.FirstSeenAt, storetest.BaseTime)
	}

	if sent, _ := reopened.IsSent(ctx, "A1"); !sent {
		t.Error("sent mark not persisted")
	}
	if ok, _ := reopened.ShouldRefreshPerformance(ctx, "A1"); ok {
		t.Error("refresh mark not persisted")
	}

	// A2 was popped before reopening; only A3 remains queued.
	n, _ := reopened.MentionQueueLength(ctx)
	if n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	addr, ok, _ := reopened.NextMentionJob(ctx)
	if !ok || addr != "A3" {
		t.Errorf("next job = %q, %v; want A3", addr, ok)
	}
}

func TestFileStore_FailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dataDir, "tokens.json")
	clock := storetest.NewClock(storetest.BaseTime)

	s, err := OpenFileStore(path, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	_, err = s.Save(ctx, []*domain.MentionEvent{
		storetest.Event("A1", domain.UpdateKindNewListing, "10K", "5"),
		storetest.Event("A2", domain.UpdateKindUpdate, "20K", "6"),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A regular file where the data directory should be makes every write fail.
	if err := os.RemoveAll(dataDir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if err := os.WriteFile(dataDir, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := s.Save(ctx, []*domain.MentionEvent{
		storetest.Event("A3", domain.UpdateKindUpdate, "30K", "7"),
	}); err == nil {
		t.Fatal("Save succeeded on an unwritable path")
	}
	if _, err := s.GetByAddress(ctx, "A3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("A3 kept in memory after failed write: err = %v", err)
	}

	if _, ok, err := s.NextMentionJob(ctx); err == nil || ok {
		t.Fatalf("NextMentionJob = ok %v, err %v; want failure", ok, err)
	}
	if n, _ := s.MentionQueueLength(ctx); n != 1 {
		t.Errorf("queue length = %d after failed pop, want 1", n)
	}

	if err := s.MarkSent(ctx, "A1"); err == nil {
		t.Fatal("MarkSent succeeded on an unwritable path")
	}
	if sent, _ := s.IsSent(ctx, "A1"); sent {
		t.Error("sent mark kept in memory after failed write")
	}

	if err := os.Remove(dataDir); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	addr, ok, err := s.NextMentionJob(ctx)
	if err != nil || !ok || addr != "A2" {
		t.Fatalf("next job = %q, %v, %v; want A2", addr, ok, err)
	}

	reopened, err := OpenFileStore(path, storage.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if n, _ := reopened.MentionQueueLength(ctx); n != 0 {
		t.Errorf("reopened queue length = %d, want 0", n)
	}
	if _, err := reopened.GetByAddress(ctx, "A3"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("A3 reached disk: err = %v", err)
	}
}

func TestFileStore_LoadsLegacyDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")

	legacy := `{
  "lastUpdate": "2025-01-27T10:00:00.000Z",
  "tokens": {
    "43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump": {
      "name": "LC SHIB",
      "ticker": "LC",
      "tokenAddress": "43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump",
      "firstSeenAt": "2025-01-27T09:00:00.000Z",
      "pumpFunLink": "https://pump.fun/43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump",
      "msgTimestamp": "2025-01-27T08:59:58.123000+00:00",
      "scanRecommendation": {"username": "alice", "discordId": "111", "timestamp": "2025-01-27T09:00:00.000Z"},
      "updates": [{"timestamp": "2025-01-27T09:00:00.000Z", "marketCap": "139K", "percentage": "28.7", "type": "new_listing"}],
      "firstMention": {"username": "alice", "discordId": "111", "timestamp": "2025-01-27T09:00:00.000Z"}
    }
  },
  "sentRecommendations": {"43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump": "2025-01-27T09:30:00.000Z"},
  "lastPerformanceUpdates": {}
}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := OpenFileStore(path, storage.WithClock(func() time.Time { return storetest.BaseTime }))
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}

	rec, err := s.GetByAddress(ctx, "43YakhC3TcSuTgSXnxFgw8uKL8VkuLuFa4M6Bninpump")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if rec.Chain != domain.DefaultChain {
		t.Errorf("chain = %q, want default", rec.Chain)
	}
	if len(rec.Updates) != 1 || rec.Updates[0].Percentage != "28.7" {
		t.Errorf("updates = %+v", rec.Updates)
	}
	if rec.MessageTimestamp == nil {
		t.Error("msgTimestamp not decoded")
	}
	if sent, _ := s.IsSent(ctx, rec.TokenAddress); !sent {
		t.Error("sent mark not decoded")
	}
}

func TestPerformanceHistoryStore_AppendAndGet(t *testing.T) {
	store := NewPerformanceHistoryStore()
	ctx := context.Background()

	for _, ts := range []int64{3000, 1000, 2000} {
		if err := store.Append(ctx, &domain.PerformancePoint{TokenAddress: "A1", TimestampMs: ts, Price: float64(ts)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	err := store.Append(ctx, &domain.PerformancePoint{TokenAddress: "A1", TimestampMs: 1000})
	if err != storage.ErrDuplicateKey {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if err := store.Append(ctx, &domain.PerformancePoint{}); err != storage.ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	points, err := store.GetByAddress(ctx, "A1")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if points[i].TimestampMs != want {
			t.Errorf("points[%d].TimestampMs = %d, want %d", i, points[i].TimestampMs, want)
		}
	}

	empty, err := store.GetByAddress(ctx, "none")
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no points, got %d", len(empty))
	}
}
