package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
// When opened with OpenFileStore it is also the flat-file backend: every
// mutation rewrites the whole document to disk.
type TokenStore struct {
	mu   sync.RWMutex
	opts storage.Options
	path string // empty for a pure in-memory store

	tokens    map[string]*domain.TokenRecord // keyed by token address
	sent      map[string]time.Time           // address -> sentAt
	refreshed map[string]time.Time           // address -> last performance refresh
	jobs      []string                       // mention-job FIFO
	queued    map[string]struct{}            // members of jobs
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore(opts ...storage.Option) *TokenStore {
	return &TokenStore{
		opts:      storage.ApplyOptions(opts...),
		tokens:    make(map[string]*domain.TokenRecord),
		sent:      make(map[string]time.Time),
		refreshed: make(map[string]time.Time),
		queued:    make(map[string]struct{}),
	}
}

// OpenFileStore creates a store persisted at path.
// A missing file means an empty store; the file is created on first mutation.
func OpenFileStore(path string, opts ...storage.Option) (*TokenStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open file store: %w: empty path", storage.ErrInvalidInput)
	}

	s := NewTokenStore(opts...)
	s.path = path

	doc, err := storage.ReadLegacyDocument(path)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	for addr, rec := range doc.Tokens {
		s.tokens[addr] = rec
	}
	for addr, ts := range doc.SentRecommendations {
		s.sent[addr] = ts
	}
	for addr, ts := range doc.LastPerformanceUpdates {
		s.refreshed[addr] = ts
	}
	for _, addr := range doc.MentionJobs {
		s.enqueueLocked(addr)
	}
	return s, nil
}

// Path returns the backing file path, or "" for a pure in-memory store.
func (s *TokenStore) Path() string {
	return s.path
}

// GetByAddress retrieves a record by token address. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(_ context.Context, address string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.tokens[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

// IsNewOrUpdated reports whether the event should mutate state.
func (s *TokenStore) IsNewOrUpdated(_ context.Context, event *domain.MentionEvent) (bool, error) {
	if event == nil || event.TokenAddress == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return event.IsNewOrUpdated(s.tokens[event.TokenAddress]), nil
}

// Save creates or appends records for every event passing the dedup gate.
func (s *TokenStore) Save(_ context.Context, events []*domain.MentionEvent) (storage.SaveResult, error) {
	var res storage.SaveResult
	if len(events) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	for _, e := range events {
		if e == nil || e.TokenAddress == "" {
			res.Skipped++
			continue
		}

		existing := s.tokens[e.TokenAddress]
		if !e.IsNewOrUpdated(existing) {
			res.Skipped++
			continue
		}

		now := s.opts.Now()
		if existing == nil {
			existing = e.NewRecord(now)
			s.tokens[e.TokenAddress] = existing
			res.Created++
		} else if u := e.Update(now); u != nil {
			existing.Updates = append(existing.Updates, *u)
			res.Appended++
		}

		if e.UpdateKind != domain.UpdateKindNewListing && existing.NeedsFirstMention() {
			if s.enqueueLocked(e.TokenAddress) {
				res.Enqueued++
			}
		}
	}

	if res.Created+res.Appended == 0 {
		return res, nil
	}
	return res, s.commitLocked(restore)
}

// UpdatePerformance overwrites the snapshot and stamps lastPerformanceUpdate.
func (s *TokenStore) UpdatePerformance(_ context.Context, address string, snapshot *domain.PerformanceSnapshot) error {
	if address == "" || snapshot == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	now := s.opts.Now()
	rec, exists := s.tokens[address]
	if !exists {
		rec = bareRecord(address, now)
		s.tokens[address] = rec
	}

	snap := *snapshot
	if rec.Ticker != "" {
		snap.Symbol = rec.Ticker
	}
	rec.Performance = &snap
	rec.LastPerformanceUpdate = &now

	return s.commitLocked(restore)
}

// SetFirstMention writes the first mention if the record has none.
func (s *TokenStore) SetFirstMention(_ context.Context, address string, mention domain.Mention) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	rec, exists := s.tokens[address]
	if !exists {
		return false, storage.ErrNotFound
	}
	if rec.FirstMention != nil {
		return false, nil
	}

	m := mention
	rec.FirstMention = &m
	if err := s.commitLocked(restore); err != nil {
		return false, err
	}
	return true, nil
}

// NextMentionJob pops the oldest queued address.
func (s *TokenStore) NextMentionJob(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	if len(s.jobs) == 0 {
		return "", false, nil
	}

	addr := s.jobs[0]
	s.jobs = s.jobs[1:]
	delete(s.queued, addr)
	if err := s.commitLocked(restore); err != nil {
		return "", false, err
	}
	return addr, true, nil
}

// MentionQueueLength returns the number of queued addresses.
func (s *TokenStore) MentionQueueLength(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), nil
}

// ShouldRefreshPerformance reports whether the throttle window has elapsed.
func (s *TokenStore) ShouldRefreshPerformance(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.refreshDueLocked(address, s.opts.Now()), nil
}

// MarkPerformanceRefreshed stamps the throttle clock.
func (s *TokenStore) MarkPerformanceRefreshed(_ context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	s.refreshed[address] = s.opts.Now()
	return s.commitLocked(restore)
}

// MarkSent records a successful delivery. The first sentAt is kept.
func (s *TokenStore) MarkSent(_ context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	if _, exists := s.sent[address]; exists {
		return nil
	}
	s.sent[address] = s.opts.Now()
	return s.commitLocked(restore)
}

// IsSent reports whether address was delivered.
func (s *TokenStore) IsSent(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sent[address]
	return ok, nil
}

// CountSent returns the number of delivered recommendations.
func (s *TokenStore) CountSent(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sent), nil
}

// ListTokens returns records matching the filter.
func (s *TokenStore) ListTokens(_ context.Context, filter storage.TokenFilter) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return storage.ApplyFilter(s.snapshotLocked(nil), filter), nil
}

// ListByUser returns records posted by discordID, newest first.
func (s *TokenStore) ListByUser(_ context.Context, discordID string) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.snapshotLocked(func(r *domain.TokenRecord) bool {
		return r.ScanRecommendation.DiscordID == discordID
	})
	storage.SortRecords(result, storage.SortByFirstSeen)
	return result, nil
}

// ListUnsent returns all records not in the sent set, oldest first.
func (s *TokenStore) ListUnsent(_ context.Context) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.snapshotLocked(func(r *domain.TokenRecord) bool {
		_, sent := s.sent[r.TokenAddress]
		return !sent
	})
	sortOldestFirst(result)
	return result, nil
}

// ListNeedingRefresh returns all records whose throttle window has elapsed, oldest first.
func (s *TokenStore) ListNeedingRefresh(_ context.Context) ([]*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.opts.Now()
	result := s.snapshotLocked(func(r *domain.TokenRecord) bool {
		return s.refreshDueLocked(r.TokenAddress, now)
	})
	sortOldestFirst(result)
	return result, nil
}

// Import inserts entries from a legacy document that are not present yet.
func (s *TokenStore) Import(_ context.Context, doc *storage.LegacyDocument) (storage.ImportResult, error) {
	var res storage.ImportResult
	if doc == nil {
		return res, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restore := s.checkpointLocked()

	for addr, rec := range doc.Tokens {
		if rec == nil {
			continue
		}
		if rec.TokenAddress == "" {
			rec.TokenAddress = addr
		}
		if _, exists := s.tokens[rec.TokenAddress]; exists {
			continue
		}
		s.tokens[rec.TokenAddress] = rec.Clone()
		res.Tokens++
	}
	for addr, ts := range doc.SentRecommendations {
		if _, exists := s.sent[addr]; !exists {
			s.sent[addr] = ts
			res.Sent++
		}
	}
	for addr, ts := range doc.LastPerformanceUpdates {
		if _, exists := s.refreshed[addr]; !exists {
			s.refreshed[addr] = ts
			res.Refreshes++
		}
	}
	for _, addr := range doc.MentionJobs {
		if rec, ok := s.tokens[addr]; ok && rec.NeedsFirstMention() {
			s.enqueueLocked(addr)
		}
	}

	return res, s.commitLocked(restore)
}

// Document returns a copy of the store state in the legacy layout.
func (s *TokenStore) Document() *storage.LegacyDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked()
}

func (s *TokenStore) enqueueLocked(address string) bool {
	if _, exists := s.queued[address]; exists {
		return false
	}
	s.queued[address] = struct{}{}
	s.jobs = append(s.jobs, address)
	return true
}

func (s *TokenStore) refreshDueLocked(address string, now time.Time) bool {
	last, ok := s.refreshed[address]
	if !ok {
		return true
	}
	return s.opts.RefreshDue(&last, now)
}

// snapshotLocked returns clones of all records accepted by keep (nil keeps all).
func (s *TokenStore) snapshotLocked(keep func(*domain.TokenRecord) bool) []*domain.TokenRecord {
	result := make([]*domain.TokenRecord, 0, len(s.tokens))
	for _, rec := range s.tokens {
		if keep == nil || keep(rec) {
			result = append(result, rec.Clone())
		}
	}
	return result
}

func (s *TokenStore) documentLocked() *storage.LegacyDocument {
	doc := storage.NewLegacyDocument()
	now := s.opts.Now()
	doc.LastUpdate = &now
	for addr, rec := range s.tokens {
		doc.Tokens[addr] = rec.Clone()
	}
	for addr, ts := range s.sent {
		doc.SentRecommendations[addr] = ts
	}
	for addr, ts := range s.refreshed {
		doc.LastPerformanceUpdates[addr] = ts
	}
	doc.MentionJobs = append([]string(nil), s.jobs...)
	return doc
}

// checkpointLocked captures the state of a file store before a mutation and
// returns a func that restores it. Pure in-memory stores never fail to
// persist, so they get a no-op.
func (s *TokenStore) checkpointLocked() func() {
	if s.path == "" {
		return func() {}
	}

	tokens := make(map[string]*domain.TokenRecord, len(s.tokens))
	for addr, rec := range s.tokens {
		tokens[addr] = rec.Clone()
	}
	sent := make(map[string]time.Time, len(s.sent))
	for addr, ts := range s.sent {
		sent[addr] = ts
	}
	refreshed := make(map[string]time.Time, len(s.refreshed))
	for addr, ts := range s.refreshed {
		refreshed[addr] = ts
	}
	queued := make(map[string]struct{}, len(s.queued))
	for addr := range s.queued {
		queued[addr] = struct{}{}
	}
	jobs := append([]string(nil), s.jobs...)

	return func() {
		s.tokens, s.sent, s.refreshed, s.jobs, s.queued = tokens, sent, refreshed, jobs, queued
	}
}

// commitLocked persists the mutated state, rolling memory back to the
// checkpoint when the write fails so it never runs ahead of the file.
func (s *TokenStore) commitLocked(restore func()) error {
	if err := s.persistLocked(); err != nil {
		restore()
		return err
	}
	return nil
}

// persistLocked rewrites the backing file atomically (temp file + rename).
func (s *TokenStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.documentLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode token document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write token document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close token document: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace token document: %w", err)
	}
	return nil
}

func bareRecord(address string, now time.Time) *domain.TokenRecord {
	return &domain.TokenRecord{
		TokenAddress: address,
		Chain:        domain.DefaultChain,
		FirstSeenAt:  now,
		Updates:      []domain.Update{},
	}
}

// sortOldestFirst orders by firstSeenAt ASC, ties by address.
func sortOldestFirst(records []*domain.TokenRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].FirstSeenAt.Equal(records[j].FirstSeenAt) {
			return records[i].FirstSeenAt.Before(records[j].FirstSeenAt)
		}
		return records[i].TokenAddress < records[j].TokenAddress
	})
}

// Verify interface compliance at compile time.
var _ storage.TokenStore = (*TokenStore)(nil)
