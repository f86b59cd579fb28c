package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// PerformanceHistoryStore is an in-memory implementation of storage.PerformanceHistoryStore.
type PerformanceHistoryStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.PerformancePoint // address -> timestamp_ms -> point
}

// NewPerformanceHistoryStore creates a new in-memory performance history store.
func NewPerformanceHistoryStore() *PerformanceHistoryStore {
	return &PerformanceHistoryStore{
		data: make(map[string]map[int64]*domain.PerformancePoint),
	}
}

// Append adds a point. Returns ErrDuplicateKey if (token_address, timestamp_ms) exists.
func (s *PerformanceHistoryStore) Append(_ context.Context, p *domain.PerformancePoint) error {
	if p == nil || p.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byTs, ok := s.data[p.TokenAddress]
	if !ok {
		byTs = make(map[int64]*domain.PerformancePoint)
		s.data[p.TokenAddress] = byTs
	}
	if _, exists := byTs[p.TimestampMs]; exists {
		return storage.ErrDuplicateKey
	}

	pointCopy := *p
	byTs[p.TimestampMs] = &pointCopy
	return nil
}

// GetByAddress returns all points for a token, ordered by timestamp ASC.
func (s *PerformanceHistoryStore) GetByAddress(_ context.Context, address string) ([]*domain.PerformancePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PerformancePoint, 0, len(s.data[address]))
	for _, p := range s.data[address] {
		pointCopy := *p
		result = append(result, &pointCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.PerformanceHistoryStore = (*PerformanceHistoryStore)(nil)
