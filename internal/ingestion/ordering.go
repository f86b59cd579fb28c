package ingestion

import (
	"errors"
	"sort"

	"github.com/bbopar/discord-token-tracker/internal/domain"
)

// ErrInvalidOrdering is returned when events are not in chat order.
var ErrInvalidOrdering = errors.New("events are not in chat order")

// SortEvents orders events by (message timestamp ASC, token address ASC).
// The sort is stable so equal keys keep their input order.
func SortEvents(events []*domain.MentionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// ValidateEventOrdering checks that events are in chat order.
// Returns ErrInvalidOrdering if not.
func ValidateEventOrdering(events []*domain.MentionEvent) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) > 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (msg_timestamp ASC, token_address ASC)
func compareEvents(a, b *domain.MentionEvent) int {
	if !a.MessageTimestamp.Equal(b.MessageTimestamp) {
		if a.MessageTimestamp.Before(b.MessageTimestamp) {
			return -1
		}
		return 1
	}
	if a.TokenAddress != b.TokenAddress {
		if a.TokenAddress < b.TokenAddress {
			return -1
		}
		return 1
	}
	return 0
}
