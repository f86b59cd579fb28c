package storage

import "time"

// DefaultRefreshInterval is the minimum interval between two performance refreshes of a token.
const DefaultRefreshInterval = 30 * time.Minute

// Options holds settings shared by TokenStore backends.
type Options struct {
	Now             func() time.Time
	RefreshInterval time.Duration
}

// Option configures a TokenStore backend.
type Option func(*Options)

// WithClock overrides the clock used for firstSeenAt, update and mark timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// WithRefreshInterval sets the performance refresh throttle window.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *Options) {
		o.RefreshInterval = d
	}
}

// ApplyOptions returns Options with defaults filled in.
func ApplyOptions(opts ...Option) Options {
	o := Options{
		Now:             func() time.Time { return time.Now().UTC() },
		RefreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RefreshDue reports whether a token last refreshed at last is eligible at now.
// A nil last means never refreshed.
func (o Options) RefreshDue(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= o.RefreshInterval
}
