// Package orchestrator drives the token pipeline.
// It coordinates: ingestion → mention resolution → performance → delivery
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/mention"
	"github.com/bbopar/discord-token-tracker/internal/observability"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// Job names, used as log and metric labels.
const (
	JobIngest   = "ingest"
	JobMention  = "mention"
	JobRefresh  = "refresh"
	JobDelivery = "delivery"
)

// Default tick intervals.
const (
	DefaultIngestInterval   = 2 * time.Second
	DefaultMentionInterval  = 15 * time.Second
	DefaultRefreshInterval  = 30 * time.Minute
	DefaultDeliveryInterval = 6 * time.Minute
)

// EventSource returns the latest mention events in chat order.
type EventSource interface {
	Poll(ctx context.Context) ([]*domain.MentionEvent, error)
}

// MentionResolver resolves one queued mention job.
type MentionResolver interface {
	ResolveJob(ctx context.Context, address string) (mention.Outcome, error)
}

// PerformanceSource fetches a performance snapshot for a token.
type PerformanceSource interface {
	ResolvePerformance(ctx context.Context, address string) (*domain.PerformanceSnapshot, error)
}

// Sender delivers a recommendation.
type Sender interface {
	Send(ctx context.Context, rec *domain.Recommendation) error
}

// Options for creating Scheduler.
type Options struct {
	// Required collaborators
	Store       storage.TokenStore
	Events      EventSource
	Mentions    MentionResolver
	Performance PerformanceSource
	Sender      Sender

	// History is optional; nil disables performance history.
	History storage.PerformanceHistoryStore

	// Intervals, zero selects the default
	IngestInterval   time.Duration
	MentionInterval  time.Duration
	RefreshInterval  time.Duration
	DeliveryInterval time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// LastRun is the outcome of the latest ingestion tick.
type LastRun struct {
	Timestamp        time.Time `json:"timestamp"`
	Success          bool      `json:"success"`
	NewMessagesCount int       `json:"newMessagesCount"`
	Error            string    `json:"error,omitempty"`
}

// JobStatus describes one periodic job.
type JobStatus struct {
	Running      bool       `json:"running"`
	LastStarted  *time.Time `json:"lastStarted,omitempty"`
	LastDuration string     `json:"lastDuration,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	Runs         int        `json:"runs"`
	Skipped      int        `json:"skipped"`
}

// Status is a point-in-time readout of the scheduler.
type Status struct {
	LastRun             *LastRun             `json:"lastRun"`
	RecommendationsSent int                  `json:"recommendationsSent"`
	MentionQueueLength  int                  `json:"mentionQueueLength"`
	Jobs                map[string]JobStatus `json:"jobs"`
}

type jobState struct {
	running atomic.Bool

	// guarded by Scheduler.mu
	lastStarted  time.Time
	lastDuration time.Duration
	lastErr      error
	runs         int
	skipped      int
}

// Scheduler runs the four pipeline jobs on independent timers.
// A job whose previous tick is still running skips the new tick.
type Scheduler struct {
	store       storage.TokenStore
	events      EventSource
	mentions    MentionResolver
	performance PerformanceSource
	sender      Sender
	history     storage.PerformanceHistoryStore

	intervals map[string]time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	jobs map[string]*jobState
	wg   sync.WaitGroup

	mu          sync.RWMutex
	lastRun     *LastRun
	sentCount   int
	queueLength int
}

// New creates a new Scheduler.
func New(opts Options) *Scheduler {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	s := &Scheduler{
		store:       opts.Store,
		events:      opts.Events,
		mentions:    opts.Mentions,
		performance: opts.Performance,
		sender:      opts.Sender,
		history:     opts.History,
		intervals: map[string]time.Duration{
			JobIngest:   orDefault(opts.IngestInterval, DefaultIngestInterval),
			JobMention:  orDefault(opts.MentionInterval, DefaultMentionInterval),
			JobRefresh:  orDefault(opts.RefreshInterval, DefaultRefreshInterval),
			JobDelivery: orDefault(opts.DeliveryInterval, DefaultDeliveryInterval),
		},
		logger: opts.Logger.With().Str("component", "scheduler").Logger(),
		now:    now,
		jobs:   make(map[string]*jobState, 4),
	}
	for _, job := range []string{JobIngest, JobMention, JobRefresh, JobDelivery} {
		s.jobs[job] = &jobState{}
	}
	return s
}

// Run starts every job loop and blocks until ctx is cancelled.
// Each job ticks once immediately, then on its interval.
// In-flight ticks are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Dur("ingest_interval", s.intervals[JobIngest]).
		Dur("mention_interval", s.intervals[JobMention]).
		Dur("refresh_interval", s.intervals[JobRefresh]).
		Dur("delivery_interval", s.intervals[JobDelivery]).
		Msg("scheduler started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(gctx, JobIngest, s.IngestTick) })
	g.Go(func() error { return s.loop(gctx, JobMention, s.MentionTick) })
	g.Go(func() error { return s.loop(gctx, JobRefresh, s.RefreshTick) })
	g.Go(func() error { return s.loop(gctx, JobDelivery, s.DeliveryTick) })

	err := g.Wait()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, job string, tick func(context.Context) error) error {
	s.trigger(ctx, job, tick)

	ticker := time.NewTicker(s.intervals[job])
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.trigger(ctx, job, tick)
		}
	}
}

// trigger runs tick in the background unless the job is already running.
func (s *Scheduler) trigger(ctx context.Context, job string, tick func(context.Context) error) {
	state := s.jobs[job]
	if !state.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		state.skipped++
		s.mu.Unlock()
		observability.RecordTickSkipped(job)
		s.logger.Debug().Str("job", job).Msg("previous tick still running, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer state.running.Store(false)
		_ = s.runTick(ctx, job, tick)
	}()
}

// RunJob runs one tick of job synchronously, with the same bookkeeping as a timed tick.
// Returns false if the job was already running.
func (s *Scheduler) RunJob(ctx context.Context, job string) (bool, error) {
	var tick func(context.Context) error
	switch job {
	case JobIngest:
		tick = s.IngestTick
	case JobMention:
		tick = s.MentionTick
	case JobRefresh:
		tick = s.RefreshTick
	case JobDelivery:
		tick = s.DeliveryTick
	default:
		return false, storage.ErrInvalidInput
	}

	state := s.jobs[job]
	if !state.running.CompareAndSwap(false, true) {
		observability.RecordTickSkipped(job)
		return false, nil
	}
	defer state.running.Store(false)
	return true, s.runTick(ctx, job, tick)
}

func (s *Scheduler) runTick(ctx context.Context, job string, tick func(context.Context) error) error {
	logger := s.logger.With().Str("job", job).Str("run_id", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	err := tick(ctx)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		if ctx.Err() == nil {
			logger.Error().Err(err).Dur("duration", elapsed).Msg("tick failed")
		}
	}
	observability.RecordTick(job, status, elapsed.Seconds())

	s.mu.Lock()
	state := s.jobs[job]
	state.lastStarted = s.now()
	state.lastDuration = elapsed
	state.lastErr = err
	state.runs++
	s.mu.Unlock()

	return err
}

// Status returns the current scheduler readout.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		RecommendationsSent: s.sentCount,
		MentionQueueLength:  s.queueLength,
		Jobs:                make(map[string]JobStatus, len(s.jobs)),
	}
	if s.lastRun != nil {
		lr := *s.lastRun
		st.LastRun = &lr
	}
	for name, j := range s.jobs {
		js := JobStatus{
			Running: j.running.Load(),
			Runs:    j.runs,
			Skipped: j.skipped,
		}
		if !j.lastStarted.IsZero() {
			ts := j.lastStarted
			js.LastStarted = &ts
			js.LastDuration = j.lastDuration.String()
		}
		if j.lastErr != nil {
			js.LastError = j.lastErr.Error()
		}
		st.Jobs[name] = js
	}
	return st
}

// log returns the tick logger carried by ctx, or the scheduler logger.
func (s *Scheduler) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
