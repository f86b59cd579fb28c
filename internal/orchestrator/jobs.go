package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bbopar/discord-token-tracker/internal/birdeye"
	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/ingestion"
	"github.com/bbopar/discord-token-tracker/internal/observability"
	"github.com/bbopar/discord-token-tracker/internal/storage"
	"github.com/bbopar/discord-token-tracker/internal/validation"
)

// IngestTick polls the channel and saves new or updated mention events.
// The outcome is recorded as the last ingestion run.
func (s *Scheduler) IngestTick(ctx context.Context) error {
	n, err := s.ingest(ctx)

	run := &LastRun{Timestamp: s.now(), Success: err == nil, NewMessagesCount: n}
	if err != nil {
		run.Error = err.Error()
		observability.RecordPoll("error", float64(run.Timestamp.Unix()))
	} else {
		observability.RecordPoll("success", float64(run.Timestamp.Unix()))
	}

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()
	return err
}

func (s *Scheduler) ingest(ctx context.Context) (int, error) {
	events, err := s.events.Poll(ctx)
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}
	// The dedup gate skips messages not newer than the last applied one,
	// so a batch out of chat order would lose its older events.
	if err := ingestion.ValidateEventOrdering(events); err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}

	fresh := make([]*domain.MentionEvent, 0, len(events))
	for _, e := range events {
		ok, err := s.store.IsNewOrUpdated(ctx, e)
		if err != nil {
			return 0, fmt.Errorf("check event %s: %w", e.TokenAddress, err)
		}
		if ok {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		s.log(ctx).Debug().Int("events", len(events)).Msg("no new messages")
		return 0, nil
	}

	res, err := s.store.Save(ctx, fresh)
	if err != nil {
		return 0, fmt.Errorf("save events: %w", err)
	}
	observability.RecordSave(res.Created, res.Appended, res.Skipped)

	s.log(ctx).Info().
		Int("events", len(events)).
		Int("created", res.Created).
		Int("appended", res.Appended).
		Int("enqueued", res.Enqueued).
		Msg("ingested messages")

	return len(fresh), s.refreshQueueLength(ctx)
}

// MentionTick resolves one queued mention job, then fetches initial performance for
// every token that has none and whose throttle window allows it.
// A failed resolution drops the job.
func (s *Scheduler) MentionTick(ctx context.Context) error {
	address, ok, err := s.store.NextMentionJob(ctx)
	if err != nil {
		return fmt.Errorf("pop mention job: %w", err)
	}
	if ok {
		outcome, err := s.mentions.ResolveJob(ctx, address)
		if err != nil {
			observability.RecordMentionJob("failed")
			s.log(ctx).Warn().Err(err).Str("address", address).Msg("mention job failed, dropped")
		} else {
			observability.RecordMentionJob(string(outcome))
			s.log(ctx).Debug().Str("address", address).Str("outcome", string(outcome)).Msg("mention job done")
		}
	}
	if err := s.refreshQueueLength(ctx); err != nil {
		return err
	}

	records, err := s.store.ListTokens(ctx, storage.TokenFilter{})
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	var refreshed int
	for _, rec := range records {
		if rec.Performance != nil {
			continue
		}
		due, err := s.store.ShouldRefreshPerformance(ctx, rec.TokenAddress)
		if err != nil {
			return fmt.Errorf("check throttle %s: %w", rec.TokenAddress, err)
		}
		if !due {
			continue
		}
		ok, err := s.refreshPerformance(ctx, rec.TokenAddress)
		if err != nil {
			return err
		}
		if ok {
			refreshed++
		}
	}
	if refreshed > 0 {
		s.log(ctx).Info().Int("tokens", refreshed).Msg("initial performance fetched")
	}
	return nil
}

// RefreshTick refreshes performance of every token whose throttle window has elapsed.
func (s *Scheduler) RefreshTick(ctx context.Context) error {
	records, err := s.store.ListNeedingRefresh(ctx)
	if err != nil {
		return fmt.Errorf("list tokens needing refresh: %w", err)
	}

	var refreshed, failed int
	for _, rec := range records {
		ok, err := s.refreshPerformance(ctx, rec.TokenAddress)
		if err != nil {
			return err
		}
		if ok {
			refreshed++
		} else {
			failed++
		}
	}

	s.log(ctx).Info().
		Int("due", len(records)).
		Int("refreshed", refreshed).
		Int("failed", failed).
		Msg("performance refresh done")
	return nil
}

// refreshPerformance fetches and stores performance for one token.
// Provider failures skip the token and return false; persistence failures are returned.
func (s *Scheduler) refreshPerformance(ctx context.Context, address string) (bool, error) {
	snapshot, err := s.performance.ResolvePerformance(ctx, address)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		outcome := "failed"
		if birdeye.IsNotFound(err) {
			outcome = "not_found"
		}
		observability.RecordPerformanceRefresh(outcome)
		s.log(ctx).Warn().Err(err).Str("address", address).Msg("performance unavailable")
		return false, nil
	}

	if err := s.store.UpdatePerformance(ctx, address, snapshot); err != nil {
		return false, fmt.Errorf("update performance %s: %w", address, err)
	}
	if err := s.store.MarkPerformanceRefreshed(ctx, address); err != nil {
		return false, fmt.Errorf("mark refreshed %s: %w", address, err)
	}
	observability.RecordPerformanceRefresh("success")

	if s.history != nil {
		point := domain.NewPerformancePoint(snapshot, s.now())
		point.TokenAddress = address
		err := s.history.Append(ctx, point)
		switch {
		case err == nil:
			observability.RecordHistoryPoint()
		case errors.Is(err, storage.ErrDuplicateKey):
		default:
			s.log(ctx).Warn().Err(err).Str("address", address).Msg("append performance history")
		}
	}
	return true, nil
}

// DeliveryTick sends every unsent record that has a first mention, performance and
// passes validation. Failed deliveries stay unsent for the next tick.
func (s *Scheduler) DeliveryTick(ctx context.Context) error {
	records, err := s.store.ListUnsent(ctx)
	if err != nil {
		return fmt.Errorf("list unsent: %w", err)
	}

	var sent, incomplete, failed int
	for _, rec := range records {
		reco := domain.NewRecommendation(rec)
		if reco == nil {
			continue
		}
		if missing := validation.Check(reco); len(missing) > 0 {
			incomplete++
			observability.RecordDelivery("incomplete")
			s.log(ctx).Debug().Str("address", rec.TokenAddress).Strs("missing", missing).Msg("recommendation incomplete")
			continue
		}

		if err := s.sender.Send(ctx, reco); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			failed++
			observability.RecordDelivery("failed")
			s.log(ctx).Warn().Err(err).Str("address", rec.TokenAddress).Msg("delivery failed")
			continue
		}

		if err := s.store.MarkSent(ctx, rec.TokenAddress); err != nil {
			return fmt.Errorf("mark sent %s: %w", rec.TokenAddress, err)
		}
		sent++
		observability.RecordDelivery("sent")
	}

	count, err := s.store.CountSent(ctx)
	if err != nil {
		return fmt.Errorf("count sent: %w", err)
	}
	s.mu.Lock()
	s.sentCount = count
	s.mu.Unlock()
	observability.UpdateRecommendationsSent(count)

	s.log(ctx).Info().
		Int("unsent", len(records)).
		Int("sent", sent).
		Int("incomplete", incomplete).
		Int("failed", failed).
		Int("total_sent", count).
		Msg("delivery sweep done")
	return nil
}

// Prime loads the sent count and queue length from the store.
func (s *Scheduler) Prime(ctx context.Context) error {
	count, err := s.store.CountSent(ctx)
	if err != nil {
		return fmt.Errorf("count sent: %w", err)
	}
	s.mu.Lock()
	s.sentCount = count
	s.mu.Unlock()
	observability.UpdateRecommendationsSent(count)
	return s.refreshQueueLength(ctx)
}

func (s *Scheduler) refreshQueueLength(ctx context.Context) error {
	n, err := s.store.MentionQueueLength(ctx)
	if err != nil {
		return fmt.Errorf("mention queue length: %w", err)
	}
	s.mu.Lock()
	s.queueLength = n
	s.mu.Unlock()
	observability.UpdateMentionQueueLength(n)
	return nil
}
