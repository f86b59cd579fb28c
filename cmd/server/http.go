package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/observability"
	"github.com/bbopar/discord-token-tracker/internal/orchestrator"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// maxListLimit caps /tokens and /users/{id}/tokens responses.
const maxListLimit = 500

// statusSource reports scheduler state.
type statusSource interface {
	Status() orchestrator.Status
}

// api serves the status and query surface.
type api struct {
	tokens  storage.TokenReader
	status  statusSource
	logger  zerolog.Logger
	started time.Time
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /tokens", a.handleTokens)
	mux.HandleFunc("GET /users/{discordId}/tokens", a.handleUserTokens)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status              string                            `json:"status"`
	Uptime              string                            `json:"uptime"`
	LastRun             *orchestrator.LastRun             `json:"lastRun"`
	RecommendationsSent int                               `json:"recommendationsSent"`
	MentionQueueLength  int                               `json:"mentionQueueLength"`
	Jobs                map[string]orchestrator.JobStatus `json:"jobs"`
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := a.status.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:              "running",
		Uptime:              time.Since(a.started).Round(time.Second).String(),
		LastRun:             st.LastRun,
		RecommendationsSent: st.RecommendationsSent,
		MentionQueueLength:  st.MentionQueueLength,
		Jobs:                st.Jobs,
	})
}

// TokensResponse wraps a token listing.
type TokensResponse struct {
	Count  int                   `json:"count"`
	Tokens []*domain.TokenRecord `json:"tokens"`
}

func (a *api) handleTokens(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTokenFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := a.tokens.ListTokens(r.Context(), filter)
	if err != nil {
		a.logger.Error().Err(err).Msg("list tokens")
		writeError(w, http.StatusInternalServerError, errors.New("list tokens failed"))
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Count: len(records), Tokens: nonNil(records)})
}

func (a *api) handleUserTokens(w http.ResponseWriter, r *http.Request) {
	discordID := r.PathValue("discordId")
	if _, err := strconv.ParseUint(discordID, 10, 64); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid discord id %q", discordID))
		return
	}

	records, err := a.tokens.ListByUser(r.Context(), discordID)
	if err != nil {
		a.logger.Error().Err(err).Str("discord_id", discordID).Msg("list user tokens")
		writeError(w, http.StatusInternalServerError, errors.New("list user tokens failed"))
		return
	}
	if len(records) > maxListLimit {
		records = records[:maxListLimit]
	}
	writeJSON(w, http.StatusOK, TokensResponse{Count: len(records), Tokens: nonNil(records)})
}

// parseTokenFilter reads chain, address, ticker, startTime, endTime, sortBy and limit.
func parseTokenFilter(r *http.Request) (storage.TokenFilter, error) {
	q := r.URL.Query()
	f := storage.TokenFilter{
		Chain:   q.Get("chain"),
		Address: q.Get("address"),
		Ticker:  q.Get("ticker"),
		Limit:   maxListLimit,
	}

	if f.Address != "" && !domain.IsTokenAddress(f.Address) {
		return f, fmt.Errorf("invalid token address %q", f.Address)
	}

	sortBy, err := storage.ParseSortField(q.Get("sortBy"))
	if err != nil {
		return f, err
	}
	f.SortBy = sortBy

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"startTime", &f.StartTime}, {"endTime", &f.EndTime}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %w", p.name, err)
		}
		*p.dst = &ts
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		if n < maxListLimit {
			f.Limit = n
		}
	}
	return f, nil
}

// parseTime accepts RFC 3339 or Unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func nonNil(records []*domain.TokenRecord) []*domain.TokenRecord {
	if records == nil {
		return []*domain.TokenRecord{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
