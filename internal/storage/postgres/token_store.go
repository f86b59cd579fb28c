package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
	opts storage.Options
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool, opts ...storage.Option) *TokenStore {
	return &TokenStore{pool: pool, opts: storage.ApplyOptions(opts...)}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	t.token_address, t.name, t.ticker, t.chain, t.pump_link, t.first_seen_at, t.msg_timestamp,
	t.scan_username, t.scan_discord_id, t.scan_timestamp, t.first_mention, t.performance,
	t.last_performance_update`

// GetByAddress retrieves a record by token address. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (*domain.TokenRecord, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens t WHERE t.token_address = $1`

	rec, err := scanToken(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by address: %w", err)
	}

	if err := s.loadUpdates(ctx, s.pool, []*domain.TokenRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsNewOrUpdated reports whether the event should mutate state.
func (s *TokenStore) IsNewOrUpdated(ctx context.Context, event *domain.MentionEvent) (bool, error) {
	if event == nil || event.TokenAddress == "" {
		return false, storage.ErrInvalidInput
	}

	existing, err := s.latestState(ctx, s.pool, event.TokenAddress, false)
	if err != nil {
		return false, err
	}
	return event.IsNewOrUpdated(existing), nil
}

// Save creates or appends records for every event passing the dedup gate.
// Each event is applied in its own transaction.
func (s *TokenStore) Save(ctx context.Context, events []*domain.MentionEvent) (storage.SaveResult, error) {
	var res storage.SaveResult

	for _, e := range events {
		if e == nil || e.TokenAddress == "" {
			res.Skipped++
			continue
		}

		err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
			return s.saveEvent(ctx, tx, e, &res)
		})
		if err != nil {
			return res, fmt.Errorf("save event %s: %w", e.TokenAddress, err)
		}
	}
	return res, nil
}

func (s *TokenStore) saveEvent(ctx context.Context, tx pgx.Tx, e *domain.MentionEvent, res *storage.SaveResult) error {
	existing, err := s.latestState(ctx, tx, e.TokenAddress, true)
	if err != nil {
		return err
	}
	if !e.IsNewOrUpdated(existing) {
		res.Skipped++
		return nil
	}

	now := s.opts.Now()
	if existing == nil {
		rec := e.NewRecord(now)
		inserted, err := insertToken(ctx, tx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			res.Skipped++
			return nil
		}
		existing = rec
		res.Created++
	} else if u := e.Update(now); u != nil {
		if err := appendUpdate(ctx, tx, e.TokenAddress, u); err != nil {
			return err
		}
		res.Appended++
	}

	if e.UpdateKind != domain.UpdateKindNewListing && existing.NeedsFirstMention() {
		enqueued, err := enqueueMentionJob(ctx, tx, e.TokenAddress)
		if err != nil {
			return err
		}
		if enqueued {
			res.Enqueued++
		}
	}
	return nil
}

// latestState loads the parts of a record the dedup gate needs: the latest
// update, the newest applied message timestamp and whether a first mention
// exists. Returns nil for unknown addresses.
func (s *TokenStore) latestState(ctx context.Context, q querier, address string, lock bool) (*domain.TokenRecord, error) {
	query := `
		SELECT t.first_mention IS NOT NULL,
			GREATEST(t.msg_timestamp, (SELECT MAX(msg_ts) FROM token_updates WHERE token_address = t.token_address))
		FROM tokens t
		WHERE t.token_address = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var hasMention bool
	var lastMsg *time.Time
	if err := q.QueryRow(ctx, query, address).Scan(&hasMention, &lastMsg); err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load token state: %w", err)
	}

	rec := &domain.TokenRecord{TokenAddress: address}
	if hasMention {
		rec.FirstMention = &domain.Mention{}
	}
	if lastMsg != nil {
		ts := lastMsg.UTC()
		rec.MessageTimestamp = &ts
	}

	var u domain.Update
	var kind string
	var msgTs *time.Time
	err := q.QueryRow(ctx, `
		SELECT ts, market_cap, percentage, kind, msg_ts
		FROM token_updates
		WHERE token_address = $1
		ORDER BY seq DESC
		LIMIT 1
	`, address).Scan(&u.Timestamp, &u.MarketCap, &u.Percentage, &kind, &msgTs)
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("load latest update: %w", err)
	}
	if err == nil {
		u.Kind = domain.UpdateKind(kind)
		if msgTs != nil {
			u.MessageTimestamp = msgTs.UTC()
		}
		rec.Updates = []domain.Update{u}
	}
	return rec, nil
}

// UpdatePerformance overwrites the snapshot and stamps lastPerformanceUpdate.
// The snapshot symbol is replaced by the record's ticker when it has one.
func (s *TokenStore) UpdatePerformance(ctx context.Context, address string, snapshot *domain.PerformanceSnapshot) error {
	if address == "" || snapshot == nil {
		return storage.ErrInvalidInput
	}

	perf, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode performance: %w", err)
	}

	query := `
		INSERT INTO tokens (token_address, chain, first_seen_at, performance, last_performance_update)
		VALUES ($1, $2, $3, $4, $3)
		ON CONFLICT (token_address) DO UPDATE SET
			performance = CASE
				WHEN tokens.ticker <> '' THEN jsonb_set(EXCLUDED.performance, '{symbol}', to_jsonb(tokens.ticker))
				ELSE EXCLUDED.performance
			END,
			last_performance_update = EXCLUDED.last_performance_update
	`
	if _, err := s.pool.Exec(ctx, query, address, domain.DefaultChain, s.opts.Now(), perf); err != nil {
		return fmt.Errorf("update performance: %w", err)
	}
	return nil
}

// SetFirstMention writes the first mention if the record has none.
func (s *TokenStore) SetFirstMention(ctx context.Context, address string, mention domain.Mention) (bool, error) {
	data, err := json.Marshal(mention)
	if err != nil {
		return false, fmt.Errorf("encode first mention: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tokens SET first_mention = $2
		WHERE token_address = $1 AND first_mention IS NULL
	`, address, data)
	if err != nil {
		return false, fmt.Errorf("set first mention: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tokens WHERE token_address = $1)`, address).Scan(&exists); err != nil {
		return false, fmt.Errorf("check token exists: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// NextMentionJob pops the oldest queued address.
func (s *TokenStore) NextMentionJob(ctx context.Context) (string, bool, error) {
	query := `
		DELETE FROM mention_jobs
		WHERE id = (
			SELECT id FROM mention_jobs
			ORDER BY id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING token_address
	`

	var address string
	if err := s.pool.QueryRow(ctx, query).Scan(&address); err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("pop mention job: %w", err)
	}
	return address, true, nil
}

// MentionQueueLength returns the number of queued addresses.
func (s *TokenStore) MentionQueueLength(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM mention_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mention jobs: %w", err)
	}
	return n, nil
}

// ShouldRefreshPerformance reports whether the throttle window has elapsed.
func (s *TokenStore) ShouldRefreshPerformance(ctx context.Context, address string) (bool, error) {
	var last time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT refreshed_at FROM performance_refreshes WHERE token_address = $1
	`, address).Scan(&last)
	if err != nil {
		if isNotFoundError(err) {
			return true, nil
		}
		return false, fmt.Errorf("get refresh mark: %w", err)
	}
	return s.opts.RefreshDue(&last, s.opts.Now()), nil
}

// MarkPerformanceRefreshed stamps the throttle clock.
func (s *TokenStore) MarkPerformanceRefreshed(ctx context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO performance_refreshes (token_address, refreshed_at) VALUES ($1, $2)
		ON CONFLICT (token_address) DO UPDATE SET refreshed_at = EXCLUDED.refreshed_at
	`, address, s.opts.Now())
	if err != nil {
		return fmt.Errorf("mark performance refreshed: %w", err)
	}
	return nil
}

// MarkSent records a successful delivery. The first sentAt is kept.
func (s *TokenStore) MarkSent(ctx context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sent_recommendations (token_address, sent_at) VALUES ($1, $2)
		ON CONFLICT (token_address) DO NOTHING
	`, address, s.opts.Now())
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// IsSent reports whether address was delivered.
func (s *TokenStore) IsSent(ctx context.Context, address string) (bool, error) {
	var sent bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sent_recommendations WHERE token_address = $1)
	`, address).Scan(&sent)
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return sent, nil
}

// CountSent returns the number of delivered recommendations.
func (s *TokenStore) CountSent(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM sent_recommendations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}

// ListTokens returns records matching the filter.
func (s *TokenStore) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*domain.TokenRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Chain != "" {
		add("t.chain = $%d", filter.Chain)
	}
	if filter.Address != "" {
		add("t.token_address = $%d", filter.Address)
	}
	if filter.Ticker != "" {
		add("t.ticker = $%d", filter.Ticker)
	}
	if filter.StartTime != nil {
		add("t.first_seen_at >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("t.first_seen_at <= $%d", *filter.EndTime)
	}

	query := `SELECT` + tokenColumns + ` FROM tokens t`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ` + orderBy(filter.SortBy) + `, t.token_address ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return s.queryTokens(ctx, "list tokens", query, args...)
}

// ListByUser returns records posted by discordID, newest first.
func (s *TokenStore) ListByUser(ctx context.Context, discordID string) ([]*domain.TokenRecord, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens t
		WHERE t.scan_discord_id = $1
		ORDER BY t.first_seen_at DESC, t.token_address ASC`
	return s.queryTokens(ctx, "list tokens by user", query, discordID)
}

// ListUnsent returns all records not in the sent set, oldest first.
func (s *TokenStore) ListUnsent(ctx context.Context) ([]*domain.TokenRecord, error) {
	query := `SELECT` + tokenColumns + ` FROM tokens t
		WHERE NOT EXISTS (SELECT 1 FROM sent_recommendations sr WHERE sr.token_address = t.token_address)
		ORDER BY t.first_seen_at ASC, t.token_address ASC`
	return s.queryTokens(ctx, "list unsent tokens", query)
}

// ListNeedingRefresh returns all records whose throttle window has elapsed, oldest first.
func (s *TokenStore) ListNeedingRefresh(ctx context.Context) ([]*domain.TokenRecord, error) {
	cutoff := s.opts.Now().Add(-s.opts.RefreshInterval)
	query := `SELECT` + tokenColumns + ` FROM tokens t
		LEFT JOIN performance_refreshes pr ON pr.token_address = t.token_address
		WHERE pr.refreshed_at IS NULL OR pr.refreshed_at <= $1
		ORDER BY t.first_seen_at ASC, t.token_address ASC`
	return s.queryTokens(ctx, "list tokens needing refresh", query, cutoff)
}

// Import inserts entries from a legacy document that are not present yet.
func (s *TokenStore) Import(ctx context.Context, doc *storage.LegacyDocument) (storage.ImportResult, error) {
	var res storage.ImportResult
	if doc == nil {
		return res, storage.ErrInvalidInput
	}

	err := s.pool.WithTx(ctx, func(tx pgx.Tx) error {
		res = storage.ImportResult{}

		for addr, rec := range doc.Tokens {
			if rec == nil {
				continue
			}
			if rec.TokenAddress == "" {
				rec.TokenAddress = addr
			}
			inserted, err := insertToken(ctx, tx, rec)
			if err != nil {
				return err
			}
			if inserted {
				res.Tokens++
			}
		}

		for addr, ts := range doc.SentRecommendations {
			tag, err := tx.Exec(ctx, `
				INSERT INTO sent_recommendations (token_address, sent_at) VALUES ($1, $2)
				ON CONFLICT (token_address) DO NOTHING
			`, addr, ts)
			if err != nil {
				return fmt.Errorf("import sent mark: %w", err)
			}
			res.Sent += int(tag.RowsAffected())
		}

		for addr, ts := range doc.LastPerformanceUpdates {
			tag, err := tx.Exec(ctx, `
				INSERT INTO performance_refreshes (token_address, refreshed_at) VALUES ($1, $2)
				ON CONFLICT (token_address) DO NOTHING
			`, addr, ts)
			if err != nil {
				return fmt.Errorf("import refresh mark: %w", err)
			}
			res.Refreshes += int(tag.RowsAffected())
		}

		for _, addr := range doc.MentionJobs {
			_, err := tx.Exec(ctx, `
				INSERT INTO mention_jobs (token_address)
				SELECT token_address FROM tokens WHERE token_address = $1 AND first_mention IS NULL
				ON CONFLICT (token_address) DO NOTHING
			`, addr)
			if err != nil {
				return fmt.Errorf("import mention job: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return storage.ImportResult{}, fmt.Errorf("import legacy document: %w", err)
	}
	return res, nil
}

func (s *TokenStore) queryTokens(ctx context.Context, op, query string, args ...any) ([]*domain.TokenRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	records, err := scanTokens(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.loadUpdates(ctx, s.pool, records); err != nil {
		return nil, err
	}
	return records, nil
}

// loadUpdates fills Updates of every record in one query.
func (s *TokenStore) loadUpdates(ctx context.Context, q querier, records []*domain.TokenRecord) error {
	if len(records) == 0 {
		return nil
	}

	byAddr := make(map[string]*domain.TokenRecord, len(records))
	addrs := make([]string, 0, len(records))
	for _, r := range records {
		r.Updates = []domain.Update{}
		byAddr[r.TokenAddress] = r
		addrs = append(addrs, r.TokenAddress)
	}

	rows, err := q.Query(ctx, `
		SELECT token_address, ts, market_cap, percentage, kind, msg_ts
		FROM token_updates
		WHERE token_address = ANY($1)
		ORDER BY token_address, seq ASC
	`, addrs)
	if err != nil {
		return fmt.Errorf("load updates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr, kind string
		var u domain.Update
		var msgTs *time.Time
		if err := rows.Scan(&addr, &u.Timestamp, &u.MarketCap, &u.Percentage, &kind, &msgTs); err != nil {
			return fmt.Errorf("scan update row: %w", err)
		}
		u.Timestamp = u.Timestamp.UTC()
		if msgTs != nil {
			u.MessageTimestamp = msgTs.UTC()
		}
		u.Kind = domain.UpdateKind(kind)
		if r, ok := byAddr[addr]; ok {
			r.Updates = append(r.Updates, u)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate update rows: %w", err)
	}
	return nil
}

// insertToken inserts rec and its updates. Returns false if the address exists.
func insertToken(ctx context.Context, tx pgx.Tx, rec *domain.TokenRecord) (bool, error) {
	var firstMention, perf []byte
	var err error
	if rec.FirstMention != nil {
		if firstMention, err = json.Marshal(rec.FirstMention); err != nil {
			return false, fmt.Errorf("encode first mention: %w", err)
		}
	}
	if rec.Performance != nil {
		if perf, err = json.Marshal(rec.Performance); err != nil {
			return false, fmt.Errorf("encode performance: %w", err)
		}
	}

	var scanTs *time.Time
	if !rec.ScanRecommendation.Timestamp.IsZero() {
		ts := rec.ScanRecommendation.Timestamp
		scanTs = &ts
	}

	chain := rec.Chain
	if chain == "" {
		chain = domain.DefaultChain
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO tokens (
			token_address, name, ticker, chain, pump_link, first_seen_at, msg_timestamp,
			scan_username, scan_discord_id, scan_timestamp, first_mention, performance,
			last_performance_update
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (token_address) DO NOTHING
	`,
		rec.TokenAddress,
		rec.Name,
		rec.Ticker,
		chain,
		rec.PumpLink,
		rec.FirstSeenAt,
		rec.MessageTimestamp,
		rec.ScanRecommendation.Username,
		rec.ScanRecommendation.DiscordID,
		scanTs,
		firstMention,
		perf,
		rec.LastPerformanceUpdate,
	)
	if err != nil {
		return false, fmt.Errorf("insert token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for i := range rec.Updates {
		if err := appendUpdate(ctx, tx, rec.TokenAddress, &rec.Updates[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}

func appendUpdate(ctx context.Context, tx pgx.Tx, address string, u *domain.Update) error {
	var msgTs *time.Time
	if !u.MessageTimestamp.IsZero() {
		ts := u.MessageTimestamp
		msgTs = &ts
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO token_updates (token_address, seq, ts, market_cap, percentage, kind, msg_ts)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM token_updates WHERE token_address = $1
	`, address, u.Timestamp, u.MarketCap, u.Percentage, string(u.Kind), msgTs)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("append update: %w", err)
	}
	return nil
}

func enqueueMentionJob(ctx context.Context, tx pgx.Tx, address string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO mention_jobs (token_address) VALUES ($1)
		ON CONFLICT (token_address) DO NOTHING
	`, address)
	if err != nil {
		return false, fmt.Errorf("enqueue mention job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func orderBy(field storage.SortField) string {
	switch field {
	case storage.SortByMarketCap:
		return `COALESCE((t.performance->>'mcap')::double precision, 0) DESC`
	case storage.SortByPrice:
		return `COALESCE((t.performance->>'price')::double precision, 0) DESC`
	case storage.SortByVolume:
		return `COALESCE((t.performance->>'volume24h')::double precision, 0) DESC`
	default:
		return `t.first_seen_at DESC`
	}
}

// scanToken scans a single row into a TokenRecord (without updates).
func scanToken(row pgx.Row) (*domain.TokenRecord, error) {
	var (
		r                       domain.TokenRecord
		msgTs, scanTs, lastPerf *time.Time
		firstMention, perf      []byte
	)

	err := row.Scan(
		&r.TokenAddress,
		&r.Name,
		&r.Ticker,
		&r.Chain,
		&r.PumpLink,
		&r.FirstSeenAt,
		&msgTs,
		&r.ScanRecommendation.Username,
		&r.ScanRecommendation.DiscordID,
		&scanTs,
		&firstMention,
		&perf,
		&lastPerf,
	)
	if err != nil {
		return nil, err
	}

	r.FirstSeenAt = r.FirstSeenAt.UTC()
	r.MessageTimestamp = utcPtr(msgTs)
	r.LastPerformanceUpdate = utcPtr(lastPerf)
	if scanTs != nil {
		r.ScanRecommendation.Timestamp = scanTs.UTC()
	}
	if firstMention != nil {
		var m domain.Mention
		if err := json.Unmarshal(firstMention, &m); err != nil {
			return nil, fmt.Errorf("decode first mention: %w", err)
		}
		r.FirstMention = &m
	}
	if perf != nil {
		var p domain.PerformanceSnapshot
		if err := json.Unmarshal(perf, &p); err != nil {
			return nil, fmt.Errorf("decode performance: %w", err)
		}
		r.Performance = &p
	}
	return &r, nil
}

// scanTokens scans multiple rows into a slice of TokenRecord.
func scanTokens(rows pgx.Rows) ([]*domain.TokenRecord, error) {
	defer rows.Close()

	records := []*domain.TokenRecord{}
	for rows.Next() {
		r, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return records, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
