package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bbopar/discord-token-tracker/internal/domain"
	"github.com/bbopar/discord-token-tracker/internal/storage"
)

// TokenStore implements storage.TokenStore using MongoDB collections.
type TokenStore struct {
	tokens      *mongo.Collection
	sent        *mongo.Collection
	refreshes   *mongo.Collection
	mentionJobs *mongo.Collection
	opts        storage.Options
}

// NewTokenStore creates a TokenStore on db and ensures its indexes.
func NewTokenStore(ctx context.Context, db *mongo.Database, opts ...storage.Option) (*TokenStore, error) {
	if err := EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}
	return &TokenStore{
		tokens:      db.Collection(tokensCollection),
		sent:        db.Collection(sentCollection),
		refreshes:   db.Collection(refreshCollection),
		mentionJobs: db.Collection(mentionJobsCollection),
		opts:        storage.ApplyOptions(opts...),
	}, nil
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

type sentDoc struct {
	TokenAddress string    `bson:"tokenAddress"`
	SentAt       time.Time `bson:"sentAt"`
}

type refreshDoc struct {
	TokenAddress string    `bson:"tokenAddress"`
	LastUpdate   time.Time `bson:"lastUpdate"`
}

type mentionJobDoc struct {
	TokenAddress string `bson:"tokenAddress"`
}

// GetByAddress retrieves a record by token address. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	err := s.tokens.FindOne(ctx, bson.M{"tokenAddress": address}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by address: %w", err)
	}
	return normalize(&rec), nil
}

// IsNewOrUpdated reports whether the event should mutate state.
func (s *TokenStore) IsNewOrUpdated(ctx context.Context, event *domain.MentionEvent) (bool, error) {
	if event == nil || event.TokenAddress == "" {
		return false, storage.ErrInvalidInput
	}

	existing, err := s.find(ctx, event.TokenAddress)
	if err != nil {
		return false, err
	}
	return event.IsNewOrUpdated(existing), nil
}

// Save creates or appends records for every event passing the dedup gate.
// Appends are conditional on the observed updates length, so a concurrent
// writer makes the event a skip instead of a double append.
func (s *TokenStore) Save(ctx context.Context, events []*domain.MentionEvent) (storage.SaveResult, error) {
	var res storage.SaveResult

	for _, e := range events {
		if e == nil || e.TokenAddress == "" {
			res.Skipped++
			continue
		}

		existing, err := s.find(ctx, e.TokenAddress)
		if err != nil {
			return res, err
		}
		if !e.IsNewOrUpdated(existing) {
			res.Skipped++
			continue
		}

		now := s.opts.Now()
		if existing == nil {
			rec := e.NewRecord(now)
			if _, err := s.tokens.InsertOne(ctx, rec); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					res.Skipped++
					continue
				}
				return res, fmt.Errorf("insert token: %w", err)
			}
			existing = rec
			res.Created++
		} else if u := e.Update(now); u != nil {
			filter := bson.M{"tokenAddress": e.TokenAddress, "updates": bson.M{"$size": len(existing.Updates)}}
			result, err := s.tokens.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"updates": u}})
			if err != nil {
				return res, fmt.Errorf("append update: %w", err)
			}
			if result.ModifiedCount == 0 {
				res.Skipped++
				continue
			}
			res.Appended++
		}

		if e.UpdateKind != domain.UpdateKindNewListing && existing.NeedsFirstMention() {
			enqueued, err := s.enqueue(ctx, e.TokenAddress)
			if err != nil {
				return res, err
			}
			if enqueued {
				res.Enqueued++
			}
		}
	}
	return res, nil
}

// UpdatePerformance overwrites the snapshot and stamps lastPerformanceUpdate.
func (s *TokenStore) UpdatePerformance(ctx context.Context, address string, snapshot *domain.PerformanceSnapshot) error {
	if address == "" || snapshot == nil {
		return storage.ErrInvalidInput
	}

	snap := *snapshot
	existing, err := s.find(ctx, address)
	if err != nil {
		return err
	}
	if existing != nil && existing.Ticker != "" {
		snap.Symbol = existing.Ticker
	}

	now := s.opts.Now()
	update := bson.M{
		"$set": bson.M{"performance": &snap, "lastPerformanceUpdate": now},
		"$setOnInsert": bson.M{
			"name":               "",
			"ticker":             "",
			"chain":              domain.DefaultChain,
			"pumpFunLink":        "",
			"firstSeenAt":        now,
			"scanRecommendation": domain.Mention{},
			"updates":            []domain.Update{},
		},
	}
	_, err = s.tokens.UpdateOne(ctx, bson.M{"tokenAddress": address}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update performance: %w", err)
	}
	return nil
}

// SetFirstMention writes the first mention if the record has none.
func (s *TokenStore) SetFirstMention(ctx context.Context, address string, mention domain.Mention) (bool, error) {
	filter := bson.M{"tokenAddress": address, "firstMention": bson.M{"$exists": false}}
	result, err := s.tokens.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"firstMention": mention}})
	if err != nil {
		return false, fmt.Errorf("set first mention: %w", err)
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}

	n, err := s.tokens.CountDocuments(ctx, bson.M{"tokenAddress": address})
	if err != nil {
		return false, fmt.Errorf("check token exists: %w", err)
	}
	if n == 0 {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// NextMentionJob pops the oldest queued address.
func (s *TokenStore) NextMentionJob(ctx context.Context) (string, bool, error) {
	opts := options.FindOneAndDelete().SetSort(bson.D{{Key: "_id", Value: 1}})

	var job mentionJobDoc
	if err := s.mentionJobs.FindOneAndDelete(ctx, bson.M{}, opts).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("pop mention job: %w", err)
	}
	return job.TokenAddress, true, nil
}

// MentionQueueLength returns the number of queued addresses.
func (s *TokenStore) MentionQueueLength(ctx context.Context) (int, error) {
	n, err := s.mentionJobs.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count mention jobs: %w", err)
	}
	return int(n), nil
}

// ShouldRefreshPerformance reports whether the throttle window has elapsed.
func (s *TokenStore) ShouldRefreshPerformance(ctx context.Context, address string) (bool, error) {
	var doc refreshDoc
	if err := s.refreshes.FindOne(ctx, bson.M{"tokenAddress": address}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return true, nil
		}
		return false, fmt.Errorf("get refresh mark: %w", err)
	}
	return s.opts.RefreshDue(&doc.LastUpdate, s.opts.Now()), nil
}

// MarkPerformanceRefreshed stamps the throttle clock.
func (s *TokenStore) MarkPerformanceRefreshed(ctx context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.refreshes.UpdateOne(ctx,
		bson.M{"tokenAddress": address},
		bson.M{"$set": bson.M{"lastUpdate": s.opts.Now()}},
		options.Update().SetUpsert(true),
	)
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

	_, err := s.sent.UpdateOne(ctx,
		bson.M{"tokenAddress": address},
		bson.M{"$setOnInsert": bson.M{"sentAt": s.opts.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// IsSent reports whether address was delivered.
func (s *TokenStore) IsSent(ctx context.Context, address string) (bool, error) {
	n, err := s.sent.CountDocuments(ctx, bson.M{"tokenAddress": address})
	if err != nil {
		return false, fmt.Errorf("check sent: %w", err)
	}
	return n > 0, nil
}

// CountSent returns the number of delivered recommendations.
func (s *TokenStore) CountSent(ctx context.Context) (int, error) {
	n, err := s.sent.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return int(n), nil
}

// ListTokens returns records matching the filter.
func (s *TokenStore) ListTokens(ctx context.Context, filter storage.TokenFilter) ([]*domain.TokenRecord, error) {
	query := bson.M{}
	if filter.Chain != "" {
		query["chain"] = filter.Chain
	}
	if filter.Address != "" {
		query["tokenAddress"] = filter.Address
	}
	if filter.Ticker != "" {
		query["ticker"] = filter.Ticker
	}
	if filter.StartTime != nil || filter.EndTime != nil {
		seen := bson.M{}
		if filter.StartTime != nil {
			seen["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			seen["$lte"] = *filter.EndTime
		}
		query["firstSeenAt"] = seen
	}

	sortField := string(filter.SortBy)
	if sortField == "" {
		sortField = string(storage.SortByFirstSeen)
	}
	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}, {Key: "tokenAddress", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	return s.findMany(ctx, "list tokens", query, opts)
}

// ListByUser returns records posted by discordID, newest first.
func (s *TokenStore) ListByUser(ctx context.Context, discordID string) ([]*domain.TokenRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "firstSeenAt", Value: -1}, {Key: "tokenAddress", Value: 1}})
	return s.findMany(ctx, "list tokens by user", bson.M{"scanRecommendation.discordId": discordID}, opts)
}

// ListUnsent returns all records not in the sent set, oldest first.
func (s *TokenStore) ListUnsent(ctx context.Context) ([]*domain.TokenRecord, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         sentCollection,
			"localField":   "tokenAddress",
			"foreignField": "tokenAddress",
			"as":           "_sent",
		}}},
		{{Key: "$match", Value: bson.M{"_sent": bson.M{"$size": 0}}}},
		{{Key: "$project", Value: bson.M{"_sent": 0}}},
		{{Key: "$sort", Value: bson.D{{Key: "firstSeenAt", Value: 1}, {Key: "tokenAddress", Value: 1}}}},
	}
	return s.aggregate(ctx, "list unsent tokens", pipeline)
}

// ListNeedingRefresh returns all records whose throttle window has elapsed, oldest first.
func (s *TokenStore) ListNeedingRefresh(ctx context.Context) ([]*domain.TokenRecord, error) {
	cutoff := s.opts.Now().Add(-s.opts.RefreshInterval)
	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from":         refreshCollection,
			"localField":   "tokenAddress",
			"foreignField": "tokenAddress",
			"as":           "_refresh",
		}}},
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"_refresh": bson.M{"$size": 0}},
			bson.M{"_refresh.lastUpdate": bson.M{"$lte": cutoff}},
		}}}},
		{{Key: "$project", Value: bson.M{"_refresh": 0}}},
		{{Key: "$sort", Value: bson.D{{Key: "firstSeenAt", Value: 1}, {Key: "tokenAddress", Value: 1}}}},
	}
	return s.aggregate(ctx, "list tokens needing refresh", pipeline)
}

// Import inserts entries from a legacy document that are not present yet,
// as bulk $setOnInsert upserts.
func (s *TokenStore) Import(ctx context.Context, doc *storage.LegacyDocument) (storage.ImportResult, error) {
	var res storage.ImportResult
	if doc == nil {
		return res, storage.ErrInvalidInput
	}
	bulkOpts := options.BulkWrite().SetOrdered(false)

	if len(doc.Tokens) > 0 {
		models := make([]mongo.WriteModel, 0, len(doc.Tokens))
		for addr, rec := range doc.Tokens {
			if rec == nil {
				continue
			}
			if rec.TokenAddress == "" {
				rec.TokenAddress = addr
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"tokenAddress": rec.TokenAddress}).
				SetUpdate(bson.M{"$setOnInsert": rec}).
				SetUpsert(true))
		}
		result, err := s.tokens.BulkWrite(ctx, models, bulkOpts)
		if err != nil {
			return res, fmt.Errorf("import tokens: %w", err)
		}
		res.Tokens = int(result.UpsertedCount)
	}

	if len(doc.SentRecommendations) > 0 {
		models := make([]mongo.WriteModel, 0, len(doc.SentRecommendations))
		for addr, ts := range doc.SentRecommendations {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"tokenAddress": addr}).
				SetUpdate(bson.M{"$setOnInsert": bson.M{"sentAt": ts}}).
				SetUpsert(true))
		}
		result, err := s.sent.BulkWrite(ctx, models, bulkOpts)
		if err != nil {
			return res, fmt.Errorf("import sent marks: %w", err)
		}
		res.Sent = int(result.UpsertedCount)
	}

	if len(doc.LastPerformanceUpdates) > 0 {
		models := make([]mongo.WriteModel, 0, len(doc.LastPerformanceUpdates))
		for addr, ts := range doc.LastPerformanceUpdates {
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"tokenAddress": addr}).
				SetUpdate(bson.M{"$setOnInsert": bson.M{"lastUpdate": ts}}).
				SetUpsert(true))
		}
		result, err := s.refreshes.BulkWrite(ctx, models, bulkOpts)
		if err != nil {
			return res, fmt.Errorf("import refresh marks: %w", err)
		}
		res.Refreshes = int(result.UpsertedCount)
	}

	for _, addr := range doc.MentionJobs {
		rec, err := s.find(ctx, addr)
		if err != nil {
			return res, err
		}
		if rec != nil && rec.NeedsFirstMention() {
			if _, err := s.enqueue(ctx, addr); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// find returns the record for address, or nil if it does not exist.
func (s *TokenStore) find(ctx context.Context, address string) (*domain.TokenRecord, error) {
	rec, err := s.GetByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// enqueue adds address to the mention queue unless already queued.
// The generated ObjectID orders the queue.
func (s *TokenStore) enqueue(ctx context.Context, address string) (bool, error) {
	result, err := s.mentionJobs.UpdateOne(ctx,
		bson.M{"tokenAddress": address},
		bson.M{"$setOnInsert": bson.M{"tokenAddress": address}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue mention job: %w", err)
	}
	return result.UpsertedCount == 1, nil
}

func (s *TokenStore) findMany(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*domain.TokenRecord, error) {
	cursor, err := s.tokens.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeAll(ctx, op, cursor)
}

func (s *TokenStore) aggregate(ctx context.Context, op string, pipeline mongo.Pipeline) ([]*domain.TokenRecord, error) {
	cursor, err := s.tokens.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decodeAll(ctx, op, cursor)
}

func decodeAll(ctx context.Context, op string, cursor *mongo.Cursor) ([]*domain.TokenRecord, error) {
	var records []*domain.TokenRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	out := make([]*domain.TokenRecord, 0, len(records))
	for _, r := range records {
		out = append(out, normalize(r))
	}
	return out, nil
}

// normalize converts decoded times to UTC and allocates empty updates.
func normalize(r *domain.TokenRecord) *domain.TokenRecord {
	r.FirstSeenAt = r.FirstSeenAt.UTC()
	r.ScanRecommendation.Timestamp = r.ScanRecommendation.Timestamp.UTC()
	if r.Updates == nil {
		r.Updates = []domain.Update{}
	}
	for i := range r.Updates {
		r.Updates[i].Timestamp = r.Updates[i].Timestamp.UTC()
		if !r.Updates[i].MessageTimestamp.IsZero() {
			r.Updates[i].MessageTimestamp = r.Updates[i].MessageTimestamp.UTC()
		}
	}
	if r.FirstMention != nil {
		r.FirstMention.Timestamp = r.FirstMention.Timestamp.UTC()
	}
	r.MessageTimestamp = utcPtr(r.MessageTimestamp)
	r.LastPerformanceUpdate = utcPtr(r.LastPerformanceUpdate)
	return r
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
