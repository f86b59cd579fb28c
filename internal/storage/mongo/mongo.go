package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultDatabase is used when the URI names no database.
const DefaultDatabase = "token_tracker"

// Collection names.
const (
	tokensCollection      = "tokens"
	sentCollection        = "sentRecommendations"
	refreshCollection     = "performanceUpdates"
	mentionJobsCollection = "mentionJobs"
)

// Client wraps mongo.Client for dependency injection.
type Client struct {
	*mongo.Client
	dbName string
}

// Connect creates a new MongoDB client and verifies the connection.
// The database is taken from the URI path.
func Connect(ctx context.Context, uri string) (*Client, error) {
	dbName, err := databaseFromURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Client{Client: client, dbName: dbName}, nil
}

// Database returns the database named by the connection URI.
func (c *Client) Database() *mongo.Database {
	return c.Client.Database(c.dbName)
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes every store collection relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	unique := options.Index().SetUnique(true)

	indexes := map[string][]mongo.IndexModel{
		tokensCollection: {
			{Keys: bson.D{{Key: "tokenAddress", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "chain", Value: 1}}},
			{Keys: bson.D{{Key: "ticker", Value: 1}}},
			{Keys: bson.D{{Key: "firstSeenAt", Value: -1}}},
			{Keys: bson.D{{Key: "scanRecommendation.discordId", Value: 1}}},
		},
		sentCollection:        {{Keys: bson.D{{Key: "tokenAddress", Value: 1}}, Options: unique}},
		refreshCollection:     {{Keys: bson.D{{Key: "tokenAddress", Value: 1}}, Options: unique}},
		mentionJobsCollection: {{Keys: bson.D{{Key: "tokenAddress", Value: 1}}, Options: unique}},
	}

	for coll, models := range indexes {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func databaseFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse mongo uri: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return "", fmt.Errorf("parse mongo uri: unsupported scheme %q", u.Scheme)
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		return db, nil
	}
	return DefaultDatabase, nil
}
