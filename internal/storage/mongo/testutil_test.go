package mongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
)

var dbCounter atomic.Int64

// setupTestClient creates a MongoDB container and returns a connected client.
// Returns a cleanup function that must be called when done.
func setupTestClient(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Waiting for connections").WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("27017/tcp"),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := Connect(ctx, fmt.Sprintf("mongodb://%s:%s/test", host, port.Port()))
	require.NoError(t, err)

	cleanup := func() {
		_ = client.Close(ctx)
		_ = container.Terminate(ctx)
	}

	return client, cleanup
}

// freshDatabase returns an empty database dropped when t finishes.
func freshDatabase(t *testing.T, client *Client) *mongo.Database {
	t.Helper()

	db := client.Client.Database(fmt.Sprintf("test_%d", dbCounter.Add(1)))
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
	})
	return db
}
