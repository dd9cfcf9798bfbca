package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoCtxTimeout = 10 * time.Second

var sharedMongo = newSharedContainer("MongoDB", testcontainers.ContainerRequest{
	Image:        "mongo:8",
	ExposedPorts: []string{"27017/tcp"},
	Env: map[string]string{
		"MONGO_INITDB_ROOT_USERNAME": "admin",
		"MONGO_INITDB_ROOT_PASSWORD": "admin123",
	},
	WaitingFor: wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout),
}, "27017")

// MongoURI returns the connection string of the shared MongoDB container.
func MongoURI(ctx context.Context) (string, error) {
	addr, err := sharedMongo.Addr(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("mongodb://admin:admin123@%s", addr), nil
}

// SetupSharedTestMongoDB creates a test database using the shared MongoDB container.
// Each test gets its own isolated database within the shared container.
func SetupSharedTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	_, db := SetupSharedTestMongoDBWithClient(t)
	return db
}

// SetupSharedTestMongoDBWithClient creates a test database and returns both client and database.
func SetupSharedTestMongoDBWithClient(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
	defer cancel()

	uri, err := MongoURI(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	if err = pingWithRetry(func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	db := client.Database(uniqueName("fenrys_test_", t.Name()))

	// Cleanup: drop database and disconnect after test
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cleanupCancel()
		_ = db.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return client, db
}

// CleanupSharedMongoContainer terminates the shared MongoDB container.
func CleanupSharedMongoContainer() {
	sharedMongo.Terminate()
}
