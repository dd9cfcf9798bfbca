package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresCtxTimeout = 15 * time.Second

var sharedPostgres = newSharedContainer("PostgreSQL", testcontainers.ContainerRequest{
	Image:        "postgres:16-alpine",
	ExposedPorts: []string{"5432/tcp"},
	Env: map[string]string{
		"POSTGRES_USER":     "fenrys",
		"POSTGRES_PASSWORD": "fenrys",
		"POSTGRES_DB":       "fenrys",
	},
	WaitingFor: wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(containerStartupTimeout),
		wait.ForListeningPort("5432/tcp").WithStartupTimeout(containerStartupTimeout),
	),
}, "5432")

func postgresDSN(addr, dbName string) string {
	return fmt.Sprintf("postgres://fenrys:fenrys@%s/%s?sslmode=disable", addr, dbName)
}

// SetupTestPostgres creates an isolated database in the shared PostgreSQL
// container and returns a pool connected to it. The database is dropped
// after the test.
func SetupTestPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), postgresCtxTimeout)
	defer cancel()

	addr, err := sharedPostgres.Addr(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared PostgreSQL container: %v", err)
	}

	admin, err := sql.Open("postgres", postgresDSN(addr, "fenrys"))
	if err != nil {
		t.Fatalf("Failed to open PostgreSQL: %v", err)
	}
	if err = pingWithRetry(admin.PingContext); err != nil {
		_ = admin.Close()
		t.Fatalf("Failed to ping PostgreSQL: %v", err)
	}

	dbName := uniqueName("fenrys_test_", t.Name())
	if _, err = admin.ExecContext(ctx, "CREATE DATABASE "+dbName); err != nil {
		_ = admin.Close()
		t.Fatalf("Failed to create database %s: %v", dbName, err)
	}

	db, err := sql.Open("postgres", postgresDSN(addr, dbName))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), postgresCtxTimeout)
		defer cleanupCancel()
		_, _ = admin.ExecContext(cleanupCtx, "DROP DATABASE IF EXISTS "+dbName+" WITH (FORCE)")
		_ = admin.Close()
	})

	return db
}

// CleanupSharedPostgresContainer terminates the shared PostgreSQL container.
func CleanupSharedPostgresContainer() {
	sharedPostgres.Terminate()
}
