//go:build integration

// Package pgtest starts a disposable PostgreSQL container with the schema applied.
package pgtest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/onnwee/geoprivacy/internal/db"
	"github.com/onnwee/geoprivacy/migrations"
)

// Container is a running Postgres instance with migrations applied.
type Container struct {
	DSN string
	DB  *sql.DB
}

// New starts a container, applies the embedded migrations and registers cleanup.
func New(t *testing.T) *Container {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("geoprivacy_test"),
		postgres.WithUsername("geoprivacy"),
		postgres.WithPassword("geoprivacy_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	conn, err := db.Open(ctx, dsn, db.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := db.Migrate(ctx, conn, migrations.FS, logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &Container{DSN: dsn, DB: conn}
}

// Truncate clears the given tables.
func (c *Container) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := c.DB.Exec("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
