package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	pgutil "github.com/bibbank/reconciliation/pkg/postgres"
)

// PostgresContainer is a disposable PostgreSQL started for one test, with a
// connected pool.
type PostgresContainer struct {
	Container *postgres.PostgresContainer
	DSN       string
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts PostgreSQL, applies the migrations of m and
// returns a connected pool. Pool and container are released when the test ends.
func NewPostgresContainer(ctx context.Context, t *testing.T, m pgutil.Migrator) *PostgresContainer {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("reconciliation_test"),
		postgres.WithUsername("reconciliation"),
		postgres.WithPassword("reconciliation"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	pc := &PostgresContainer{Container: container}
	t.Cleanup(pc.terminate(t))

	pc.DSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	if err := m.Up(pc.DSN); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	pc.Pool, err = pgxpool.New(ctx, pc.DSN)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	if err := pgutil.HealthCheck(ctx, pc.Pool); err != nil {
		t.Fatalf("postgres not reachable: %v", err)
	}
	return pc
}

func (pc *PostgresContainer) terminate(t *testing.T) func() {
	return func() {
		if pc.Pool != nil {
			pc.Pool.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pc.Container.Terminate(ctx); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	}
}
