package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"PLPLedger/internal/persistence"
	"PLPLedger/migrations"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Tables truncated between tests.
var tables = []string{
	"event_log.journal",
	"event_log.events",
	"event_log.snapshots",
	"projections.markets",
	"projections.positions",
	"projections.vesting_schedules",
	"projections.balances",
	"projections.treasury",
	"projections.watermark",
}

// RequireIntegration skips the test if not running integration tests.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("skipping integration test (set INTEGRATION_TEST=1 to run)")
	}
}

// SetupTestDB returns a migrated Postgres. TEST_POSTGRES_DSN points at an
// existing server; otherwise a throwaway container is started.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	RequireIntegration(t)

	ctx := context.Background()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = startPostgres(t, ctx)
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err, "open test db")

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(pingCtx), "ping test db")

	require.NoError(t, persistence.NewMigrator(db, migrations.FS, zerolog.Nop()).Up(ctx), "migrate")

	t.Cleanup(func() {
		for _, table := range tables {
			_, _ = db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
		_ = db.Close()
	})
	return db
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("plpledger_test"),
		postgres.WithUsername("plp_test"),
		postgres.WithPassword("plp_test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}
