package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"PLPLedger/internal/config"
	"PLPLedger/internal/observability"
	"PLPLedger/internal/persistence"
	"PLPLedger/migrations"

	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "plpledger.toml", "path to TOML config")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-config path] <up|down|status>")
		fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
		fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
		fmt.Fprintln(os.Stderr, "  status - show applied, pending and drifted migrations")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "The DSN comes from [postgres].dsn or PLP_POSTGRES_DSN.")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrations.FS, logger)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration status")
		}
		for _, st := range statuses {
			state := "pending"
			switch {
			case st.Drifted:
				state = "DRIFTED"
			case st.Applied:
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, st.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", flag.Arg(0))
		os.Exit(1)
	}
}
