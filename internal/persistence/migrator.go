package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID is the pg_advisory_lock key held while migrating. Two
// replicas starting together must not run the same DDL twice.
const migrationLockID int64 = 0x504c504c4544 // "PLPLED"

// ErrMigrationDrift means an applied migration file was edited afterwards.
var ErrMigrationDrift = errors.New("applied migration has changed on disk")

// Migrator applies {version}_{name}.up.sql files in version order and
// rolls them back with the matching .down.sql. Each applied file is
// recorded with its SHA-256 so later edits are caught instead of silently
// diverging from the live schema.
type Migrator struct {
	db    *sql.DB
	files fs.FS
	log   zerolog.Logger
}

// MigrationStatus describes one up-migration.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
	Drifted  bool
}

// NewMigrator reads migrations from files; pass migrations.FS or
// os.DirFS(dir).
func NewMigrator(db *sql.DB, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, files: files, log: logger}
}

// Up applies every pending migration. It refuses to run when an applied
// file no longer matches its recorded checksum.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn)
		if err != nil {
			return err
		}
		files, err := ListMigrations(m.files, ".up.sql")
		if err != nil {
			return fmt.Errorf("list migrations: %w", err)
		}

		for _, f := range files {
			content, err := fs.ReadFile(m.files, f)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", f, err)
			}
			version, sum := extractVersion(f), checksum(content)

			if prev, ok := applied[version]; ok {
				if prev != "" && prev != sum {
					return fmt.Errorf("%s: %w", f, ErrMigrationDrift)
				}
				continue
			}

			err = inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, string(content)); err != nil {
					return fmt.Errorf("exec migration %s: %w", f, err)
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
					version, f, sum)
				if err != nil {
					return fmt.Errorf("record migration %s: %w", f, err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.log.Info().Str("file", f).Str("checksum", sum[:12]).Msg("applied migration")
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downFile := strings.TrimSuffix(filename, ".up.sql") + ".down.sql"
		content, err := fs.ReadFile(m.files, downFile)
		if err != nil {
			return fmt.Errorf("read down migration %s: %w", downFile, err)
		}

		err = inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("exec down migration %s: %w", downFile, err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return err
		}
		m.log.Info().Str("file", downFile).Msg("rolled back migration")
		return nil
	})
}

// Status lists every embedded up-migration with its applied and drift
// state, in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx, conn)
	if err != nil {
		return nil, err
	}
	files, err := ListMigrations(m.files, ".up.sql")
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		content, err := fs.ReadFile(m.files, f)
		if err != nil {
			return nil, err
		}
		st := MigrationStatus{Version: extractVersion(f), Filename: f}
		if prev, ok := applied[st.Version]; ok {
			st.Applied = true
			st.Drifted = prev != "" && prev != checksum(content)
		}
		out = append(out, st)
	}
	return out, nil
}

// locked runs fn on a dedicated connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// applied maps version to recorded checksum. Rows written before checksums
// were tracked have an empty checksum and are never reported as drifted.
func (m *Migrator) applied(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE public.schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';
	`)
	return err
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListMigrations returns the files in fsys ending in suffix, in version order.
func ListMigrations(fsys fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// extractVersion returns the numeric prefix: "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
