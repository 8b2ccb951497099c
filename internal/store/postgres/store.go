// Package postgres implements every store interface on PostgreSQL.
//
// Uniqueness invariants (one active signing key, one live attestation per
// token, one open request and one open job per token) are enforced by partial
// unique indexes and surface as sentinel.ErrConflict.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tokenverif/pkg/platform/sentinel"
	"tokenverif/pkg/platform/tx"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) execer {
	if sqlTx, ok := tx.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

// Migrate applies pending embedded migrations in file name order. Each file
// runs in its own transaction and is recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = tx.Run(ctx, s.db, func(ctx context.Context) error {
			conn := s.conn(ctx)
			// Serialise concurrent migrators on the same database.
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_xact_lock(7262024)`); err != nil {
				return err
			}
			var applied bool
			if err := conn.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := conn.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := conn.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// translate maps driver errors onto sentinel errors.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, sentinel.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %s: %w", what, pgErr.ConstraintName, sentinel.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// expectRow turns an update that matched nothing into ErrNotFound.
func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
