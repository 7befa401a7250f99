// Package testutil holds shared helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresImage is the image started when POSTGRES_URL is not set.
const PostgresImage = "postgres:16-alpine"

// PGTest returns a migrated database and a cleanup function:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL points at an existing database. Without it a throwaway
// container is started, and the test is skipped when Docker is missing.
// Cleanup empties the duel tables and stops any container it started.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	stop := func() {}
	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		dsn, stop = startContainer(ctx, t)
	}

	db, err := sql.Open("postgres", dsn)
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		stop()
		t.Fatalf("pgtest: connect: %v", err)
	}

	if err := migrate(ctx, db, findMigrations(t)); err != nil {
		_ = db.Close()
		stop()
		t.Fatalf("pgtest: migrate: %v", err)
	}

	return db, func() {
		truncate(ctx, db)
		_ = db.Close()
		stop()
	}
}

func startContainer(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("duelyard"),
		postgres.WithUsername("duelyard"),
		postgres.WithPassword("duelyard"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("POSTGRES_URL not set and container unavailable: %v", err)
	}
	stop := func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("pgtest: terminate container: %v", err)
		}
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		stop()
		t.Fatalf("pgtest: connection string: %v", err)
	}
	return dsn, stop
}

// findMigrations walks up from the working directory to the repo's
// migrations/ directory.
func findMigrations(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("pgtest: no migrations/ directory above %s", dir)
		}
		dir = parent
	}
}

func migrate(ctx context.Context, db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(goose.NopLogger())
	return goose.UpContext(ctx, db, dir)
}

// truncate empties every duel table. goose's version table is kept so the
// next PGTest call sees the schema as current.
func truncate(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename LIKE 'duel_%'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			tables = append(tables, name)
		}
	}
	if len(tables) > 0 {
		_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")) // #nosec G202 -- names from pg_tables
	}
}
