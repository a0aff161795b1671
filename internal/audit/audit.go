// Package audit persists an append-only journal of every mutating
// operation the daemon performs: what was done, to which resource, by whom,
// and how it ended. The journal is operational history, not state - the
// daemon never reads it back to make decisions.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver" // database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embedded sqlite build

	"github.com/zjrosen/axd/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one journal row.
type Entry struct {
	Time      time.Time `json:"time"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}

// Journal writes audit entries to sqlite. A nil *Journal discards writes,
// so callers never branch on whether auditing is configured.
type Journal struct {
	db *sql.DB
}

// Open creates (or migrates) the journal at path. An empty path disables
// auditing and returns a nil journal.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info(log.CatAudit, "audit journal opened", "path", path)
	return &Journal{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load audit migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare audit migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("prepare audit migrations: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run audit migrations: %w", err)
	}
	return nil
}

// Record appends one entry. Failures are logged, never surfaced: an audit
// hiccup must not fail the operation it describes.
func (j *Journal) Record(ctx context.Context, e Entry) {
	if j == nil || j.db == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO audit_entries (at, operation, resource, actor, outcome, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.Operation, e.Resource, e.Actor, e.Outcome, e.Detail)
	if err != nil {
		log.ErrorErr(log.CatAudit, "audit write failed", err, "operation", e.Operation)
	}
}

// Recent returns the newest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, operation, resource, actor, outcome, detail
		 FROM audit_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&at, &e.Operation, &e.Resource, &e.Actor, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
