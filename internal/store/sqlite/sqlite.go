// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is a store.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates the database file (and its directory) if needed, applies
// pragmas and runs the schema migration.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, ns, typ, id string, data []byte) error {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records(namespace, type, id, data, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(namespace, id) DO NOTHING`,
		ns, typ, id, data, now, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ns, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT namespace, type, id, data, created_at, updated_at FROM records WHERE namespace = ? AND id = ?`,
		ns, id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) Update(ctx context.Context, ns, id string, data []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, updated_at = ? WHERE namespace = ? AND id = ?`,
		data, formatTime(time.Now()), ns, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ns, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE namespace = ? AND id = ?`, ns, id)
	return err
}

func (s *Store) List(ctx context.Context, ns, typ string, opts store.ListOptions) ([]*store.Record, error) {
	// LIMIT -1 means no limit in SQLite.
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, type, id, data, created_at, updated_at FROM records
		 WHERE namespace = ? AND type = ? ORDER BY id DESC LIMIT ?`,
		ns, typ, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*store.Record, error) {
	var (
		r                store.Record
		data             []byte
		created, updated string
	)
	if err := row.Scan(&r.Namespace, &r.Type, &r.ID, &data, &created, &updated); err != nil {
		return nil, err
	}
	r.Data = data
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
