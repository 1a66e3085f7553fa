// Package postgres is the PostgreSQL record store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config tunes the connection pool. Zero values take the defaults below.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// PostgresStore keeps every record in one JSONB table keyed by
// (namespace, id).
type PostgresStore struct {
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// Open connects to cfg.URL and brings the schema up to date.
func Open(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database URL is required")
	}
	cfg.setDefaults()

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// migrateUp applies the embedded migrations. An up-to-date schema is not an
// error.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "eventhub_schema_migrations"})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, ns, typ, id string, data []byte) error {
	return queryCreate(ctx, s.db, ns, typ, id, data)
}

func (s *PostgresStore) Get(ctx context.Context, ns, id string) (*store.Record, error) {
	return queryGet(ctx, s.db, ns, id)
}

func (s *PostgresStore) Update(ctx context.Context, ns, id string, data []byte) error {
	return queryUpdate(ctx, s.db, ns, id, data)
}

func (s *PostgresStore) Delete(ctx context.Context, ns, id string) error {
	return queryDelete(ctx, s.db, ns, id)
}

func (s *PostgresStore) List(ctx context.Context, ns, typ string, opts store.ListOptions) ([]*store.Record, error) {
	return queryList(ctx, s.db, ns, typ, opts)
}
