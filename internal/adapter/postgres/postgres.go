// Package postgres implements the user, session, preference and remote
// document stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	_ "github.com/lib/pq"
)

// DB wraps a *sql.DB and implements domain repository interfaces. When it
// was started by OpenEmbedded it also owns the embedded server process.
type DB struct {
	sql      *sql.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// Open connects to PostgreSQL, pings, and runs migrations.
func Open(connStr string) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(10)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

// EmbeddedConfig describes a PostgreSQL server run as a child process.
type EmbeddedConfig struct {
	DataPath string
	Port     uint32
	Database string
	Username string
	Password string
}

// OpenEmbedded starts an embedded PostgreSQL server and connects to it.
func OpenEmbedded(cfg EmbeddedConfig) (*DB, error) {
	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(cfg.DataPath).
		Port(cfg.Port).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(cfg.Password))

	if err := pg.Start(); err != nil {
		return nil, fmt.Errorf("start embedded postgres: %w", err)
	}
	log.Printf("embedded postgres started on port %d", cfg.Port)

	dsn := fmt.Sprintf("host=localhost port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Port, cfg.Username, cfg.Password, cfg.Database)
	d, err := Open(dsn)
	if err != nil {
		_ = pg.Stop()
		return nil, err
	}
	d.embedded = pg
	return d, nil
}

// Close closes the connection pool and stops the embedded server, if any.
func (d *DB) Close() error {
	err := d.sql.Close()
	if d.embedded != nil {
		if stopErr := d.embedded.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS users (id TEXT PRIMARY KEY, username TEXT UNIQUE NOT NULL, password_hash TEXT NOT NULL DEFAULT '', created_at TIMESTAMPTZ NOT NULL);",
		"CREATE TABLE IF NOT EXISTS sessions (token TEXT PRIMARY KEY, user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE, user_agent TEXT NOT NULL DEFAULT '', ip TEXT NOT NULL DEFAULT '', expires_at TIMESTAMPTZ NOT NULL, created_at TIMESTAMPTZ NOT NULL);",
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);",
		"CREATE TABLE IF NOT EXISTS user_preferences (user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE, fitness_sync BOOLEAN NOT NULL, updated_at TIMESTAMPTZ NOT NULL);",
		"CREATE TABLE IF NOT EXISTS documents (collection TEXT NOT NULL, id TEXT NOT NULL, doc JSONB NOT NULL, updated_at TIMESTAMPTZ NOT NULL, PRIMARY KEY (collection, id));",
	}

	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
