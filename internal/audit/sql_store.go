package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists audit artifacts in SQL backends (SQLite or Postgres),
// one row per record.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore creates a SQLite-backed audit store. dsn can be a file
// path or a SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "llmgw-audit.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore creates a Postgres-backed audit store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s audit store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS llm_artifacts (
	id INTEGER PRIMARY KEY,
	run_id TEXT NOT NULL,
	path TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (run_id, path)
);`
	if s.dialect == dialectPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS llm_artifacts (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	path TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, path)
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize audit schema: %w", err)
	}
	return nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, runID, path string, data []byte, contentType string) (string, error) {
	query := `INSERT INTO llm_artifacts (run_id, path, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)`
	if s.dialect == dialectPostgres {
		query = `INSERT INTO llm_artifacts (run_id, path, content_type, data, created_at) VALUES ($1, $2, $3, $4, $5)`
	}
	if _, err := s.db.ExecContext(ctx, query, runID, path, contentType, data, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert audit artifact: %w", err)
	}
	return fmt.Sprintf("sql://%s/%s", runID, path), nil
}

// Get reads an artifact back, primarily for inspection and tests.
func (s *SQLStore) Get(ctx context.Context, runID, path string) ([]byte, string, error) {
	query := `SELECT data, content_type FROM llm_artifacts WHERE run_id = ? AND path = ?`
	if s.dialect == dialectPostgres {
		query = `SELECT data, content_type FROM llm_artifacts WHERE run_id = $1 AND path = $2`
	}
	var data []byte
	var contentType string
	if err := s.db.QueryRowContext(ctx, query, runID, path).Scan(&data, &contentType); err != nil {
		return nil, "", fmt.Errorf("read audit artifact: %w", err)
	}
	return data, contentType, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
