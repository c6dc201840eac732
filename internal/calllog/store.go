// Package calllog persists per-call outcome records so operators can audit
// what the resilient call layer did: which origins were hit, how many
// attempts each call took, and how failures were classified.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry represents one completed call (success or failure).
type Entry struct {
	TraceID      string    `json:"trace_id,omitempty"`
	Origin       string    `json:"origin"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	Outcome      string    `json:"outcome"` // "success", "cached", or an error kind
	Status       int       `json:"status,omitempty"`
	Attempts     int       `json:"attempts"`
	FromCache    bool      `json:"from_cache"`
	LatencyMS    int64     `json:"latency_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Query filters and paginates List results.
type Query struct {
	Origin  string
	Outcome string
	Limit   int
	Offset  int
}

// Writer persists call log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader lists previously written entries, newest first.
type Reader interface {
	List(ctx context.Context, q Query) ([]Entry, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLStore persists entries to SQLite/Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "callgate-calls.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite call log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "sqlite"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres call log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "postgres"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s call log store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS call_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	origin TEXT NOT NULL,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	from_cache INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if s.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS call_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	origin TEXT NOT NULL,
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	from_cache BOOLEAN NOT NULL,
	latency_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize call log schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO call_logs(trace_id, origin, method, url, outcome, status, attempts, from_cache, latency_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO call_logs(trace_id, origin, method, url, outcome, status, attempts, from_cache, latency_ms, error_message, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Origin,
		entry.Method,
		entry.URL,
		entry.Outcome,
		entry.Status,
		entry.Attempts,
		entry.FromCache,
		entry.LatencyMS,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write call log: %w", err)
	}
	return nil
}

// List returns entries matching q, newest first. A zero Limit defaults to 100.
func (s *SQLStore) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var conds []string
	var args []any
	placeholder := func() string {
		if s.dialect == "postgres" {
			return fmt.Sprintf("$%d", len(args))
		}
		return "?"
	}
	if q.Origin != "" {
		args = append(args, q.Origin)
		conds = append(conds, "origin = "+placeholder())
	}
	if q.Outcome != "" {
		args = append(args, q.Outcome)
		conds = append(conds, "outcome = "+placeholder())
	}

	query := `SELECT trace_id, origin, method, url, outcome, status, attempts, from_cache, latency_ms, error_message, created_at FROM call_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += " ORDER BY id DESC LIMIT " + placeholder()
	args = append(args, q.Offset)
	query += " OFFSET " + placeholder()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.TraceID,
			&e.Origin,
			&e.Method,
			&e.URL,
			&e.Outcome,
			&e.Status,
			&e.Attempts,
			&e.FromCache,
			&e.LatencyMS,
			&e.ErrorMessage,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call log row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
