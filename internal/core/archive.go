package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mudd00/sensorgamehub-sub001/pkg/schema"
)

// Archive keeps finished or evicted sessions in SQLite so they stay inspectable
// after leaving the registry.
type Archive struct {
	db *sql.DB
}

// NewArchive opens (creating if needed) the archive at dbPath. ":memory:" opens a
// private in-memory database.
func NewArchive(dbPath string) (*Archive, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		completion_score INTEGER NOT NULL,
		requirements TEXT NOT NULL,
		history TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		archived_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_stage ON sessions(stage);`
	if _, err := db.Exec(query); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save upserts a session snapshot.
func (a *Archive) Save(ctx context.Context, v schema.SessionView) error {
	req, err := json.Marshal(v.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}
	history, err := json.Marshal(v.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	query := `
	INSERT INTO sessions (id, stage, completion_score, requirements, history, last_error, created_at, last_activity, archived_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		stage = excluded.stage,
		completion_score = excluded.completion_score,
		requirements = excluded.requirements,
		history = excluded.history,
		last_error = excluded.last_error,
		last_activity = excluded.last_activity,
		archived_at = excluded.archived_at`
	_, err = a.db.ExecContext(ctx, query,
		v.ID, string(v.Stage), v.CompletionScore, string(req), string(history), v.LastError,
		v.CreatedAt.UnixNano(), v.LastActivity.UnixNano(), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save session %s: %w", v.ID, err)
	}
	return nil
}

// Load returns an archived snapshot, or a SessionNotFoundError.
func (a *Archive) Load(ctx context.Context, id string) (*schema.SessionView, error) {
	var (
		v                  schema.SessionView
		stage, req, hist   string
		created, lastTouch int64
	)
	row := a.db.QueryRowContext(ctx, `
	SELECT id, stage, completion_score, requirements, history, last_error, created_at, last_activity
	FROM sessions WHERE id = ?`, id)
	err := row.Scan(&v.ID, &stage, &v.CompletionScore, &req, &hist, &v.LastError, &created, &lastTouch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &schema.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(req), &v.Requirements); err != nil {
		return nil, fmt.Errorf("parse requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(hist), &v.History); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	v.Stage = schema.Stage(stage)
	v.CreatedAt = time.Unix(0, created)
	v.LastActivity = time.Unix(0, lastTouch)
	return &v, nil
}

// Count returns the number of archived sessions.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
