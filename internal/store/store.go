// Package store persists review sessions, the question framework, and
// answers in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// schema holds every table the service needs. Answers are unique on
// (session_id, question_key); the pair is the upsert key.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	progress_json  TEXT NOT NULL DEFAULT '{}',
	snapshot_json  TEXT,
	engine_log     TEXT NOT NULL DEFAULT '',
	report_json    TEXT,
	error          TEXT NOT NULL DEFAULT '',
	report_claimed INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS pillars (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS questions (
	key      TEXT PRIMARY KEY,
	text     TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	pillar   TEXT NOT NULL REFERENCES pillars(name),
	priority INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS answers (
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	question_key TEXT NOT NULL REFERENCES questions(key),
	answer       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	source       TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, question_key)
);

CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
`

// Store wraps the SQLite database. A single write connection with WAL mode
// serializes concurrent writers; readers share the mutex in read mode.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the parent
// directory and schema as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL + NORMAL synchronous: crash-safe and much faster for the
	// write pattern here (many small session updates).
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("store opened", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
