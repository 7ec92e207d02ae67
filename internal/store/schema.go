package store

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed by the store.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Sessions: one per discovery or question
CREATE TABLE IF NOT EXISTS session (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK (kind IN ('discovery', 'question', 'poll', 'ping')),
    q_type TEXT,
    num_options INTEGER,
    started_at INTEGER NOT NULL
);

-- Devices seen by the hub
CREATE TABLE IF NOT EXISTS device (
    device_id TEXT PRIMARY KEY,
    grupo INTEGER NOT NULL,
    role TEXT NOT NULL,
    last_seen_at INTEGER NOT NULL
);

-- Answers collected by polls
CREATE TABLE IF NOT EXISTS answer (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
    device_id TEXT NOT NULL,
    grupo INTEGER NOT NULL,
    role TEXT NOT NULL,
    answer TEXT NOT NULL,
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_session_id ON answer(session_id);

-- Health check results
CREATE TABLE IF NOT EXISTS ping (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
    device_id TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('online', 'offline')),
    received_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ping_session_id ON ping(session_id);

-- Raw event log
CREATE TABLE IF NOT EXISTS event (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    type TEXT NOT NULL,
    payload TEXT NOT NULL,
    received_at INTEGER NOT NULL
);
`
