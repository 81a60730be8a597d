// Package persist stores conversation snapshots in SQLite so the chat
// history survives restarts.
package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"astrachat/internal/domain"
)

// SQLiteStore implements domain.SnapshotStore. Conversations are rows
// with a JSON body; folders and the current-conversation pointer live in
// a small meta table. Save replaces the whole snapshot inside one
// transaction, so a crash never leaves a half-written mix of old and new
// state.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			data       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save writes the full snapshot, replacing whatever was stored before.
func (s *SQLiteStore) Save(snap domain.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.WrapOp("persist.save", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM conversations"); err != nil {
		return domain.WrapOp("persist.save", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, conv := range snap.Conversations {
		data, err := json.Marshal(conv)
		if err != nil {
			return domain.NewDomainError("persist.save", err, conv.ID)
		}
		if _, err := tx.Exec(
			"INSERT INTO conversations (id, position, data, updated_at) VALUES (?, ?, ?, ?)",
			conv.ID, i, string(data), now,
		); err != nil {
			return domain.WrapOp("persist.save", err)
		}
	}

	folders, err := json.Marshal(snap.Folders)
	if err != nil {
		return domain.WrapOp("persist.save", err)
	}
	for key, value := range map[string]string{
		"current_conversation_id": snap.CurrentConversationID,
		"folders":                 string(folders),
	} {
		if _, err := tx.Exec(
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value,
		); err != nil {
			return domain.WrapOp("persist.save", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapOp("persist.save", errors.Join(domain.ErrSnapshotStore, err))
	}
	return nil
}

// Load reads the stored snapshot. A fresh database yields an empty
// snapshot rather than an error.
func (s *SQLiteStore) Load() (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}

	rows, err := s.db.Query("SELECT data FROM conversations ORDER BY position")
	if err != nil {
		return nil, domain.WrapOp("persist.load", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, domain.WrapOp("persist.load", err)
		}
		var conv domain.Conversation
		if err := json.Unmarshal([]byte(data), &conv); err != nil {
			return nil, domain.WrapOp("persist.load", errors.Join(domain.ErrSnapshotStore, err))
		}
		snap.Conversations = append(snap.Conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapOp("persist.load", err)
	}

	if v, err := s.meta("current_conversation_id"); err == nil {
		snap.CurrentConversationID = v
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapOp("persist.load", err)
	}
	if v, err := s.meta("folders"); err == nil && v != "" {
		if err := json.Unmarshal([]byte(v), &snap.Folders); err != nil {
			return nil, domain.WrapOp("persist.load", errors.Join(domain.ErrSnapshotStore, err))
		}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapOp("persist.load", err)
	}

	return snap, nil
}

func (s *SQLiteStore) meta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	return value, err
}

var _ domain.SnapshotStore = (*SQLiteStore)(nil)
