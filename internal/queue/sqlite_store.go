package queue

import (
	"database/sql"
	"fmt"
)

const queueKey = "pending_events"

// SQLiteStore keeps the serialized queue in the local agent database,
// under a fixed key in the offline_queue table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Save(payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO offline_queue (key, payload, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP
	`, queueKey, string(payload))
	if err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load() ([]byte, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM offline_queue WHERE key = ?`, queueKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}
	return []byte(payload), nil
}
