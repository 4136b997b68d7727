package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pajamaparty/telemetry/internal/models"

	"go.uber.org/zap"
)

// EventStore persists accepted events in the collector database.
type EventStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEventStore(db *sql.DB, logger *zap.Logger) *EventStore {
	return &EventStore{
		db:     db,
		logger: logger,
	}
}

// InsertBatch stores events in one transaction. Events whose ID already
// exists are counted as duplicates and skipped, which makes replays from
// at-least-once senders harmless.
func (s *EventStore) InsertBatch(events []models.Event) (accepted, duplicates int, err error) {
	if len(events) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO events
			(id, name, data, timestamp, path, user_id, session_id, referrer, user_agent, viewport_w, viewport_h, connection_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var data *string
		if len(ev.Data) > 0 {
			encoded, err := json.Marshal(ev.Data)
			if err != nil {
				s.logger.Error("Failed to marshal event data", zap.Error(err), zap.String("event_id", ev.ID))
				continue
			}
			str := string(encoded)
			data = &str
		}

		res, err := stmt.Exec(
			ev.ID,
			ev.Name,
			data,
			ev.Timestamp,
			ev.Path,
			ev.UserID,
			ev.SessionID,
			ev.Referrer,
			ev.UserAgent,
			ev.ViewportW,
			ev.ViewportH,
			ev.Connection,
		)
		if err != nil {
			s.logger.Error("Failed to insert event", zap.Error(err), zap.String("event_id", ev.ID))
			continue
		}

		if affected, _ := res.RowsAffected(); affected > 0 {
			accepted++
		} else {
			duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("Events stored",
		zap.Int("accepted", accepted),
		zap.Int("duplicates", duplicates),
	)

	return accepted, duplicates, nil
}

// CountByName returns per-event-name counts for events captured at or
// after since.
func (s *EventStore) CountByName(since time.Time) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT name, COUNT(*)
		FROM events
		WHERE timestamp >= ?
		GROUP BY name
		ORDER BY COUNT(*) DESC
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

// Recent returns the most recently captured events, newest first.
func (s *EventStore) Recent(limit int) ([]models.Event, error) {
	rows, err := s.db.Query(`
		SELECT id, name, data, timestamp, path, user_id, session_id, referrer, user_agent, viewport_w, viewport_h, connection_type
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var data sql.NullString
		err := rows.Scan(
			&ev.ID,
			&ev.Name,
			&data,
			&ev.Timestamp,
			&ev.Path,
			&ev.UserID,
			&ev.SessionID,
			&ev.Referrer,
			&ev.UserAgent,
			&ev.ViewportW,
			&ev.ViewportH,
			&ev.Connection,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				s.logger.Warn("Skipping unreadable event data", zap.String("event_id", ev.ID))
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TotalCount returns the number of stored events.
func (s *EventStore) TotalCount() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
