package queue

import (
	"encoding/json"
	"sync"

	"pajamaparty/telemetry/internal/models"

	"go.uber.org/zap"
)

// Store persists the serialized pending-events array in a single durable
// slot. Save overwrites the slot, Load reads it back (nil payload when the
// slot is empty).
type Store interface {
	Save(payload []byte) error
	Load() ([]byte, error)
}

// OfflineQueue is a bounded FIFO of events awaiting delivery. Insertion
// beyond capacity evicts the oldest entries so fresh data survives at the
// expense of stale data. Every mutation is persisted best-effort; when the
// store fails the queue degrades to memory-only for the rest of the session.
type OfflineQueue struct {
	mu       sync.Mutex
	events   []models.Event
	capacity int
	store    Store
	degraded bool
	logger   *zap.Logger
}

// NewOfflineQueue creates a queue with the given capacity, loading any
// previously persisted events. A nil store means memory-only operation.
// Corrupt persisted data is treated as an empty queue, never an error.
func NewOfflineQueue(capacity int, store Store, logger *zap.Logger) *OfflineQueue {
	q := &OfflineQueue{
		capacity: capacity,
		store:    store,
		logger:   logger,
	}

	if store == nil {
		return q
	}

	payload, err := store.Load()
	if err != nil {
		logger.Warn("Failed to load offline queue, starting empty", zap.Error(err))
		return q
	}
	if len(payload) == 0 {
		return q
	}

	var events []models.Event
	if err := json.Unmarshal(payload, &events); err != nil {
		logger.Warn("Discarding corrupt offline queue data", zap.Error(err))
		return q
	}
	if len(events) > capacity {
		events = events[len(events)-capacity:]
	}
	q.events = events

	logger.Info("Loaded persisted offline queue", zap.Int("count", len(events)))
	return q
}

// Append adds events to the tail, evicting from the head when over capacity.
func (q *OfflineQueue) Append(events []models.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, events...)
	if over := len(q.events) - q.capacity; over > 0 {
		q.events = q.events[over:]
		q.logger.Debug("Offline queue at capacity, evicted oldest events",
			zap.Int("evicted", over),
			zap.Int("capacity", q.capacity),
		)
	}
	q.persistLocked()
}

// Peek returns up to limit events from the head without removing them.
func (q *OfflineQueue) Peek(limit int) []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit > len(q.events) {
		limit = len(q.events)
	}
	if limit == 0 {
		return nil
	}
	batch := make([]models.Event, limit)
	copy(batch, q.events[:limit])
	return batch
}

// Drop removes the first n events, called after a successful delivery.
func (q *OfflineQueue) Drop(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.events) {
		n = len(q.events)
	}
	if n == 0 {
		return
	}
	q.events = q.events[n:]
	q.persistLocked()
}

// Len returns the number of queued events.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *OfflineQueue) persistLocked() {
	if q.store == nil || q.degraded {
		return
	}

	payload, err := json.Marshal(q.events)
	if err != nil {
		q.logger.Error("Failed to serialize offline queue", zap.Error(err))
		return
	}
	if err := q.store.Save(payload); err != nil {
		// Logged once; the queue keeps working in memory.
		q.degraded = true
		q.logger.Error("Offline queue persistence failed, continuing memory-only", zap.Error(err))
	}
}
