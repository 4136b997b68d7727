package batcher

import (
	"sync"
	"time"

	"pajamaparty/telemetry/internal/models"
	"pajamaparty/telemetry/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deadline for the single delivery attempt made by immediate flushes,
// the shutdown analog of a page-unload beacon.
const immediateDeadline = 2 * time.Second

// Sender delivers event batches to the collector. SendBatch retries
// internally; SendBatchOnce makes one bounded attempt.
type Sender interface {
	SendBatch(events []models.Event) error
	SendBatchOnce(deadline time.Duration, events []models.Event) error
}

// Context holds the capture-time fields stamped onto every event.
type Context struct {
	Page       string
	Referrer   string
	UserAgent  string
	Connection string
	ViewportW  int
	ViewportH  int
}

// Options configures a Batcher.
type Options struct {
	MaxBatchSize  int           // queue length that triggers an immediate flush
	FlushInterval time.Duration // periodic flush timer
	Context       Context
}

func (o *Options) withDefaults() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 25
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 4 * time.Second
	}
}

// Metrics is a read-only snapshot of the batcher's counters.
type Metrics struct {
	EventsTracked    int64
	BatchesSent      int64
	BatchesFailed    int64
	AvgBatchSize     float64
	AvgFlushDuration time.Duration
	OfflineQueueSize int
	LastFlush        time.Time
}

// QueueStatus reports pending event counts for diagnostics.
type QueueStatus struct {
	Online  int // in-memory queue, awaiting the next flush
	Offline int // offline queue, awaiting connectivity
	Total   int
}

// Batcher collects fire-and-forget telemetry events and delivers them to
// the collector in batches. Track never blocks on network I/O: events
// accumulate in memory and a periodic timer or the batch-size threshold
// triggers delivery. Failed batches spill to the offline queue, drained
// when connectivity returns. Delivery is at-least-once; events carry IDs
// so the collector deduplicates replays.
type Batcher struct {
	mu        sync.Mutex
	events    []models.Event
	online    bool
	destroyed bool

	// counters, guarded by mu
	eventsTracked int64
	batchesSent   int64
	batchesFailed int64
	deliveries    int64
	deliveredEvts int64
	deliveryDur   time.Duration
	lastFlush     time.Time

	opts      Options
	sender    Sender
	offline   *queue.OfflineQueue
	sessionID string
	logger    *zap.Logger

	// serializes offline queue drains so a batch is never delivered twice
	drainMu sync.Mutex

	flushTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// New creates a batcher and starts its auto-flush loop. The session ID is
// generated once per batcher and stamped onto every event it tracks.
func New(sender Sender, offline *queue.OfflineQueue, opts Options, logger *zap.Logger) *Batcher {
	opts.withDefaults()

	b := &Batcher{
		opts:        opts,
		sender:      sender,
		offline:     offline,
		online:      true,
		sessionID:   uuid.NewString(),
		logger:      logger,
		flushTicker: time.NewTicker(opts.FlushInterval),
		stopChan:    make(chan struct{}),
	}

	b.wg.Add(1)
	go b.autoFlushLoop()

	logger.Info("Event batcher started",
		zap.Int("batch_size", opts.MaxBatchSize),
		zap.Duration("flush_interval", opts.FlushInterval),
		zap.String("session_id", b.sessionID),
	)

	return b
}

// Track records an event. It never blocks and never fails: events that
// violate the capture bounds are dropped silently, everything else is
// enriched with the capture context exactly once and queued. Reaching
// MaxBatchSize snapshots the queue and delivers it asynchronously.
func (b *Batcher) Track(name string, data map[string]any, userID string) {
	if name == "" || len(name) > models.MaxNameLen {
		b.logger.Debug("Dropping event with invalid name", zap.Int("name_len", len(name)))
		return
	}

	event := models.Event{
		ID:         uuid.NewString(),
		Name:       name,
		Data:       models.SanitizeData(data),
		Timestamp:  time.Now().UnixMilli(),
		Path:       b.opts.Context.Page,
		UserID:     userID,
		SessionID:  b.sessionID,
		Referrer:   b.opts.Context.Referrer,
		UserAgent:  b.opts.Context.UserAgent,
		ViewportW:  b.opts.Context.ViewportW,
		ViewportH:  b.opts.Context.ViewportH,
		Connection: b.opts.Context.Connection,
	}

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.events = append(b.events, event)
	b.eventsTracked++
	var batch []models.Event
	if len(b.events) >= b.opts.MaxBatchSize {
		batch = b.events
		b.events = nil
	}
	b.mu.Unlock()

	if batch != nil {
		b.logger.Debug("Batch size reached, flushing events", zap.Int("count", len(batch)))
		go b.deliver(batch, false)
	}
}

// Flush snapshots and clears the in-memory queue, then delivers the
// snapshot. Events tracked after the snapshot go into a fresh queue and
// wait for the next cycle. When immediate is true a single bounded
// delivery attempt is made instead of the retry loop.
//
// Delivery failures are absorbed: the snapshot moves to the offline queue
// and the error is returned for observability only.
func (b *Batcher) Flush(immediate bool) error {
	b.mu.Lock()
	batch := b.events
	b.events = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.deliver(batch, immediate)
}

// ForceFlush drains the in-memory queue and then the offline queue,
// returning once both have been attempted. Used by callers that need a
// delivery guarantee before proceeding.
func (b *Batcher) ForceFlush() error {
	if err := b.Flush(false); err != nil {
		return err
	}
	return b.drainOffline()
}

// SetOnline updates the connectivity state. The offline-to-online
// transition kicks off an asynchronous drain of the offline queue; going
// offline just stops network attempts while events keep accumulating.
func (b *Batcher) SetOnline(online bool) {
	b.mu.Lock()
	was := b.online
	b.online = online
	b.mu.Unlock()

	if online && !was {
		b.logger.Info("Connectivity restored, draining offline queue",
			zap.Int("pending", b.offline.Len()),
		)
		go b.drainOffline()
	} else if !online && was {
		b.logger.Info("Connectivity lost, queueing events offline")
	}
}

// Metrics returns a snapshot of the batcher's counters.
func (b *Batcher) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := Metrics{
		EventsTracked:    b.eventsTracked,
		BatchesSent:      b.batchesSent,
		BatchesFailed:    b.batchesFailed,
		OfflineQueueSize: b.offline.Len(),
		LastFlush:        b.lastFlush,
	}
	if b.deliveries > 0 {
		m.AvgBatchSize = float64(b.deliveredEvts) / float64(b.deliveries)
		m.AvgFlushDuration = b.deliveryDur / time.Duration(b.deliveries)
	}
	return m
}

// QueueStatus returns pending counts for diagnostics.
func (b *Batcher) QueueStatus() QueueStatus {
	b.mu.Lock()
	online := len(b.events)
	b.mu.Unlock()

	offline := b.offline.Len()
	return QueueStatus{
		Online:  online,
		Offline: offline,
		Total:   online + offline,
	}
}

// Destroy stops the flush timer and makes one best-effort final flush.
// Idempotent. In-flight deliveries are left to resolve on their own.
func (b *Batcher) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	close(b.stopChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.flushTicker.Stop()

	if err := b.Flush(true); err != nil {
		b.logger.Warn("Final flush failed", zap.Error(err))
	}

	b.logger.Info("Event batcher stopped")
}

func (b *Batcher) autoFlushLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.flushTicker.C:
			if err := b.Flush(false); err != nil {
				b.logger.Debug("Periodic flush failed", zap.Error(err))
			}
			if b.isOnline() && b.offline.Len() > 0 {
				if err := b.drainOffline(); err != nil {
					b.logger.Debug("Offline queue drain failed", zap.Error(err))
				}
			}
		case <-b.stopChan:
			return
		}
	}
}

// deliver sends one batch, spilling it to the offline queue when the
// batcher is offline or delivery fails.
func (b *Batcher) deliver(batch []models.Event, immediate bool) error {
	if !b.isOnline() {
		b.offline.Append(batch)
		return nil
	}

	start := time.Now()
	var err error
	if immediate {
		err = b.sender.SendBatchOnce(immediateDeadline, batch)
	} else {
		err = b.sender.SendBatch(batch)
	}
	b.recordDelivery(len(batch), time.Since(start), err == nil)

	if err != nil {
		b.logger.Warn("Batch delivery failed, spilling to offline queue",
			zap.Error(err),
			zap.Int("event_count", len(batch)),
		)
		b.offline.Append(batch)
		return err
	}
	return nil
}

// drainOffline sends the offline queue in batch-size chunks, removing
// each chunk only after a successful delivery. Drains are serialized;
// a failed chunk stays queued for the next attempt.
func (b *Batcher) drainOffline() error {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	for {
		if !b.isOnline() {
			return nil
		}
		batch := b.offline.Peek(b.opts.MaxBatchSize)
		if len(batch) == 0 {
			return nil
		}

		start := time.Now()
		err := b.sender.SendBatch(batch)
		b.recordDelivery(len(batch), time.Since(start), err == nil)
		if err != nil {
			return err
		}
		b.offline.Drop(len(batch))

		b.logger.Debug("Drained offline batch",
			zap.Int("event_count", len(batch)),
			zap.Int("remaining", b.offline.Len()),
		)
	}
}

func (b *Batcher) isOnline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *Batcher) recordDelivery(count int, dur time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deliveries++
	b.deliveredEvts += int64(count)
	b.deliveryDur += dur
	b.lastFlush = time.Now()
	if ok {
		b.batchesSent++
	} else {
		b.batchesFailed++
	}
}
