package batcher

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports whether the collector is reachable.
type HealthChecker interface {
	HealthCheck() error
}

// Monitor polls the collector's health endpoint and flips the batcher's
// connectivity state accordingly. The offline-to-online edge triggers the
// batcher's offline queue drain.
type Monitor struct {
	batcher  *Batcher
	checker  HealthChecker
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(b *Batcher, checker HealthChecker, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		batcher:  b,
		checker:  checker,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins polling. The first check happens after one interval; the
// batcher starts out assumed online.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()

	m.logger.Info("Connectivity monitor started", zap.Duration("interval", m.interval))
}

// Stop halts polling. Idempotent.
func (m *Monitor) Stop() {
	select {
	case <-m.stopChan:
		return
	default:
		close(m.stopChan)
	}
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ticker.C:
			err := m.checker.HealthCheck()
			now := err == nil
			if now != online {
				if now {
					m.logger.Info("Collector reachable again")
				} else {
					m.logger.Warn("Collector unreachable", zap.Error(err))
				}
				online = now
			}
			m.batcher.SetOnline(now)
		case <-m.stopChan:
			return
		}
	}
}
