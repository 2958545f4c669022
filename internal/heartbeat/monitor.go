// Package heartbeat detects silent connection death: a socket that reports
// no error but has stopped delivering frames.
//
// A Monitor pings on every interval and checks how long ago any inbound
// traffic was seen. Liveness is inferred from all traffic, not only from
// heartbeat replies.
package heartbeat

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livewire/internal/frame"
)

// Config configures a Monitor.
type Config struct {
	Interval    time.Duration // Ping and check period
	StaleFactor float64       // Stale after Interval * StaleFactor without traffic
}

// StaleAfter returns the staleness threshold.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(float64(c.Interval) * c.StaleFactor)
}

// Monitor tracks liveness for one connection. Create a fresh Monitor, or
// call Start again, for every new session.
type Monitor struct {
	cfg     Config
	ping    func(frame.Frame)
	onStale func(lastReceived time.Time)
	logger  *slog.Logger

	lastReceived atomic.Int64 // Unix nanoseconds

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// New creates a stopped Monitor. ping transmits a heartbeat frame; onStale
// is called at most once per Start when the threshold is crossed, after the
// monitor has already stopped itself.
func New(cfg Config, ping func(frame.Frame), onStale func(time.Time), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		ping:    ping,
		onStale: onStale,
		logger:  logger,
	}
}

// Start resets the liveness clock and begins ticking. Starting a running
// monitor restarts it.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		close(m.stopCh)
	}
	if m.cfg.Interval <= 0 {
		m.running = false
		return
	}

	m.lastReceived.Store(time.Now().UnixNano())
	m.stopCh = make(chan struct{})
	m.running = true

	go m.loop(m.stopCh)
}

// Stop cancels the interval. It is safe to call repeatedly and from within
// the onStale callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// Running reports whether the monitor is ticking.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Touch records inbound traffic.
func (m *Monitor) Touch() {
	m.lastReceived.Store(time.Now().UnixNano())
}

// LastReceived returns when traffic was last seen.
func (m *Monitor) LastReceived() time.Time {
	return time.Unix(0, m.lastReceived.Load())
}

// loop runs until stopCh closes or the connection goes stale.
func (m *Monitor) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	staleAfter := m.cfg.StaleAfter()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if m.ping != nil {
				m.ping(frame.NewHeartbeat(now))
			}

			last := m.LastReceived()
			if now.Sub(last) <= staleAfter {
				continue
			}

			m.logger.Warn("no inbound traffic, connection stale",
				"last_received", last,
				"threshold", staleAfter,
			)

			// Only the loop that still owns stopCh may report.
			m.mu.Lock()
			owned := m.running && m.stopCh == stopCh
			if owned {
				m.running = false
				close(m.stopCh)
			}
			m.mu.Unlock()

			if owned && m.onStale != nil {
				m.onStale(last)
			}
			return
		}
	}
}
