package heartbeat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/livewire/internal/frame"
)

func TestConfig_StaleAfter(t *testing.T) {
	cfg := Config{Interval: time.Second, StaleFactor: 2.5}
	if got := cfg.StaleAfter(); got != 2500*time.Millisecond {
		t.Errorf("StaleAfter() = %v, want 2.5s", got)
	}
}

func TestMonitor_SendsPings(t *testing.T) {
	var mu sync.Mutex
	var pings []frame.Frame

	m := New(Config{Interval: 20 * time.Millisecond, StaleFactor: 100}, func(f frame.Frame) {
		mu.Lock()
		pings = append(pings, f)
		mu.Unlock()
	}, nil, nil)

	m.Start()
	time.Sleep(110 * time.Millisecond)
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(pings) < 3 {
		t.Fatalf("pings = %d, want at least 3", len(pings))
	}
	for _, p := range pings {
		if p.Type != frame.TypeHeartbeat {
			t.Errorf("ping type = %q, want %q", p.Type, frame.TypeHeartbeat)
		}
	}
}

func TestMonitor_DetectsStale(t *testing.T) {
	var staleCount atomic.Int32
	done := make(chan struct{})

	m := New(Config{Interval: 20 * time.Millisecond, StaleFactor: 2}, nil, func(time.Time) {
		if staleCount.Add(1) == 1 {
			close(done)
		}
	}, nil)

	m.Start()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stale connection not detected")
	}

	// Give any stray tick a chance to double-report.
	time.Sleep(80 * time.Millisecond)

	if got := staleCount.Load(); got != 1 {
		t.Errorf("onStale called %d times, want 1", got)
	}
	if m.Running() {
		t.Error("monitor still running after reporting stale")
	}
}

func TestMonitor_TouchKeepsAlive(t *testing.T) {
	var staleCount atomic.Int32

	m := New(Config{Interval: 20 * time.Millisecond, StaleFactor: 2}, nil, func(time.Time) {
		staleCount.Add(1)
	}, nil)

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Touch()
		time.Sleep(5 * time.Millisecond)
	}

	if got := staleCount.Load(); got != 0 {
		t.Errorf("onStale called %d times while traffic was flowing", got)
	}
}

func TestMonitor_StopIdempotent(t *testing.T) {
	m := New(Config{Interval: 10 * time.Millisecond, StaleFactor: 2}, nil, nil, nil)

	m.Stop()
	m.Start()
	m.Stop()
	m.Stop()

	if m.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestMonitor_StopPreventsStale(t *testing.T) {
	var staleCount atomic.Int32

	m := New(Config{Interval: 10 * time.Millisecond, StaleFactor: 1}, nil, func(time.Time) {
		staleCount.Add(1)
	}, nil)

	m.Start()
	m.Stop()
	time.Sleep(60 * time.Millisecond)

	if got := staleCount.Load(); got != 0 {
		t.Errorf("onStale called %d times after Stop", got)
	}
}

func TestMonitor_RestartResetsClock(t *testing.T) {
	var staleCount atomic.Int32

	m := New(Config{Interval: 20 * time.Millisecond, StaleFactor: 3}, nil, func(time.Time) {
		staleCount.Add(1)
	}, nil)

	m.Start()
	time.Sleep(40 * time.Millisecond)
	m.Start()
	before := m.LastReceived()
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	if staleCount.Load() != 0 {
		t.Errorf("onStale called after restart within threshold")
	}
	if time.Since(before) > time.Second {
		t.Errorf("LastReceived() = %v not reset on Start", before)
	}
}

func TestMonitor_ZeroIntervalDisabled(t *testing.T) {
	m := New(Config{}, nil, func(time.Time) {
		t.Error("onStale called on a disabled monitor")
	}, nil)

	m.Start()
	if m.Running() {
		t.Error("Running() = true with zero interval")
	}
	m.Stop()
}
