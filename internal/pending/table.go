// Package pending tracks in-flight request/response pairs keyed by
// correlation id.
//
// Every registered callback fires exactly once: on a matching response, on
// its own timeout, or on a forced teardown, whichever comes first. The id
// index is an xsync.MapOf; LoadAndDelete picks the single winner among
// racing outcomes without a table-wide lock.
package pending

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rickgao/livewire/internal/frame"
)

// Errors
var (
	ErrDuplicateID    = errors.New("correlation id already registered")
	ErrRequestTimeout = errors.New("request timeout")
	ErrChannelClosed  = errors.New("channel closed")
)

// Result is delivered to a callback exactly once.
type Result struct {
	Frame  frame.Frame // Response frame (zero on failure)
	Err    error       // nil on success
	SentAt time.Time   // When the request was registered
}

// Callback receives the outcome of a request.
type Callback func(Result)

// Entry is one request awaiting its response.
type Entry struct {
	ID     string
	Frame  frame.Frame
	SentAt time.Time

	seq      uint64
	callback Callback

	mu    sync.Mutex
	timer *time.Timer
}

// Table maps correlation ids to callbacks.
type Table struct {
	entries *xsync.MapOf[string, *Entry]
	seq     atomic.Uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries: xsync.NewMapOf[string, *Entry](),
	}
}

// Register stores a new entry and starts its timeout clock. A timeout <= 0
// disables the clock; the entry then ends only on Resolve or teardown.
func (t *Table) Register(id string, f frame.Frame, cb Callback, timeout time.Duration) error {
	if id == "" {
		return errors.New("empty correlation id")
	}
	if cb == nil {
		return errors.New("nil callback")
	}

	e := &Entry{
		ID:       id,
		Frame:    f,
		SentAt:   time.Now(),
		seq:      t.seq.Add(1),
		callback: cb,
	}

	// Hold the entry lock until the timer is attached so a racing Resolve
	// cannot miss it.
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, loaded := t.entries.LoadOrStore(id, e); loaded {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			t.TimeoutOne(id, ErrRequestTimeout)
		})
	}
	return nil
}

// Resolve completes the entry for id with a response. It returns false when
// the id is unknown, which is normal for late or duplicate responses.
func (t *Table) Resolve(id string, resp frame.Frame) bool {
	e, ok := t.entries.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.fire(Result{Frame: resp})
	return true
}

// TimeoutOne fails the entry for id with reason. It returns false if the
// entry already completed.
func (t *Table) TimeoutOne(id string, reason error) bool {
	e, ok := t.entries.LoadAndDelete(id)
	if !ok {
		return false
	}
	e.fire(Result{Err: reason})
	return true
}

// TimeoutAll fails every entry with reason, in registration order, and
// returns how many it failed. Entries registered while it runs are left
// alone.
func (t *Table) TimeoutAll(reason error) int {
	n := 0
	for _, e := range t.snapshot() {
		if t.TimeoutOne(e.ID, reason) {
			n++
		}
	}
	return n
}

// PendingFrames returns every unresolved frame in registration order.
func (t *Table) PendingFrames() []frame.Frame {
	entries := t.snapshot()
	frames := make([]frame.Frame, 0, len(entries))
	for _, e := range entries {
		frames = append(frames, e.Frame)
	}
	return frames
}

// Has reports whether id is still pending.
func (t *Table) Has(id string) bool {
	_, ok := t.entries.Load(id)
	return ok
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	return t.entries.Size()
}

// snapshot copies the current entries sorted by registration order so bulk
// operations never iterate the live map while callbacks mutate it.
func (t *Table) snapshot() []*Entry {
	entries := make([]*Entry, 0, t.entries.Size())
	t.entries.Range(func(_ string, e *Entry) bool {
		entries = append(entries, e)
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// fire stops the timer and invokes the callback. Callers must have removed
// the entry from the map first.
func (e *Entry) fire(r Result) {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()

	r.SentAt = e.SentAt
	e.callback(r)
}
