package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/livewire/internal/frame"
)

// fakeDB records queued inserts and treats repeated keys as conflicts.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[string]bool
	queries []*pgx.QueuedQuery
	batches int
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[string]bool)}
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches++
	res := &fakeResults{err: d.err}
	for _, q := range b.QueuedQueries {
		d.queries = append(d.queries, q)
		key := q.Arguments[1].(string) + "|" + q.Arguments[2].(string) + "|" +
			time.UnixMilli(q.Arguments[4].(int64)).String()
		if d.seen[key] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		d.seen[key] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (d *fakeDB) Batches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batches
}

type fakeResults struct {
	tags []pgconn.CommandTag
	next int
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.next]
	r.next++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFrame(typ string, ts int64) frame.Frame {
	return frame.Frame{Type: typ, Payload: json.RawMessage(`{"v":1}`), Timestamp: ts}
}

func TestRecorder_FlushOnStop(t *testing.T) {
	db := newFakeDB()
	channelID := uuid.New()
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, channelID, db, nil, testLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	r.Record(testFrame("ticker", 1))
	r.Record(testFrame("ticker", 2))

	if got := r.Stats().Buffered; got != 2 {
		t.Errorf("Buffered = %d, want 2", got)
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := r.Stats()
	if stats.Inserts != 2 || stats.Flushes != 1 || stats.Buffered != 0 {
		t.Errorf("stats = %+v", stats)
	}

	q := db.queries[0]
	if q.Arguments[0] != channelID {
		t.Errorf("channel_id = %v, want %v", q.Arguments[0], channelID)
	}
	if string(q.Arguments[3].([]byte)) != `{"v":1}` {
		t.Errorf("payload = %s", q.Arguments[3])
	}
}

func TestRecorder_FlushOnBatchSize(t *testing.T) {
	db := newFakeDB()
	r := New(Config{BatchSize: 3, FlushInterval: time.Hour}, uuid.New(), db, nil, testLogger())
	r.Start(context.Background())
	defer r.Stop(context.Background())

	for i := int64(1); i <= 3; i++ {
		r.Record(testFrame("ticker", i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for db.Batches() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("batch not flushed after reaching batch size")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRecorder_FlushOnInterval(t *testing.T) {
	db := newFakeDB()
	r := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, uuid.New(), db, nil, testLogger())
	r.Start(context.Background())
	defer r.Stop(context.Background())

	r.Record(testFrame("ticker", 1))

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Inserts != 1 {
		if time.Now().After(deadline) {
			t.Fatal("batch not flushed on interval")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRecorder_DuplicatesCollapse(t *testing.T) {
	db := newFakeDB()
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, uuid.New(), db, nil, testLogger())

	r.Record(testFrame("ticker", 5))
	r.Record(testFrame("ticker", 5))
	r.Record(testFrame("trade", 5))

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := r.Stats()
	if stats.Inserts != 2 || stats.Conflicts != 1 {
		t.Errorf("Inserts = %d, Conflicts = %d; want 2, 1", stats.Inserts, stats.Conflicts)
	}
}

func TestRecorder_InsertError(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection refused")
	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, uuid.New(), db, nil, testLogger())

	r.Record(testFrame("ticker", 1))

	if err := r.Stop(context.Background()); err == nil {
		t.Fatal("expected error from final flush")
	}
	stats := r.Stats()
	if stats.Errors != 1 || stats.Buffered != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRecorder_NilPayload(t *testing.T) {
	db := newFakeDB()
	r := New(DefaultConfig(), uuid.New(), db, nil, testLogger())

	r.Record(frame.Frame{Type: "empty", Timestamp: 1})
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if db.queries[0].Arguments[3] != nil {
		t.Errorf("payload = %v, want nil", db.queries[0].Arguments[3])
	}
}

func TestRecorder_StartTwice(t *testing.T) {
	r := New(DefaultConfig(), uuid.New(), newFakeDB(), nil, testLogger())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}
}
