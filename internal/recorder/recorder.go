// Package recorder archives unsolicited channel frames to PostgreSQL.
//
// Frames are buffered and written in batches, either when the batch fills
// or on a fixed interval. Inserts use ON CONFLICT DO NOTHING so frames the
// peer delivers more than once are stored once.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/frame"
	"github.com/rickgao/livewire/internal/metrics"
)

const insertFrame = `
	INSERT INTO frames (channel_id, frame_id, frame_type, payload, ts, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (channel_id, frame_id, frame_type, ts) DO NOTHING
`

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds recorder settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// Stats counts recorder activity.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
	Buffered  int
}

type frameRow struct {
	FrameID    string
	Type       string
	Payload    json.RawMessage
	Timestamp  int64
	ReceivedAt time.Time
}

// Recorder batches frames for one channel.
type Recorder struct {
	cfg       Config
	channelID uuid.UUID
	db        BatchSender
	logger    *slog.Logger
	metrics   *metrics.Recorder

	// Batching
	batch   []frameRow
	batchMu sync.Mutex
	stats   Stats
	kick    chan struct{}

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Recorder for the channel with the given id.
func New(cfg Config, channelID uuid.UUID, db BatchSender, m *metrics.Recorder, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Recorder{
		cfg:       cfg,
		channelID: channelID,
		db:        db,
		logger:    logger.With("component", "recorder"),
		metrics:   m,
		batch:     make([]frameRow, 0, cfg.BatchSize),
		kick:      make(chan struct{}, 1),
	}
}

// Attach subscribes the recorder to a manager's unsolicited frames.
func Attach(m *connection.Manager, r *Recorder) connection.Unsubscribe {
	return m.OnMessage(r.Record)
}

// ChannelID parses a manager id into the recorder's channel id.
func ChannelID(m *connection.Manager) (uuid.UUID, error) {
	id, err := uuid.Parse(m.ID())
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse channel id: %w", err)
	}
	return id, nil
}

// Start begins the flush loop. It returns immediately.
func (r *Recorder) Start(ctx context.Context) error {
	if r.cancel != nil {
		return errors.New("recorder already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.flushLoop(ctx)

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop ends the flush loop and writes whatever is still buffered using ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	if err := r.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	r.logger.Info("recorder stopped")
	return nil
}

// Record buffers one frame. It never blocks on the database.
func (r *Recorder) Record(f frame.Frame) {
	row := frameRow{
		FrameID:    f.ID,
		Type:       f.Type,
		Payload:    f.Payload,
		Timestamp:  f.Timestamp,
		ReceivedAt: time.Now(),
	}

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	full := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	s := r.stats
	s.Buffered = len(r.batch)
	return s
}

// flushLoop flushes on the interval or when a batch fills.
func (r *Recorder) flushLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		if err := r.flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("batch insert failed", "error", err)
		}
	}
}

// flush writes the current batch. A failed batch is dropped.
func (r *Recorder) flush(ctx context.Context) error {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	rows := r.batch
	r.batch = make([]frameRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(ctx, rows)
	if err != nil {
		r.batchMu.Lock()
		r.stats.Errors++
		r.batchMu.Unlock()
		r.metrics.Failed()
		return fmt.Errorf("insert %d frames: %w", len(rows), err)
	}

	inserted := len(rows) - conflicts
	r.batchMu.Lock()
	r.stats.Inserts += int64(inserted)
	r.stats.Conflicts += int64(conflicts)
	r.stats.Flushes++
	r.batchMu.Unlock()
	r.metrics.Flushed(inserted, conflicts)

	r.logger.Debug("flushed frames",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert queues one insert per row and counts rows skipped as
// duplicates.
func (r *Recorder) batchInsert(ctx context.Context, rows []frameRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		var payload any
		if len(row.Payload) > 0 {
			payload = []byte(row.Payload)
		}
		batch.Queue(insertFrame,
			r.channelID, row.FrameID, row.Type, payload, row.Timestamp, row.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
