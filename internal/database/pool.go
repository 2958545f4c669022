package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/livewire/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// FramesSchema creates the table the recorder writes into. Frames are
// unique per channel by id, type and timestamp so resent duplicates
// collapse on insert.
const FramesSchema = `
CREATE TABLE IF NOT EXISTS frames (
	channel_id  UUID        NOT NULL,
	frame_id    TEXT        NOT NULL DEFAULT '',
	frame_type  TEXT        NOT NULL,
	payload     JSONB,
	ts          BIGINT      NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (channel_id, frame_id, frame_type, ts)
)`

// EnsureSchema creates the frames table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, FramesSchema); err != nil {
		return fmt.Errorf("create frames table: %w", err)
	}
	return nil
}
