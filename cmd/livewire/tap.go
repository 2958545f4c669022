package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livewire/internal/config"
	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/database"
	"github.com/rickgao/livewire/internal/frame"
	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/recorder"
)

const shutdownTimeout = 30 * time.Second

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Keep a channel open and log everything it delivers",
	Long: `Connect to the peer and log every lifecycle event and unsolicited frame
until interrupted. With recorder.enabled the frames are archived to
PostgreSQL; with metrics.enabled a Prometheus endpoint is served.`,
	RunE: runTap,
}

func runTap(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logStartup(logger, "tap", cfg)

	ctx, cancel := signalContext(logger)
	defer cancel()

	set := vm.NewSet()
	m, err := newManager(cfg, set, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	logEvents(m, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Recorder.Enabled {
		stop, err := startRecorder(gctx, cfg, m, set, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, set, logger)
		})
	}

	g.Go(func() error {
		m.Connect()
		<-gctx.Done()
		m.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := m.Stats()
	logger.Info("tap finished",
		"frames_sent", stats.FramesSent,
		"frames_received", stats.FramesReceived,
		"reconnects", stats.Reconnects,
	)
	return nil
}

// logEvents logs every channel event.
func logEvents(m *connection.Manager, logger *slog.Logger) {
	m.OnStatusChange(func(s connection.Status) {
		logger.Info("status", "status", s)
	})
	m.OnOpen(func() {
		logger.Info("channel open")
	})
	m.OnClose(func(info connection.CloseInfo) {
		logger.Info("channel closed", "code", info.Code, "reason", info.Reason, "clean", info.Clean)
	})
	m.OnError(func(e *connection.Error) {
		logger.Warn("channel error", "kind", e.Kind, "error", e.Err)
	})
	m.OnMessage(func(f frame.Frame) {
		logger.Info("frame",
			"type", f.Type,
			"timestamp", f.Time(),
			"payload", string(f.Payload),
		)
	})
}

// startRecorder connects to the database and attaches a recorder to m. The
// returned function flushes and releases everything.
func startRecorder(ctx context.Context, cfg *config.Config, m *connection.Manager, set *vm.Set, logger *slog.Logger) (func(), error) {
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	channelID, err := recorder.ChannelID(m)
	if err != nil {
		pool.Close()
		return nil, err
	}

	rec := recorder.New(
		recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		},
		channelID,
		pool,
		metrics.NewRecorder(set, cfg.Channel.Name),
		logger,
	)
	if err := rec.Start(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	unsub := recorder.Attach(m, rec)

	return func() {
		unsub()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := rec.Stop(shutdownCtx); err != nil {
			logger.Error("recorder stop failed", "error", err)
		}
		pool.Close()
	}, nil
}

// serveMetrics serves the Prometheus endpoint until ctx ends.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, set *vm.Set, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(set))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", "port", cfg.Port, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
