package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"

	"github.com/rickgao/livewire/internal/config"
	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/version"
)

// flagString reads a string flag declared on cmd or any parent.
func flagString(cmd *cobra.Command, name string) string {
	f := cmd.Flag(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

// parseLogLevel maps a flag value to a slog level.
func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// setupLogger installs the default logger from the --log-level flag.
func setupLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := parseLogLevel(flagString(cmd, "log-level"))
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger, nil
}

// loadConfig reads --config (or defaults) and applies --url.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := flagString(cmd, "config")
	url := flagString(cmd, "url")

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadWithDefaults(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if err := config.LoadDotEnv(config.DotEnvFiles...); err != nil {
			return nil, err
		}
		cfg = config.Default()
		if url == "" {
			url = os.Getenv("LIVEWIRE_URL")
		}
	}
	if url != "" {
		cfg.Channel.URL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// newManager builds a channel from cfg. set may be nil.
func newManager(cfg *config.Config, set *vm.Set, logger *slog.Logger) (*connection.Manager, error) {
	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithMetrics(metrics.NewChannel(set, cfg.Channel.Name)),
	}

	creds, err := cfg.Auth.Credentials()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if creds != nil {
		opts = append(opts, connection.WithCredentials(creds))
	}

	return connection.NewManager(cfg.Channel.Connection(), opts...), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// waitConnected connects m and blocks until it is connected, gives up, or
// ctx ends.
func waitConnected(ctx context.Context, m *connection.Manager) error {
	statusCh := make(chan connection.Status, 16)
	unsub := m.OnStatusChange(func(s connection.Status) {
		select {
		case statusCh <- s:
		default:
		}
	})
	defer unsub()

	m.Connect()

	for {
		select {
		case s := <-statusCh:
			switch s {
			case connection.StatusConnected:
				return nil
			case connection.StatusDisconnected, connection.StatusClosed:
				return fmt.Errorf("could not connect: %w", connection.ErrNotConnected)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func logStartup(logger *slog.Logger, name string, cfg *config.Config) {
	logger.Info("starting "+name,
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Channel.URL,
		"channel", cfg.Channel.Name,
	)
}
