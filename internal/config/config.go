// Package config loads livewire configuration from YAML with ${VAR}
// expansion, applies defaults and validates required fields.
package config

import (
	"time"

	"github.com/rickgao/livewire/internal/auth"
	"github.com/rickgao/livewire/internal/connection"
)

// Config is the root configuration for a livewire process.
type Config struct {
	Channel  ChannelConfig  `yaml:"channel"`
	Auth     AuthConfig     `yaml:"auth"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DBConfig       `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ChannelConfig holds the message channel settings.
type ChannelConfig struct {
	Name                 string        `yaml:"name"` // Metrics label
	URL                  string        `yaml:"url"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatStaleFactor float64       `yaml:"heartbeat_stale_factor"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReadLimit            int64         `yaml:"read_limit"` // Max inbound message bytes
}

// Connection converts the settings to a connection.ChannelConfig.
func (c ChannelConfig) Connection() connection.ChannelConfig {
	return connection.ChannelConfig{
		URL:                  c.URL,
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HeartbeatInterval:    c.HeartbeatInterval,
		HeartbeatStaleFactor: c.HeartbeatStaleFactor,
		RequestTimeout:       c.RequestTimeout,
		WriteTimeout:         c.WriteTimeout,
		HandshakeTimeout:     c.HandshakeTimeout,
		ReadLimit:            c.ReadLimit,
	}
}

// AuthConfig holds connect-time credentials. Token takes precedence over
// key signing; both empty means an anonymous handshake.
type AuthConfig struct {
	Token          string `yaml:"token"`
	KeyID          string `yaml:"key_id"`           // API key ID (X-Access-Key header)
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
}

// Enabled reports whether any credentials are configured.
func (a AuthConfig) Enabled() bool {
	return a.Token != "" || a.KeyID != ""
}

// Credentials builds the configured credentials, or nil when none are set.
func (a AuthConfig) Credentials() (*auth.Credentials, error) {
	switch {
	case a.Token != "":
		return auth.NewBearer(a.Token)
	case a.KeyID != "":
		return auth.LoadCredentials(a.KeyID, a.PrivateKeyPath)
	default:
		return nil, nil
	}
}

// RecorderConfig holds frame recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}
