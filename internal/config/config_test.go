package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
channel:
  name: prices
  url: wss://peer.example.com/stream
  reconnect_base_delay: 250ms
  max_reconnect_attempts: 3
  heartbeat_interval: 15s
  heartbeat_stale_factor: 3
auth:
  token: abc
recorder:
  enabled: true
  batch_size: 100
database:
  host: localhost
  name: frames
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Channel.URL != "wss://peer.example.com/stream" {
		t.Errorf("Channel.URL = %q", cfg.Channel.URL)
	}
	if cfg.Channel.ReconnectBaseDelay != 250*time.Millisecond {
		t.Errorf("Channel.ReconnectBaseDelay = %v, want 250ms", cfg.Channel.ReconnectBaseDelay)
	}
	if cfg.Channel.MaxReconnectAttempts != 3 {
		t.Errorf("Channel.MaxReconnectAttempts = %d, want 3", cfg.Channel.MaxReconnectAttempts)
	}
	if cfg.Channel.HeartbeatStaleFactor != 3 {
		t.Errorf("Channel.HeartbeatStaleFactor = %v, want 3", cfg.Channel.HeartbeatStaleFactor)
	}
	if !cfg.Recorder.Enabled || cfg.Recorder.BatchSize != 100 {
		t.Errorf("Recorder = %+v", cfg.Recorder)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CHANNEL_TOKEN", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbpass")

	yaml := `
channel:
  url: ws://localhost:8080/ws
auth:
  token: ${TEST_CHANNEL_TOKEN}
database:
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Token != "secret123" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "secret123")
	}
	if cfg.Database.Password != "dbpass" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "dbpass")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	shared := filepath.Join(dir, ".env")
	if err := os.WriteFile(local, []byte("LIVEWIRE_TEST_A=local\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(shared, []byte("LIVEWIRE_TEST_A=shared\nLIVEWIRE_TEST_B=shared\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Registers cleanup for variables the loader sets.
	t.Setenv("LIVEWIRE_TEST_A", "")
	t.Setenv("LIVEWIRE_TEST_B", "")
	os.Unsetenv("LIVEWIRE_TEST_A")
	os.Unsetenv("LIVEWIRE_TEST_B")

	err := LoadDotEnv(local, shared, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	if got := os.Getenv("LIVEWIRE_TEST_A"); got != "local" {
		t.Errorf("LIVEWIRE_TEST_A = %q, want local", got)
	}
	if got := os.Getenv("LIVEWIRE_TEST_B"); got != "shared" {
		t.Errorf("LIVEWIRE_TEST_B = %q, want shared", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "channel: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
channel:
  url: ws://localhost:8080/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Channel.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Channel.ReconnectBaseDelay = %v, want default %v", cfg.Channel.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Channel.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Channel.MaxReconnectAttempts = %d, want default %d", cfg.Channel.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Channel.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Channel.HeartbeatInterval = %v, want default %v", cfg.Channel.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Channel.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Channel.RequestTimeout = %v, want default %v", cfg.Channel.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestChannelConfig_Connection(t *testing.T) {
	cfg := Default()
	cfg.Channel.URL = "ws://localhost/ws"

	cc := cfg.Channel.Connection()
	if cc.URL != "ws://localhost/ws" {
		t.Errorf("URL = %q", cc.URL)
	}
	if cc.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("ReconnectMaxDelay = %v, want %v", cc.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cc.HeartbeatStaleFactor != DefaultHeartbeatStaleFactor {
		t.Errorf("HeartbeatStaleFactor = %v, want %v", cc.HeartbeatStaleFactor, DefaultHeartbeatStaleFactor)
	}
	if cc.ReadLimit != DefaultReadLimit {
		t.Errorf("ReadLimit = %d, want %d", cc.ReadLimit, DefaultReadLimit)
	}
}

func TestAuthConfig_Credentials(t *testing.T) {
	creds, err := AuthConfig{}.Credentials()
	if err != nil || creds != nil {
		t.Errorf("empty auth = %v, %v; want nil, nil", creds, err)
	}

	creds, err = AuthConfig{Token: "tok"}.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.Token != "tok" {
		t.Errorf("Token = %q", creds.Token)
	}

	if _, err := (AuthConfig{KeyID: "k", PrivateKeyPath: "/nonexistent.pem"}).Credentials(); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Channel.URL = "wss://peer.example.com/stream"
		return *cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Channel.URL = "" },
			wantErr: "channel.url is required",
		},
		{
			name:    "wrong scheme",
			mutate:  func(c *Config) { c.Channel.URL = "http://peer.example.com" },
			wantErr: `channel.url must use ws or wss, got "http"`,
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Channel.MaxReconnectAttempts = -1 },
			wantErr: "channel.max_reconnect_attempts must be >= 1",
		},
		{
			name:    "stale factor below one",
			mutate:  func(c *Config) { c.Channel.HeartbeatStaleFactor = 0.5 },
			wantErr: "channel.heartbeat_stale_factor must be >= 1",
		},
		{
			name:    "negative read limit",
			mutate:  func(c *Config) { c.Channel.ReadLimit = -1 },
			wantErr: "channel.read_limit must be >= 0",
		},
		{
			name:    "key without private key",
			mutate:  func(c *Config) { c.Auth.KeyID = "k" },
			wantErr: "auth.private_key_path is required with auth.key_id",
		},
		{
			name:    "recorder without database host",
			mutate:  func(c *Config) { c.Recorder.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
