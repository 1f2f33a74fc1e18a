package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestDefaults_MatchDocumentedValues(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Rooms.MaxConnectionsPerRoom != 20 {
		t.Errorf("expected max_connections_per_room default 20, got %d", cfg.Rooms.MaxConnectionsPerRoom)
	}
	if cfg.Queue.DrainInterval != 100*time.Millisecond {
		t.Errorf("expected drain_interval default 100ms, got %v", cfg.Queue.DrainInterval)
	}
	if cfg.Queue.BatchSize != 10 {
		t.Errorf("expected batch_size default 10, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Connections.StaleAfter != 30*time.Second {
		t.Errorf("expected stale_after default 30s, got %v", cfg.Connections.StaleAfter)
	}
	if cfg.Connections.MaxReconnectAttempts != 3 {
		t.Errorf("expected max_reconnect_attempts default 3, got %d", cfg.Connections.MaxReconnectAttempts)
	}
	if cfg.Rooms.StatsMonitorInterval != 30*time.Second {
		t.Errorf("expected stats_monitor_interval default 30s, got %v", cfg.Rooms.StatsMonitorInterval)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "empty server address",
			mutate: func(c *Config) { c.Server.Address = "" },
		},
		{
			name:   "zero signal port",
			mutate: func(c *Config) { c.Signal.Port = 0 },
		},
		{
			name:   "empty signal path",
			mutate: func(c *Config) { c.Signal.Path = "" },
		},
		{
			name:   "zero max connections per room",
			mutate: func(c *Config) { c.Rooms.MaxConnectionsPerRoom = 0 },
		},
		{
			name:   "zero drain interval",
			mutate: func(c *Config) { c.Queue.DrainInterval = 0 },
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Queue.BatchSize = 0 },
		},
		{
			name:   "negative reconnect attempts",
			mutate: func(c *Config) { c.Connections.MaxReconnectAttempts = -1 },
		},
		{
			name:   "redis enabled without address",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
		},
		{
			name:   "rate limiting enabled with zero rps",
			mutate: func(c *Config) { c.RateLimiting.Enabled = true; c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "tracing enabled without endpoint",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerEndpoint = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected defaults for missing file, got error: %v", err)
	}
	if cfg.Signal.Port != 8081 {
		t.Errorf("expected default signal port, got %d", cfg.Signal.Port)
	}
}

func TestLoad_YamlOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("signal:\n  port: 9000\nrooms:\n  max_connections_per_room: 8\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Signal.Port != 9000 {
		t.Errorf("expected signal port 9000, got %d", cfg.Signal.Port)
	}
	if cfg.Rooms.MaxConnectionsPerRoom != 8 {
		t.Errorf("expected max connections 8, got %d", cfg.Rooms.MaxConnectionsPerRoom)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WS_PORT", "7777")
	t.Setenv("WS_PATH", "/signal")
	t.Setenv("MAX_CONNECTIONS_PER_ROOM", "12")
	t.Setenv("MESSAGE_QUEUE_DRAIN_MS", "250")
	t.Setenv("STALE_CONNECTION_MS", "45000")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Signal.Port != 7777 {
		t.Errorf("expected WS_PORT override, got %d", cfg.Signal.Port)
	}
	if cfg.Signal.Path != "/signal" {
		t.Errorf("expected WS_PATH override, got %s", cfg.Signal.Path)
	}
	if cfg.Rooms.MaxConnectionsPerRoom != 12 {
		t.Errorf("expected MAX_CONNECTIONS_PER_ROOM override, got %d", cfg.Rooms.MaxConnectionsPerRoom)
	}
	if cfg.Queue.DrainInterval != 250*time.Millisecond {
		t.Errorf("expected MESSAGE_QUEUE_DRAIN_MS override, got %v", cfg.Queue.DrainInterval)
	}
	if cfg.Connections.StaleAfter != 45*time.Second {
		t.Errorf("expected STALE_CONNECTION_MS override, got %v", cfg.Connections.StaleAfter)
	}
}
