package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Port            int           `yaml:"port"`
		Path            string        `yaml:"path"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	Rooms struct {
		MaxConnectionsPerRoom int           `yaml:"max_connections_per_room"`
		StatsMonitorInterval  time.Duration `yaml:"stats_monitor_interval"`
		StatsIdleReap         time.Duration `yaml:"stats_idle_reap"`
	} `yaml:"rooms"`

	Queue struct {
		DrainInterval   time.Duration `yaml:"drain_interval"`
		BatchSize       int           `yaml:"batch_size"`
		MaxPending      int           `yaml:"max_pending"`
		CandidateMaxAge time.Duration `yaml:"candidate_max_age"`
	} `yaml:"queue"`

	Connections struct {
		StaleAfter           time.Duration `yaml:"stale_after"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		MonitorInterval      time.Duration `yaml:"monitor_interval"`
		ReapInterval         time.Duration `yaml:"reap_interval"`
		ReapAfter            time.Duration `yaml:"reap_after"`
	} `yaml:"connections"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		ServiceName    string  `yaml:"service_name"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		// PersistConnections also writes fast-churn pairwise connection
		// records to Redis instead of keeping them gateway-local.
		PersistConnections bool `yaml:"persist_connections"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Port <= 0 || c.Signal.Port > 65535 {
		return fmt.Errorf("signal.port must be a valid port")
	}
	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}

	// Rooms
	if c.Rooms.MaxConnectionsPerRoom <= 0 {
		return fmt.Errorf("rooms.max_connections_per_room must be > 0")
	}
	if c.Rooms.StatsMonitorInterval <= 0 {
		return fmt.Errorf("rooms.stats_monitor_interval must be > 0")
	}
	if c.Rooms.StatsIdleReap <= 0 {
		return fmt.Errorf("rooms.stats_idle_reap must be > 0")
	}

	// Queue
	if c.Queue.DrainInterval <= 0 {
		return fmt.Errorf("queue.drain_interval must be > 0")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Queue.MaxPending <= 0 {
		return fmt.Errorf("queue.max_pending must be > 0")
	}
	if c.Queue.CandidateMaxAge <= 0 {
		return fmt.Errorf("queue.candidate_max_age must be > 0")
	}

	// Connections
	if c.Connections.StaleAfter <= 0 {
		return fmt.Errorf("connections.stale_after must be > 0")
	}
	if c.Connections.MaxReconnectAttempts < 0 {
		return fmt.Errorf("connections.max_reconnect_attempts must be >= 0")
	}
	if c.Connections.MonitorInterval <= 0 {
		return fmt.Errorf("connections.monitor_interval must be > 0")
	}
	if c.Connections.ReapInterval <= 0 {
		return fmt.Errorf("connections.reap_interval must be > 0")
	}
	if c.Connections.ReapAfter <= 0 {
		return fmt.Errorf("connections.reap_after must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Port = 8081
	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.Rooms.MaxConnectionsPerRoom = 20
	cfg.Rooms.StatsMonitorInterval = 30 * time.Second
	cfg.Rooms.StatsIdleReap = 10 * time.Minute

	cfg.Queue.DrainInterval = 100 * time.Millisecond
	cfg.Queue.BatchSize = 10
	cfg.Queue.MaxPending = 1000
	cfg.Queue.CandidateMaxAge = 5 * time.Second

	cfg.Connections.StaleAfter = 30 * time.Second
	cfg.Connections.MaxReconnectAttempts = 3
	cfg.Connections.MonitorInterval = 10 * time.Second
	cfg.Connections.ReapInterval = 60 * time.Second
	cfg.Connections.ReapAfter = 5 * time.Minute

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.ServiceName = "jamlink-signal"
	cfg.Tracing.SampleRate = 0.1

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.PersistConnections = false

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("JAMLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("JAMLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("JAMLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}

	if v := os.Getenv("WS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Signal.Port = port
		}
	}
	if v := os.Getenv("WS_PATH"); v != "" {
		c.Signal.Path = v
	}
	if v := os.Getenv("MAX_CONNECTIONS_PER_ROOM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Rooms.MaxConnectionsPerRoom = n
		}
	}
	if v := os.Getenv("MESSAGE_QUEUE_DRAIN_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Queue.DrainInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MESSAGE_QUEUE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.BatchSize = n
		}
	}
	if v := os.Getenv("STALE_CONNECTION_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Connections.StaleAfter = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connections.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("ROOM_STATS_MONITOR_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Rooms.StatsMonitorInterval = time.Duration(ms) * time.Millisecond
		}
	}
}
