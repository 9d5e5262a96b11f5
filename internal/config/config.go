package config

import "time"

// ServiceConfig is the root configuration for a liveboard instance.
type ServiceConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Platform PlatformConfig `yaml:"platform"`
	Database DBConfig       `yaml:"database"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Poller   PollerConfig   `yaml:"poller"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this liveboard instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// PlatformConfig holds the hosted backend endpoints and credentials.
type PlatformConfig struct {
	APIURL       string        `yaml:"api_url"`       // REST data API base URL
	RealtimeURL  string        `yaml:"realtime_url"`  // WebSocket change-feed URL
	TokenURL     string        `yaml:"token_url"`     // session/refresh endpoint
	APIKey       string        `yaml:"api_key"`       // project API key
	RefreshToken string        `yaml:"refresh_token"` // long-lived service refresh token
	Timeout      time.Duration `yaml:"timeout"`
}

// DBConfig holds the local Postgres mirror connection.
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

// RealtimeConfig holds connection manager tuning.
type RealtimeConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	RefreshBuffer     time.Duration `yaml:"refresh_buffer"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// PollerConfig holds fallback poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// MetricsConfig holds the Prometheus/diagnostics HTTP listener settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
