package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultPlatformTimeout = 30 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultMaxRetries        = 3
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 10 * time.Second
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultRefreshBuffer     = 5 * time.Minute
	DefaultCommandTimeout    = 10 * time.Second
	DefaultBufferSize        = 1000

	DefaultPollInterval    = 15 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultPollConcurrency = 2

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *ServiceConfig) applyDefaults() {
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = DefaultPlatformTimeout
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	if c.Realtime.MaxRetries == 0 {
		c.Realtime.MaxRetries = DefaultMaxRetries
	}
	if c.Realtime.BaseDelay == 0 {
		c.Realtime.BaseDelay = DefaultBaseDelay
	}
	if c.Realtime.MaxDelay == 0 {
		c.Realtime.MaxDelay = DefaultMaxDelay
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Realtime.HeartbeatTimeout == 0 {
		c.Realtime.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Realtime.RefreshBuffer == 0 {
		c.Realtime.RefreshBuffer = DefaultRefreshBuffer
	}
	if c.Realtime.CommandTimeout == 0 {
		c.Realtime.CommandTimeout = DefaultCommandTimeout
	}
	if c.Realtime.BufferSize == 0 {
		c.Realtime.BufferSize = DefaultBufferSize
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
