package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Platform.APIURL == "" {
		return errors.New("platform.api_url is required")
	}
	if c.Platform.RealtimeURL == "" {
		return errors.New("platform.realtime_url is required")
	}
	if !strings.HasPrefix(c.Platform.RealtimeURL, "ws://") && !strings.HasPrefix(c.Platform.RealtimeURL, "wss://") {
		return fmt.Errorf("platform.realtime_url must be a ws:// or wss:// URL, got %q", c.Platform.RealtimeURL)
	}
	if c.Platform.TokenURL == "" {
		return errors.New("platform.token_url is required")
	}
	if c.Platform.APIKey == "" {
		return errors.New("platform.api_key is required")
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Realtime.MaxRetries < 0 {
		return errors.New("realtime.max_retries must be >= 0")
	}
	if c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("realtime.max_delay (%s) cannot be less than base_delay (%s)",
			c.Realtime.MaxDelay, c.Realtime.BaseDelay)
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
