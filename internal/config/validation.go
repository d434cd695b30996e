package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the modes accepted by libpq-compatible drivers.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for errors. It is called by Load; callers
// constructing a Config by hand (tests, serve command overrides) should call
// it themselves.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr must not be empty", ErrInvalidListenAddr)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port %d out of range 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_db_name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	// The stream token secret signs SSE access tokens; HMAC-SHA256 needs a
	// secret of at least 32 bytes to be meaningful.
	if c.StreamTokenSecret == "" {
		return ErrMissingStreamSecret
	}
	if len(c.StreamTokenSecret) < 32 {
		return fmt.Errorf("%w: need at least 32 bytes, got %d", ErrInvalidStreamSecret, len(c.StreamTokenSecret))
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidInterval)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: cleanup_interval must be positive", ErrInvalidInterval)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("%w: retention_days must be at least 1, got %d", ErrInvalidRetention, c.RetentionDays)
	}

	return nil
}
