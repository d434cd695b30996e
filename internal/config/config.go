// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (DRAFTFORGE_* or DATABASE_URL)
//  2. Config file (./draftforge.yaml or ~/.draftforge/config.yaml)
//  3. Default values
//
// Sensitive values (postgres password, embedding API key, stream token secret)
// are never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidListenAddr indicates the server listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingStreamSecret indicates the stream token secret is not set.
	ErrMissingStreamSecret = errors.New("missing stream token secret")

	// ErrInvalidStreamSecret indicates the stream token secret is too short.
	ErrInvalidStreamSecret = errors.New("invalid stream token secret")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidInterval indicates a poll, heartbeat or cleanup interval is
	// non-positive.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrInvalidRetention indicates the generation retention window is invalid.
	ErrInvalidRetention = errors.New("invalid retention window")
)

// Default chunking parameters, matching the knowledge ingestion defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Config stores application configuration.
type Config struct {
	// Server configuration
	ListenAddr        string   `mapstructure:"listen_addr"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
	RateBurst         int      `mapstructure:"rate_burst"`
	TrustProxy        bool     `mapstructure:"trust_proxy"`
	Dev               bool     `mapstructure:"dev"`
	StreamTokenSecret string   `mapstructure:"stream_token_secret"` // SENSITIVE

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Default embedding endpoint used when a knowledge base carries no
	// endpoint configuration of its own. The base URL is the API root;
	// /embeddings is appended, OpenAI wire format.
	EmbeddingBaseURL string `mapstructure:"embedding_base_url"`
	EmbeddingModel   string `mapstructure:"embedding_model"`
	EmbeddingAPIKey  string `mapstructure:"embedding_api_key"` // SENSITIVE

	// Document chunking defaults
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Generation streaming and retention
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetentionDays     int           `mapstructure:"retention_days"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("draftforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".draftforge"))
	}

	setDefaults(v)

	v.SetEnvPrefix("DRAFTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"config_name", "draftforge.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8087")
	v.SetDefault("rate_burst", 60)
	v.SetDefault("trust_proxy", false)
	v.SetDefault("dev", false)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "draftforge")
	v.SetDefault("postgres_password", "draftforge_dev_password")
	v.SetDefault("postgres_db_name", "draftforge")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("embedding_base_url", "http://localhost:8100/v1")
	v.SetDefault("embedding_model", "text-embedding-3-small")

	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)

	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("heartbeat_interval", 15*time.Second)
	v.SetDefault("retention_days", 30)
	v.SetDefault("cleanup_interval", time.Hour)
}
