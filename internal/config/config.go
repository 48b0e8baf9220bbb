// Package config provides centralized configuration management for the
// sync service and CLI. It loads configuration from environment variables
// with sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
//
// These are deployment settings. Plugin settings such as CSV column names
// and the group-name transform live in the settings store and can be seeded
// from a YAML file (see LoadSettingsFile).
package config

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Queue    QueueConfig
	Sync     SyncConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Settings SettingsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, no limit)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema at startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`
}

// ImportConfig holds CSV import settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 20MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"20971520"`

	// MaxConcurrent is the maximum number of parallel imports (default: 2)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for an import slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows to insert per batch (default: 250)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"250"`

	// Timeout is the maximum duration for a single import (default: 10m)
	Timeout time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// Encoding is the default CSV character set (default: utf-8)
	Encoding string `env:"IMPORT_ENCODING" default:"utf-8"`

	// Delimiter is the default CSV separator, a single character (default: ,)
	Delimiter string `env:"IMPORT_DELIMITER" default:","`
}

// QueueConfig holds deferred task settings.
type QueueConfig struct {
	// Mode selects the queue: postgres (durable, worker pool) or inline
	// (commands run in the request that enqueues them) (default: postgres)
	Mode string `env:"QUEUE_MODE" default:"postgres"`

	// Workers is the number of worker goroutines (default: 4)
	Workers int `env:"QUEUE_WORKERS" default:"4"`

	// PollInterval is the wait between claims when the queue is empty (default: 1s)
	PollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" default:"1s"`

	// LeaseDuration is how long a claimed task stays invisible to other workers (default: 60s)
	LeaseDuration time.Duration `env:"QUEUE_LEASE" default:"60s"`

	// HeartbeatInterval is how often a running task extends its lease (default: 20s)
	HeartbeatInterval time.Duration `env:"QUEUE_HEARTBEAT" default:"20s"`

	// MaxAttempts is the number of runs before a task fails (default: 5)
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" default:"5"`
}

// SyncConfig holds settings of unattended synchronization.
type SyncConfig struct {
	// AutoRunInterval dispatches every unprocessed import on this period.
	// Zero disables the scheduler (default: 0s)
	AutoRunInterval time.Duration `env:"SYNC_AUTORUN_INTERVAL" default:"0s"`

	// RemoveOtherCohorts is applied by scheduled runs (default: false)
	RemoveOtherCohorts bool `env:"SYNC_REMOVE_OTHER_COHORTS" default:"false"`

	// RemoveOtherGroups is applied by scheduled runs (default: false)
	RemoveOtherGroups bool `env:"SYNC_REMOVE_OTHER_GROUPS" default:"false"`

	// SystemActorID is recorded as the actor of event-driven and scheduled
	// changes, and of requests without an X-Actor-ID header (default: 2)
	SystemActorID int64 `env:"SYNC_SYSTEM_ACTOR_ID" default:"2"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ImportLimit is requests per minute for import endpoints (default: 10)
	ImportLimit int `env:"RATE_LIMIT_IMPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SettingsConfig locates the plugin settings seed.
type SettingsConfig struct {
	// File is a YAML file whose values are written to the settings store at
	// startup. Empty means no seeding.
	File string `env:"SETTINGS_FILE"`

	// Overwrite replaces values already stored; otherwise only missing
	// settings are seeded (default: false)
	Overwrite bool `env:"SETTINGS_OVERWRITE" default:"false"`
}

// Queue modes.
const (
	QueueModePostgres = "postgres"
	QueueModeInline   = "inline"
)

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DelimiterRune returns the configured delimiter, or 0 when it is not a
// single character.
func (c *ImportConfig) DelimiterRune() rune {
	r, size := utf8.DecodeRuneInString(c.Delimiter)
	if r == utf8.RuneError || size != len(c.Delimiter) {
		return 0
	}
	return r
}
