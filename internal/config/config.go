package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	DatastorePostgres = "postgres"
	DatastoreSQLite   = "sqlite"
)

// Config holds all configuration for the chat encryption service.
type Config struct {
	// Database
	DBURL string

	// Datastore backend type
	DatastoreType string // "postgres" or "sqlite"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// EncryptionKey is the Fernet key used for chat content. Empty disables
	// encryption: content is stored and returned as plaintext.
	EncryptionKey string

	// Number of chats loaded and committed per backfill page.
	BackfillChunkSize int

	// Server
	Listener ListenerConfig

	// ManagementListener serves /health, /ready and /metrics on a dedicated
	// port when ManagementListenerEnabled is set.
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool

	// MaxBodySize caps admin request bodies (bytes).
	MaxBodySize int64

	// AdminToken guards the /v1/admin routes when set.
	AdminToken string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           DatastorePostgres,
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		BackfillChunkSize:       100,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			Port:              9090,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   10 * 1024 * 1024,
		MetricsLabels: "service=chat-encryption",
		DrainTimeout:  30,
	}
}
