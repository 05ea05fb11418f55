// Package cmdutil holds the flags and setup shared by every sub-command that
// opens the chat store.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/config"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import store plugins to trigger init() registration.
	_ "github.com/chirino/chat-encryption/internal/plugin/store/postgres"
	_ "github.com/chirino/chat-encryption/internal/plugin/store/sqlite"
)

// StoreFlags binds the datastore settings into cfg.
func StoreFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_ENCRYPTION_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       fmt.Sprintf("Store backend (%s|%s)", config.DatastorePostgres, config.DatastoreSQLite),
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_ENCRYPTION_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres DSN or sqlite file path)",
			Required:    true,
		},
	}
}

// EncryptionFlags binds the chat encryption key into cfg.
func EncryptionFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "encryption-key",
			Category:    "Encryption:",
			Sources:     cli.EnvVars("CHAT_ENCRYPTION_KEY", config.LegacyEncryptionKeyEnv),
			Destination: &cfg.EncryptionKey,
			Usage:       "Fernet key for chat message content (url-safe base64). Empty disables encryption.",
		},
	}
}

// OpenStore builds the process-wide codec from cfg, carries it and cfg on the
// returned context, and loads the configured store plugin.
func OpenStore(ctx context.Context, cfg *config.Config) (context.Context, registrystore.ChatStore, *chatencryption.Codec, error) {
	codec := chatencryption.NewCodec(chatencryption.FromConfig(cfg))
	ctx = config.WithContext(ctx, cfg)
	ctx = chatencryption.WithContext(ctx, codec)

	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return ctx, nil, nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return ctx, store, codec, nil
}

// CloseStore releases the store's resources when it holds any.
func CloseStore(store registrystore.ChatStore) {
	if c, ok := store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
