// Package sqlite registers a file-backed chat store. It suits single node
// deployments and local backfill runs against a copy of the database.
package sqlite

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/config"
	"github.com/chirino/chat-encryption/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-encryption/internal/registry/migrate"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: config.DatastoreSQLite,
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := Open(cfg)
			if err != nil {
				return nil, err
			}
			codec := chatencryption.FromContext(ctx)
			if codec == nil {
				codec = chatencryption.NewCodec(chatencryption.FromConfig(cfg))
			}
			return gormstore.New(db, codec), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// Open connects to the sqlite database named by cfg.DBURL. Writers are
// serialized through a single connection; sqlite allows only one at a time.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("sqlite: db url is required")
	}
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return db, nil
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != config.DatastoreSQLite {
		return nil
	}
	db, err := Open(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	s := gormstore.New(db, nil)
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
