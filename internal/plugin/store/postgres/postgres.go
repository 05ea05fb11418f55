package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/config"
	"github.com/chirino/chat-encryption/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-encryption/internal/registry/migrate"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/chirino/chat-encryption/internal/security"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SQLSTATE codes returned when two migrators race on CREATE ... IF NOT EXISTS.
const (
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
	pgUniqueViolation = "23505"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: config.DatastorePostgres,
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			db, err := open(cfg)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			codec := chatencryption.FromContext(ctx)
			if codec == nil {
				codec = chatencryption.NewCodec(chatencryption.FromConfig(cfg))
			}
			return gormstore.New(db, codec), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func open(cfg *config.Config) (*gorm.DB, error) {
	if cfg == nil || cfg.DBURL == "" {
		return nil, fmt.Errorf("postgres: db url is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != config.DatastorePostgres {
		return nil // skip if not using postgres
	}
	db, err := open(cfg)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		if !isConcurrentCreate(err) {
			return fmt.Errorf("migration: failed to execute schema: %w", err)
		}
		log.Warn("Postgres schema created concurrently by another migrator", "err", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// isConcurrentCreate reports whether err is postgres rejecting a CREATE that
// another session completed first. IF NOT EXISTS does not cover that race.
func isConcurrentCreate(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgDuplicateTable, pgDuplicateObject, pgUniqueViolation:
		return true
	}
	return false
}
