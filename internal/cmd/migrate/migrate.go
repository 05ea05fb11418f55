package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/cmd/cmdutil"
	"github.com/chirino/chat-encryption/internal/config"
	registrymigrate "github.com/chirino/chat-encryption/internal/registry/migrate"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: cmdutil.StoreFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// An explicit migrate always runs, whatever the serve-time setting.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "migrators", registrymigrate.Names())
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
