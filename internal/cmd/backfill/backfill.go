package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/backfill"
	"github.com/chirino/chat-encryption/internal/cmd/cmdutil"
	"github.com/chirino/chat-encryption/internal/config"
	"github.com/chirino/chat-encryption/internal/security"
	"github.com/urfave/cli/v3"
)

// Command returns the backfill sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var userIDs []string
	var dryRun bool
	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "user-id",
			Usage:       "User whose chats are encrypted; repeat for several users",
			Destination: &userIDs,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "chunk-size",
			Sources:     cli.EnvVars("CHAT_ENCRYPTION_BACKFILL_CHUNK_SIZE"),
			Destination: &cfg.BackfillChunkSize,
			Value:       cfg.BackfillChunkSize,
			Usage:       "Chats fetched and committed per page",
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Destination: &dryRun,
			Usage:       "Report how many chats hold plaintext without writing",
		},
	}
	flags = append(flags, cmdutil.StoreFlags(&cfg)...)
	flags = append(flags, cmdutil.EncryptionFlags(&cfg)...)

	return &cli.Command{
		Name:  "backfill",
		Usage: "Encrypt chats stored before encryption was enabled",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			if !dryRun && !cfg.EncryptionEnabled() {
				return fmt.Errorf("backfill requires --encryption-key")
			}

			metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
			if err != nil {
				return err
			}
			security.InitMetrics(metricsLabels)

			ctx, store, codec, err := cmdutil.OpenStore(ctx, &cfg)
			if err != nil {
				return err
			}
			defer cmdutil.CloseStore(store)
			if !dryRun && !codec.Enabled() {
				return fmt.Errorf("backfill: encryption key could not be loaded")
			}

			runner := backfill.New(store, codec, backfill.WithChunkSize(cfg.BackfillChunkSize))
			out := json.NewEncoder(cmd.Root().Writer)
			for _, userID := range userIDs {
				userID = strings.TrimSpace(userID)
				if userID == "" {
					continue
				}
				if dryRun {
					report, err := runner.Inspect(ctx, userID)
					if err != nil {
						return err
					}
					log.Info("Backfill dry run", "userID", userID, "scanned", report.Scanned, "plaintext", report.Plaintext)
					if err := out.Encode(map[string]interface{}{"userId": userID, "report": report}); err != nil {
						return err
					}
					continue
				}
				n, err := runner.EncryptUserChats(ctx, userID)
				if err != nil {
					return err
				}
				if err := out.Encode(map[string]interface{}{"userId": userID, "encrypted": n}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
