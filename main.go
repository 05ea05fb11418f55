package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/cmd/backfill"
	"github.com/chirino/chat-encryption/internal/cmd/keygen"
	"github.com/chirino/chat-encryption/internal/cmd/migrate"
	"github.com/chirino/chat-encryption/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chat-encryption",
		Usage: "Field-level encryption of stored chat messages",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			backfill.Command(),
			keygen.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
