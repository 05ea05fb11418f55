package keygen

import (
	"context"
	"fmt"

	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/urfave/cli/v3"
)

// Command returns the keygen sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Print a new chat encryption key",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key, err := chatencryption.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, key)
			return err
		},
	}
}
