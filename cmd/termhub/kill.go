package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/hubclient"
)

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <id>",
		Short: "End a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := currentToken(cfg)
			if err != nil {
				return err
			}
			client, err := hubclient.Dial(context.Background(), baseURL(cfg), tok)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if err := client.KillSession(args[0]); err != nil {
				return err
			}
			fmt.Println("killed", args[0])
			return nil
		},
	}
}
