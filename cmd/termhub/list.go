package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/hubclient"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
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

			sessions, err := client.ListSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tTYPE\tMODEL\tPROJECT")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.State, s.SessionType, s.Model, s.ProjectPath)
			}
			return tw.Flush()
		},
	}
}
