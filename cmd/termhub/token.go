package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/authstore"
)

func newTokenCmd() *cobra.Command {
	var rotate bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the daemon's bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			st, err := openLocalStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			auth := authstore.New(st)
			var tok string
			if rotate {
				tok, err = auth.Rotate()
			} else {
				tok, err = auth.EnsureToken()
			}
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&rotate, "rotate", "r", false, "issue a new token, invalidating the previous one")
	return cmd
}
