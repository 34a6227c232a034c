package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/daemon"
)

func newStopCmd() *cobra.Command {
	var killSessions bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the termhub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := daemon.Stop(cfg, killSessions); err != nil {
				if errors.Is(err, daemon.ErrNotRunning) {
					return fmt.Errorf("daemon is not running")
				}
				return err
			}
			fmt.Println("termhub daemon stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&killSessions, "kill-sessions", false, "also kill every multiplexer session the daemon owns")
	return cmd
}
