package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/daemon"
)

func newStartCmd() *cobra.Command {
	var port int
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the termhub daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if port != 0 {
				cfg.Port = port
			}

			if err := daemon.ValidateReadyToRun(); err != nil {
				return err
			}

			if foreground {
				return daemon.Run(context.Background(), cfg)
			}

			if err := daemon.Start(cfg); err != nil {
				if errors.Is(err, daemon.ErrAlreadyRunning) {
					return fmt.Errorf("daemon is already running")
				}
				return err
			}
			fmt.Println("termhub daemon started")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground instead of detaching")
	return cmd
}
