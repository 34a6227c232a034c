package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			running, url, pid, err := daemon.Status(cfg)
			if err != nil {
				return err
			}
			if !running {
				fmt.Println("termhub daemon is not running")
				os.Exit(1)
			}
			fmt.Printf("termhub daemon is running (pid %d)\n", pid)
			fmt.Printf("Endpoint: %s\n", url)
			return nil
		},
	}
}
