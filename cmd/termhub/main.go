// Command termhub is the user-facing CLI: it starts/stops/inspects the
// termhubd daemon and drives sessions remotely over the websocket wire
// protocol, authenticating with the locally stored bearer token.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/termhub/termhub/internal/config"
	"github.com/termhub/termhub/internal/version"
)

func loadConfig() (*config.Config, error) {
	v := viper.New()
	return config.Load(v)
}

func baseURL(cfg *config.Config) string {
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://localhost:%d/ws", scheme, cfg.Port)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "termhub",
		Short:         "Control the termhub daemon and its sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newTokenCmd(),
		newQRCmd(),
		newNewCmd(),
		newListCmd(),
		newAttachCmd(),
		newKillCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the termhub version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("termhub v%s\n", version.Version)
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "termhub: %v\n", err)
		os.Exit(1)
	}
}
