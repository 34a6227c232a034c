// Command termhubd is the termhub daemon binary. Invoked with no
// arguments it is the supervisor: it re-execs itself with --foreground and
// restarts that child on unexpected exit. Invoked with --foreground it IS
// that child: it serves the hub until signaled or its context is
// cancelled.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/termhub/termhub/internal/clock"
	"github.com/termhub/termhub/internal/config"
	"github.com/termhub/termhub/internal/daemon"
	"github.com/termhub/termhub/internal/supervisor"
)

func main() {
	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "termhubd: load config: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "--foreground" {
		if err := daemon.ValidateReadyToRun(); err != nil {
			fmt.Fprintf(os.Stderr, "termhubd: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := daemon.Run(ctx, cfg); err != nil {
			log.Error("termhubd: exiting", "err", err)
			os.Exit(1)
		}
		return
	}

	exePath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "termhubd: locate executable: %v\n", err)
		os.Exit(1)
	}

	sup := supervisor.New([]string{exePath, "--foreground"}, clock.Real{}, supervisor.Config{
		QuickDeathThreshold: cfg.Supervisor.QuickDeathThreshold,
		BaseDelay:           cfg.Supervisor.BaseDelay,
		MaxDelay:            cfg.Supervisor.MaxDelay,
	})

	if err := sup.Run(context.Background()); err != nil {
		log.Error("termhubd: supervisor exited", "err", err)
		os.Exit(1)
	}
}
