package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach to a session's multiplexer pane from this terminal",
		Args:  cobra.ExactArgs(1),
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

			rec, ok := st.GetSession(args[0])
			if !ok {
				return fmt.Errorf("no such session: %s", args[0])
			}

			tmuxCmd := exec.Command("tmux", "attach", "-t", rec.MultiplexerName)
			tmuxCmd.Stdin = os.Stdin
			tmuxCmd.Stdout = os.Stdout
			tmuxCmd.Stderr = os.Stderr
			return tmuxCmd.Run()
		},
	}
}
