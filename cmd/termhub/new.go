package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/termhub/termhub/internal/hubclient"
	"github.com/termhub/termhub/internal/session"
)

func newNewCmd() *cobra.Command {
	var path, model string
	var plan, shell bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if path == "" {
				path, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("determine working directory: %w", err)
				}
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", path, err)
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

			sessionType := string(session.KindAssistant)
			if shell {
				sessionType = string(session.KindShell)
			}
			view, err := client.CreateSession(hubclient.CreateSessionRequest{
				ProjectPath: absPath,
				Model:       model,
				PlanMode:    plan,
				SessionType: sessionType,
			})
			if err != nil {
				return err
			}
			fmt.Println(view.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "project directory (default: current directory)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "assistant model")
	cmd.Flags().BoolVar(&plan, "plan", false, "start in plan mode")
	cmd.Flags().BoolVar(&shell, "shell", false, "start a plain shell session instead of an assistant")
	return cmd
}
