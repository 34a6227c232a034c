package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

// There is no ecosystem service-manager library in common use across the
// pack; service file generation is two small fixed templates rendered with
// the standard library.

const linuxUnitTemplate = `[Unit]
Description=termhub daemon

[Service]
ExecStart={{.ExePath}} start -f
Restart=on-failure

[Install]
WantedBy=default.target
`

const darwinPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>com.termhub.daemon</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ExePath}}</string>
		<string>start</string>
		<string>-f</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`

type serviceVars struct {
	ExePath string
}

func servicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", "com.termhub.daemon.plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", "termhub.service"), nil
	default:
		return "", fmt.Errorf("install is not supported on %s", runtime.GOOS)
	}
}

func serviceTemplate() (*template.Template, error) {
	switch runtime.GOOS {
	case "darwin":
		return template.New("service").Parse(darwinPlistTemplate)
	case "linux":
		return template.New("service").Parse(linuxUnitTemplate)
	default:
		return nil, fmt.Errorf("install is not supported on %s", runtime.GOOS)
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install a user service that starts termhub at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			exePath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			path, err := servicePath()
			if err != nil {
				return err
			}
			tmpl, err := serviceTemplate()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create service directory: %w", err)
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create service file: %w", err)
			}
			defer func() { _ = f.Close() }()
			if err := tmpl.Execute(f, serviceVars{ExePath: exePath}); err != nil {
				return fmt.Errorf("write service file: %w", err)
			}

			fmt.Printf("Installed %s\n", path)
			if runtime.GOOS == "linux" {
				fmt.Println("Run: systemctl --user enable --now termhub")
			} else {
				fmt.Printf("Run: launchctl load %s\n", path)
			}
			return nil
		},
	}
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No service installed.")
					return nil
				}
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Removed %s\n", path)
			return nil
		},
	}
}
