package main

import (
	"fmt"
	"net"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newQRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print a QR code for pairing a remote client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tok, err := currentToken(cfg)
			if err != nil {
				return err
			}

			scheme := "ws"
			if cfg.TLS.Enabled {
				scheme = "wss"
			}
			host := lanAddress()
			if cfg.TLS.Enabled && cfg.TLS.Hostname != "" {
				host = cfg.TLS.Hostname
			}
			url := fmt.Sprintf("%s://%s:%d/ws?token=%s", scheme, host, cfg.Port, tok)

			art, err := qrcode.New(url, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("render qr code: %w", err)
			}
			fmt.Println(art.ToString(false))
			fmt.Println(url)
			return nil
		},
	}
}

// lanAddress returns the first non-loopback IPv4 address found on the
// host, falling back to "localhost" when none is reachable (e.g. a
// sandboxed or offline host).
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
