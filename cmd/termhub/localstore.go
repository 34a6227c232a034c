package main

import (
	"fmt"
	"path/filepath"

	"github.com/termhub/termhub/internal/authstore"
	"github.com/termhub/termhub/internal/config"
	"github.com/termhub/termhub/internal/store"
)

// openLocalStore opens the daemon's durable store directly, for the
// handful of commands (token, qr, attach) that need the persisted bearer
// token or session records without going through a live daemon connection.
func openLocalStore(cfg *config.Config) (*store.Store, error) {
	if err := config.EnsureDataDir(cfg); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "termhub.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func currentToken(cfg *config.Config) (string, error) {
	st, err := openLocalStore(cfg)
	if err != nil {
		return "", err
	}
	defer func() { _ = st.Close() }()
	return authstore.New(st).EnsureToken()
}
