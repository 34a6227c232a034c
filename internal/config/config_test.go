package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 7337, cfg.Port)
	require.Equal(t, "termhub", cfg.SessionPrefix)
	require.Equal(t, 30*time.Millisecond, cfg.Capture.Debounce)
	require.Equal(t, 3*time.Second, cfg.Classifier.IdleTimeout)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9999\nsession_prefix: custom\n"), 0o644))

	v := viper.New()
	v.Set("config", path)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
	require.Equal(t, "custom", cfg.SessionPrefix)
	// Unspecified fields keep their defaults.
	require.Equal(t, 30*time.Millisecond, cfg.Capture.Debounce)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	_, err := Load(v)
	require.NoError(t, err)
}
