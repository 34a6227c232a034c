package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestWatchFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9001\n"), 0o644))

	v := viper.New()
	v.Set("config", path)

	var mu sync.Mutex
	var got *Config
	w, err := WatchFile(path, v, func(cfg *Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			got = cfg
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("port: 9002\n"), 0o644))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		cfg := got
		mu.Unlock()
		if cfg != nil && cfg.Port == 9002 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		default:
			time.Sleep(50 * time.Millisecond)
		}
	}
}
