package daemon

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestStatusReportsNotRunningWithoutPIDFile(t *testing.T) {
	cfg := testConfig(t)
	running, _, _, err := Status(cfg)
	require.NoError(t, err)
	require.False(t, running)
}

func TestStatusReportsNotRunningForStalePID(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, writePIDFile(cfg.DataDir, 999999))

	running, _, pid, err := Status(cfg)
	require.NoError(t, err)
	require.False(t, running)
	require.Equal(t, 999999, pid)
}

func TestStatusReportsRunningForOwnPID(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, writePIDFile(cfg.DataDir, os.Getpid()))

	running, url, pid, err := Status(cfg)
	require.NoError(t, err)
	require.True(t, running)
	require.Equal(t, os.Getpid(), pid)
	require.Contains(t, url, "ws://localhost:")
}

func TestStopReturnsErrNotRunningWithoutPIDFile(t *testing.T) {
	cfg := testConfig(t)
	err := Stop(cfg, false)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writePIDFile(dir, 4242))

	pid, err := readPIDFile(dir)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)

	require.NoError(t, removePIDFile(dir))
	_, err = readPIDFile(dir)
	require.Error(t, err)
}
