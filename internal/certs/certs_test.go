package certs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupFindsFirstMatchingDirectory(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	host := "term.example.com"
	require.NoError(t, os.MkdirAll(filepath.Join(dirB, host), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, host, "fullchain.pem"), []byte("cert"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirB, host, "privkey.pem"), []byte("key"), 0o644))

	store := NewStore(dirA, dirB)
	pair, ok := store.Lookup(host)
	require.True(t, ok)
	require.Equal(t, filepath.Join(dirB, host, "fullchain.pem"), pair.CertFile)
	require.Equal(t, filepath.Join(dirB, host, "privkey.pem"), pair.KeyFile)
}

func TestLookupMissesWhenNoDirectoryHasBothFiles(t *testing.T) {
	dir := t.TempDir()
	host := "term.example.com"
	require.NoError(t, os.MkdirAll(filepath.Join(dir, host), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, host, "fullchain.pem"), []byte("cert"), 0o644))

	store := NewStore(dir)
	_, ok := store.Lookup(host)
	require.False(t, ok)
}

func TestLookupMissesForUnknownHostname(t *testing.T) {
	store := NewStore(t.TempDir())
	_, ok := store.Lookup("unknown.example.com")
	require.False(t, ok)
}
