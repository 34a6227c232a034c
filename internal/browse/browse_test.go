package browse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListExcludesHiddenAndFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Banana"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "apple"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), nil, 0o644))

	dirs, err := New().List(root)
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "Banana"}, dirs)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := expandHome("~/projects")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "projects"), expanded)
}
