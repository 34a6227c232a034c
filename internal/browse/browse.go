// Package browse implements the session-creation directory picker: given a
// path, return its immediate child directories.
package browse

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/termhub/termhub/internal/hub"
)

// Browser implements hub.DirectoryBrowser against the local filesystem.
type Browser struct{}

// New returns a filesystem-backed Browser.
func New() *Browser { return &Browser{} }

var _ hub.DirectoryBrowser = (*Browser)(nil)

// List returns the immediate child directories of path, excluding hidden
// entries, sorted case-insensitively. A leading "~" is expanded to the
// current user's home directory.
func (b *Browser) List(path string) ([]string, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(expanded)
	if err != nil {
		return nil, fmt.Errorf("browse: read %q: %w", path, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dirs = append(dirs, e.Name())
	}
	sort.Slice(dirs, func(i, j int) bool {
		return strings.ToLower(dirs[i]) < strings.ToLower(dirs[j])
	})
	return dirs, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("browse: resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
