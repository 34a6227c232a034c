// Package filesvc implements the file-CRUD collaborator: every operation
// is scoped to a session's project root and confined to it before
// touching the filesystem.
package filesvc

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/termhub/termhub/internal/apperr"
	"github.com/termhub/termhub/internal/hub"
)

const maxFileSize = 1 << 20 // 1 MiB

// Service implements hub.FileService against the local filesystem.
type Service struct{}

// New returns a filesystem-backed Service.
func New() *Service { return &Service{} }

var _ hub.FileService = (*Service)(nil)

// resolve confines rel under root, rejecting any path that escapes it
// after symlink resolution.
func resolve(root, rel string) (string, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.NewUserError("", "resolve project root: %w", err)
	}
	joined := filepath.Join(cleanRoot, rel)
	if !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) && joined != cleanRoot {
		return "", apperr.NewUserError("", "path %q escapes project root", rel)
	}

	resolvedRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return "", apperr.NewUserError("", "resolve project root: %w", err)
	}
	resolvedPath := joined
	if existing, err := filepath.EvalSymlinks(joined); err == nil {
		resolvedPath = existing
	}
	if resolvedPath != resolvedRoot && !strings.HasPrefix(resolvedPath, resolvedRoot+string(filepath.Separator)) {
		return "", apperr.NewUserError("", "path %q escapes project root", rel)
	}
	return joined, nil
}

// ResolvePath confines rel under root and returns the resulting absolute
// path without reading it, for callers (the download endpoint) that stream
// the file themselves instead of going through the 1 MiB Read cap.
func (s *Service) ResolvePath(root, rel string) (string, error) {
	return resolve(root, rel)
}

// Browse lists the immediate children of root/rel.
func (s *Service) Browse(root, rel string) ([]hub.FileEntry, error) {
	dir, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.NewUserError("", "list %q: %w", rel, err)
	}
	out := make([]hub.FileEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, hub.FileEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Read returns the contents of root/rel, rejecting files over the size cap.
func (s *Service) Read(root, rel string) ([]byte, error) {
	path, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.NewUserError("", "stat %q: %w", rel, err)
	}
	if info.IsDir() {
		return nil, apperr.NewUserError("", "%q is a directory", rel)
	}
	if info.Size() > maxFileSize {
		return nil, apperr.NewUserError("", "%q exceeds the 1 MiB read cap", rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.NewUserError("", "read %q: %w", rel, err)
	}
	return data, nil
}

// Write overwrites root/rel, rejecting payloads over the size cap.
func (s *Service) Write(root, rel string, data []byte) error {
	if len(data) > maxFileSize {
		return apperr.NewUserError("", "write to %q exceeds the 1 MiB cap", rel)
	}
	path, err := resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.NewUserError("", "write %q: %w", rel, err)
	}
	return nil
}

// CreateFile creates a new empty file or directory at root/rel. Refuses to
// overwrite an existing target.
func (s *Service) CreateFile(root, rel string, isDir bool) error {
	path, err := resolve(root, rel)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(path); err == nil {
		return apperr.NewUserError("", "%q already exists", rel)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return apperr.NewUserError("", "stat %q: %w", rel, err)
	}
	if isDir {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return apperr.NewUserError("", "create directory %q: %w", rel, err)
		}
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.NewUserError("", "create %q: %w", rel, err)
	}
	return f.Close()
}

// Rename moves root/oldRel to root/newRel. Refuses to rename the project
// root itself or overwrite an existing target.
func (s *Service) Rename(root, oldRel, newRel string) error {
	if isRoot(oldRel) {
		return apperr.NewUserError("", "cannot rename the project root")
	}
	oldPath, err := resolve(root, oldRel)
	if err != nil {
		return err
	}
	newPath, err := resolve(root, newRel)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(newPath); err == nil {
		return apperr.NewUserError("", "%q already exists", newRel)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return apperr.NewUserError("", "rename %q to %q: %w", oldRel, newRel, err)
	}
	return nil
}

// Delete removes root/rel. Refuses to delete the project root itself.
func (s *Service) Delete(root, rel string) error {
	if isRoot(rel) {
		return apperr.NewUserError("", "cannot delete the project root")
	}
	path, err := resolve(root, rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return apperr.NewUserError("", "delete %q: %w", rel, err)
	}
	return nil
}

func isRoot(rel string) bool {
	cleaned := filepath.Clean(rel)
	return cleaned == "." || cleaned == "" || cleaned == string(filepath.Separator)
}
