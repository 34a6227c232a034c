// Package download implements the sandboxed file-download endpoint: an
// HTTP GET validated against the daemon's bearer token and the requested
// session's project-root confinement, then streamed verbatim.
package download

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// TokenValidator checks a bearer token in constant time.
type TokenValidator interface {
	Validate(token string) bool
}

// SessionLookup resolves a session id to its project root.
type SessionLookup interface {
	ProjectRootFor(sessionID string) (string, bool)
}

// PathResolver confines a relative path under a project root.
type PathResolver interface {
	ResolvePath(root, rel string) (string, error)
}

// Handler serves GET /download?token=...&sessionId=...&path=...
type Handler struct {
	auth     TokenValidator
	sessions SessionLookup
	paths    PathResolver
}

// New constructs a download Handler.
func New(auth TokenValidator, sessions SessionLookup, paths PathResolver) *Handler {
	return &Handler{auth: auth, sessions: sessions, paths: paths}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	if !h.auth.Validate(q.Get("token")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := q.Get("sessionId")
	root, ok := h.sessions.ProjectRootFor(sessionID)
	if !ok {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	rel, err := url.QueryUnescape(q.Get("path"))
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	path, err := h.paths.ResolvePath(root, rel)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if info.IsDir() {
		http.Error(w, "cannot download a directory", http.StatusBadRequest)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}
