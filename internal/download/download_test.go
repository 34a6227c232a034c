package download

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/termhub/termhub/internal/filesvc"
)

type fakeValidator struct{ token string }

func (v fakeValidator) Validate(candidate string) bool { return candidate == v.token }

type fakeLookup struct{ roots map[string]string }

func (l fakeLookup) ProjectRootFor(id string) (string, bool) {
	r, ok := l.roots[id]
	return r, ok
}

func TestDownloadServesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.txt"), []byte("contents"), 0o644))

	h := New(fakeValidator{token: "secret"}, fakeLookup{roots: map[string]string{"s1": root}}, filesvc.New())

	req := httptest.NewRequest(http.MethodGet, "/download?token=secret&sessionId=s1&path=report.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "report.txt")
	require.Equal(t, "contents", rec.Body.String())
}

func TestDownloadRejectsBadToken(t *testing.T) {
	h := New(fakeValidator{token: "secret"}, fakeLookup{}, filesvc.New())
	req := httptest.NewRequest(http.MethodGet, "/download?token=wrong&sessionId=s1&path=a.txt", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDownloadRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	h := New(fakeValidator{token: "secret"}, fakeLookup{roots: map[string]string{"s1": root}}, filesvc.New())
	req := httptest.NewRequest(http.MethodGet, "/download?token=secret&sessionId=s1&path=../../etc/passwd", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadRejectsDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	h := New(fakeValidator{token: "secret"}, fakeLookup{roots: map[string]string{"s1": root}}, filesvc.New())
	req := httptest.NewRequest(http.MethodGet, "/download?token=secret&sessionId=s1&path=sub", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
