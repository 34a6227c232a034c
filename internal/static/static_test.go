package static

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":     {Data: []byte("<html>shell</html>")},
		"assets/app.js":  {Data: []byte("console.log('hi')")},
		"assets/app.css": {Data: []byte("body{}")},
	}
}

func TestServesRealAsset(t *testing.T) {
	h := New(testFS(), "index.html")
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "console.log('hi')", rec.Body.String())
	require.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
}

func TestFallsBackToIndexForUnknownPath(t *testing.T) {
	h := New(testFS(), "index.html")
	req := httptest.NewRequest(http.MethodGet, "/sessions/abc123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "<html>shell</html>", rec.Body.String())
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestIndexItselfIsNoCache(t *testing.T) {
	h := New(testFS(), "index.html")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestRejectsNonGetMethods(t *testing.T) {
	h := New(testFS(), "index.html")
	req := httptest.NewRequest(http.MethodPost, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
