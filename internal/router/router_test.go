package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/internal/filecache"
)

func newTestRouter(t *testing.T, aliasTable map[string]string) (*Router, *domainstorage.Index) {
	t.Helper()
	root := t.TempDir()
	cache, err := filecache.New(filecache.HostPolicy{MaxInlineSize: 1 << 20, Compression: true}, 1024)
	if err != nil {
		t.Fatalf("filecache.New: %v", err)
	}
	idx := domainstorage.New(root, aliasTable, domainstorage.Hooks{
		OnFinish:     cache.BuildSnapshot,
		OnActivate:   cache.Publish,
		OnInvalidate: cache.Invalidate,
	})
	cache.BindIndex(idx)
	if err := idx.BootScan(); err != nil {
		t.Fatalf("BootScan: %v", err)
	}
	r := New(idx, cache, nil, nil, t.TempDir(), HostConfig{})
	return r, idx
}

func publish(t *testing.T, idx *domainstorage.Index, key domainstorage.DomainKey, files map[string]string) int {
	t.Helper()
	v, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}
	for path, content := range files {
		if err := idx.PutFile(key, v, path, []byte(content)); err != nil {
			t.Fatalf("PutFile(%s): %v", path, err)
		}
	}
	if err := idx.SetStatus(key, v, domainstorage.StatusFinish); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := idx.Activate(key, v); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return v
}

func TestServeRootDomain(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = "a.example.com"
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "hi" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestServePrefixedDomainAndVersionProbe(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com", Prefix: "27"}
	v := publish(t, idx, key, map[string]string{"index.html": "v2"})

	req := httptest.NewRequest(http.MethodGet, "/27/index.html", nil)
	req.Host = "a.example.com"
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "v2" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/_version", nil)
	req2.Host = "a.example.com"
	w2 := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w2, req2)
	// /_version at the host root doesn't match the /27 prefix, so without a
	// root domain key this 404s — confirms prefix matching is strict.
	if w2.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404 for unmatched root path", w2.Code)
	}

	req3 := httptest.NewRequest(http.MethodGet, "/27/_version", nil)
	req3.Host = "a.example.com"
	w3 := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK || w3.Body.String() != "1" {
		t.Fatalf("version probe: status=%d body=%q want 1 (version=%d)", w3.Code, w3.Body.String(), v)
	}
}

func TestTrailingSlashRedirect(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com", Prefix: "27"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})

	req := httptest.NewRequest(http.MethodGet, "/27", nil)
	req.Host = "a.example.com"
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status=%d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/27/" {
		t.Fatalf("Location = %q, want /27/", loc)
	}
}

func TestAliasResolution(t *testing.T) {
	r, idx := newTestRouter(t, map[string]string{"b.example.com": "a.example.com"})
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = "b.example.com"
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "hi" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestHTTPRedirectToHTTPS(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})
	r.SetHostConfig(map[string]HostConfig{"a.example.com": {HTTPRedirectToHTTPS: true}})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = "a.example.com"
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status=%d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://a.example.com/index.html" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestCORSDisabledRejectsOrigin(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = "a.example.com"
	req.Header.Set("Origin", "https://other.example.com")
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403 when CORS disabled", w.Code)
	}
}

func TestCORSEnabledEchoesOrigin(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})
	r.SetHostConfig(map[string]HostConfig{"a.example.com": {CORS: true}})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = "a.example.com"
	req.Header.Set("Origin", "https://other.example.com")
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://other.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected Access-Control-Allow-Credentials: true")
	}
}

func TestCORSPreflight(t *testing.T) {
	r, idx := newTestRouter(t, nil)
	key := domainstorage.DomainKey{Host: "a.example.com"}
	publish(t, idx, key, map[string]string{"index.html": "hi"})
	r.SetHostConfig(map[string]HostConfig{"a.example.com": {CORS: true}})

	req := httptest.NewRequest(http.MethodOptions, "/index.html", nil)
	req.Host = "a.example.com"
	req.Header.Set("Origin", "https://other.example.com")
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, HEAD, OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "3600" {
		t.Fatalf("Access-Control-Max-Age = %q", got)
	}
}

func TestMissingHostReturnsForbidden(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Host = ""
	req.URL.Host = ""
	w := httptest.NewRecorder()
	r.Handler("http").ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", w.Code)
	}
}
