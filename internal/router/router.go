// Package router implements the request router and conditional
// response handling: host/alias resolution, prefix matching, the ACME
// challenge fast path, trailing-slash redirects, CORS, and conditional-GET
// semantics over the active File Cache snapshot.
package router

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/internal/filecache"
	"github.com/vitaliisemenov/alert-history/pkg/metrics"
)

// HostConfig is the per-host serving behavior the router consults.
type HostConfig struct {
	CORS                bool
	HTTPRedirectToHTTPS bool
}

// Router serves public HTTP/HTTPS traffic for every configured host.
type Router struct {
	idx   *domainstorage.Index
	cache *filecache.Cache
	log   *slog.Logger
	reg   *metrics.Registry

	hostConfig   atomic.Pointer[map[string]HostConfig]
	defaultHost  HostConfig
	challengeDir atomic.Pointer[string]
}

// New constructs a Router. challengeDir is the directory that
// /.well-known/acme-challenge/<token> files are read from; only
// SetChallengeDir replaces it, and hot reload does not call SetChallengeDir.
func New(idx *domainstorage.Index, cache *filecache.Cache, log *slog.Logger, reg *metrics.Registry, challengeDir string, defaultHost HostConfig) *Router {
	r := &Router{idx: idx, cache: cache, log: log, reg: reg, defaultHost: defaultHost}
	empty := make(map[string]HostConfig)
	r.hostConfig.Store(&empty)
	r.challengeDir.Store(&challengeDir)
	return r
}

// SetHostConfig atomically replaces the per-host configuration table.
func (r *Router) SetHostConfig(cfg map[string]HostConfig) {
	cp := make(map[string]HostConfig, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	r.hostConfig.Store(&cp)
}

// SetChallengeDir atomically republishes the ACME challenge directory. The
// hot reload coordinator does not call it, so the directory given to New
// stays in effect across reloads.
func (r *Router) SetChallengeDir(dir string) {
	r.challengeDir.Store(&dir)
}

func (r *Router) hostConfigFor(host string) HostConfig {
	table := *r.hostConfig.Load()
	if cfg, ok := table[host]; ok {
		return cfg
	}
	return r.defaultHost
}

// Handler returns the http.Handler for the given scheme ("http" or
// "https"). The ACME fast path and the rest of the pipeline are identical
// across schemes except the HTTP-to-HTTPS redirect, which only fires for
// "http".
func (r *Router) Handler(scheme string) http.Handler {
	m := mux.NewRouter()
	m.PathPrefix("/.well-known/acme-challenge/").HandlerFunc(r.serveChallenge)
	m.PathPrefix("/").HandlerFunc(r.serve(scheme))
	if r.reg != nil {
		return r.reg.InstrumentHandler(m)
	}
	return m
}

func (r *Router) serveChallenge(w http.ResponseWriter, req *http.Request) {
	token := strings.TrimPrefix(req.URL.Path, "/.well-known/acme-challenge/")
	host := hostOf(req)
	dir := *r.challengeDir.Load()
	if dir == "" {
		http.NotFound(w, req)
		return
	}
	path := filepath.Join(dir, host+"_"+token+".token")
	data, err := os.ReadFile(path)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (r *Router) serve(scheme string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		host := r.idx.ResolveAlias(hostOf(req))
		if host == "" {
			http.Error(w, "missing Host header", http.StatusForbidden)
			return
		}

		cfg := r.hostConfigFor(host)

		if scheme == "http" && cfg.HTTPRedirectToHTTPS {
			target := "https://" + host + req.URL.RequestURI()
			http.Redirect(w, req, target, http.StatusMovedPermanently)
			return
		}

		origin := req.Header.Get("Origin")
		if req.Method == http.MethodOptions && origin != "" {
			if !cfg.CORS {
				http.Error(w, "CORS disabled", http.StatusForbidden)
				return
			}
			writeCORSPreflight(w, origin)
			return
		}
		if origin != "" {
			if !cfg.CORS {
				http.Error(w, "CORS disabled", http.StatusForbidden)
				return
			}
			writeCORSSimple(w, origin)
		}

		key, relPath, ok := r.matchPrefix(host, req.URL.Path)
		if !ok {
			http.NotFound(w, req)
			return
		}

		if relPath == "" {
			// Exact "/<prefix>" request with no trailing slash: always
			// redirect to the slash-qualified form before any lookup, so a
			// coincidental index.html at the prefix root doesn't short
			// circuit the redirect.
			http.Redirect(w, req, req.URL.Path+"/", http.StatusMovedPermanently)
			return
		}

		if relPath == "/_version" {
			version, _ := r.idx.Current(key)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte(strconv.Itoa(version)))
			return
		}

		lookupPath := strings.TrimPrefix(relPath, "/")
		if lookupPath == "" {
			lookupPath = "index.html"
		}
		if _, err := domainstorage.SanitizeRelPath(lookupPath); err != nil {
			http.NotFound(w, req)
			return
		}

		entry, ok := r.cache.Lookup(key, lookupPath)
		if !ok {
			if !strings.HasSuffix(relPath, "/") {
				indexPath := strings.TrimPrefix(relPath, "/") + "/index.html"
				if _, ok := r.cache.Lookup(key, indexPath); ok {
					http.Redirect(w, req, req.URL.Path+"/", http.StatusMovedPermanently)
					return
				}
			}
			r.recordCacheMiss(host)
			http.NotFound(w, req)
			return
		}
		r.recordCacheHit(host)

		serveConditional(w, req, entry)
	}
}

func (r *Router) recordCacheHit(host string) {
	if r.reg != nil {
		r.reg.CacheHits.WithLabelValues(host).Inc()
	}
}

func (r *Router) recordCacheMiss(host string) {
	if r.reg != nil {
		r.reg.CacheMisses.WithLabelValues(host).Inc()
	}
}

// matchPrefix finds the longest domain-key prefix for host matching path,
// returning the domain key and the path remainder
// (with the matched prefix stripped, always leading-slash-qualified).
func (r *Router) matchPrefix(host, path string) (domainstorage.DomainKey, string, bool) {
	keys := r.idx.KeysForHost(host)
	if len(keys) == 0 {
		return domainstorage.DomainKey{}, "", false
	}

	var best *domainstorage.DomainKey
	for i := range keys {
		k := keys[i]
		if k.Prefix == "" {
			if best == nil {
				best = &k
			}
			continue
		}
		withSlash := "/" + k.Prefix
		if path == withSlash || strings.HasPrefix(path, withSlash+"/") {
			if best == nil || len(k.Prefix) > len(best.Prefix) {
				best = &k
			}
		}
	}
	if best == nil {
		return domainstorage.DomainKey{}, "", false
	}
	if best.Prefix == "" {
		return *best, path, true
	}
	rest := strings.TrimPrefix(path, "/"+best.Prefix)
	return *best, rest, true
}

func hostOf(req *http.Request) string {
	if req.Host != "" {
		host, _, err := splitHostPort(req.Host)
		if err == nil {
			return host
		}
		return req.Host
	}
	return req.URL.Host
}

func splitHostPort(hostport string) (string, string, error) {
	if !strings.Contains(hostport, ":") {
		return hostport, "", nil
	}
	idx := strings.LastIndex(hostport, ":")
	return hostport[:idx], hostport[idx+1:], nil
}

func writeCORSPreflight(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

func writeCORSSimple(w http.ResponseWriter, origin string) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
}
