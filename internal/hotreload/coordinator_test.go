package hotreload

import (
	"io"
	"log/slog"
	"testing"

	"github.com/vitaliisemenov/alert-history/internal/acmeengine"
	"github.com/vitaliisemenov/alert-history/internal/certstore"
	"github.com/vitaliisemenov/alert-history/internal/config"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/internal/filecache"
	"github.com/vitaliisemenov/alert-history/internal/router"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiffHosts(t *testing.T) {
	oldCfg := &config.Config{Domains: []config.DomainConfig{{Domain: "a.example.com"}, {Domain: "b.example.com"}}}
	newCfg := &config.Config{Domains: []config.DomainConfig{{Domain: "b.example.com"}, {Domain: "c.example.com"}}}

	added, removed := diffHosts(oldCfg, newCfg)
	if len(added) != 1 || added[0] != "c.example.com" {
		t.Fatalf("expected c.example.com added, got %v", added)
	}
	if len(removed) != 1 || removed[0] != "a.example.com" {
		t.Fatalf("expected a.example.com removed, got %v", removed)
	}
}

func TestDiffHostsNilOldConfig(t *testing.T) {
	newCfg := &config.Config{Domains: []config.DomainConfig{{Domain: "a.example.com"}}}
	added, removed := diffHosts(nil, newCfg)
	if len(added) != 1 || added[0] != "a.example.com" {
		t.Fatalf("expected a.example.com added, got %v", added)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals against a nil old config, got %v", removed)
	}
}

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	cache, err := filecache.New(filecache.HostPolicy{}, 256)
	if err != nil {
		t.Fatalf("filecache.New: %v", err)
	}
	idx := domainstorage.New(t.TempDir(), nil, domainstorage.Hooks{
		OnFinish:     cache.BuildSnapshot,
		OnActivate:   cache.Publish,
		OnInvalidate: cache.Invalidate,
	})
	cache.BindIndex(idx)
	store := certstore.New()
	acme := acmeengine.New(acmeengine.Config{Root: t.TempDir(), ChallengeDir: t.TempDir(), Type: "stage"}, store, idx, discardTestLogger(), nil)
	return Dependencies{
		Index:     idx,
		Cache:     cache,
		Router:    router.New(idx, cache, discardTestLogger(), nil, t.TempDir(), router.HostConfig{}),
		ACME:      acme,
		CertStore: store,
	}
}

func TestApplyComponentStateFiltersDisabledHosts(t *testing.T) {
	deps := newTestDeps(t)
	c := New("unused.conf", &config.Config{}, deps, discardTestLogger(), nil)

	cfg := &config.Config{
		Cache: config.CacheConfig{MaxSize: 1024},
		HTTPS: &config.HTTPSConfig{ACME: &config.ACMEConfig{DisableACME: []string{"internal.example.com"}}},
		Domains: []config.DomainConfig{
			{Domain: "a.example.com", Alias: []string{"www.a.example.com"}},
			{Domain: "internal.example.com"},
		},
	}

	c.applyComponentState(cfg)

	if deps.Index.ResolveAlias("www.a.example.com") != "a.example.com" {
		t.Fatal("expected alias table to resolve the configured alias")
	}
	hosts := deps.ACME.Hosts()
	if _, ok := hosts["internal.example.com"]; ok {
		t.Fatal("disable_acme host must not be managed")
	}
	if _, ok := hosts["a.example.com"]; !ok {
		t.Fatal("a.example.com should be managed")
	}
}
