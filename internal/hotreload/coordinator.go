// Package hotreload implements the hot reload pipeline:
// re-read configuration, rebuild the File Cache and alias-table state,
// refresh the ACME engine's managed-host set, then gracefully swap the
// HTTP/HTTPS listeners, in six phases: load/validate/diff/apply/reload/
// health-check.
package hotreload

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/acmeengine"
	"github.com/vitaliisemenov/alert-history/internal/certstore"
	"github.com/vitaliisemenov/alert-history/internal/config"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/internal/filecache"
	"github.com/vitaliisemenov/alert-history/internal/router"
	"github.com/vitaliisemenov/alert-history/pkg/metrics"
)

// Dependencies are the long-lived components a reload rewires.
type Dependencies struct {
	Index     *domainstorage.Index
	Cache     *filecache.Cache
	Router    *router.Router
	ACME      *acmeengine.Engine
	CertStore *certstore.Store
}

// listenerPair is the currently bound HTTP and HTTPS servers, shut down as
// a unit on the next reload. Process exit does not drain them.
type listenerPair struct {
	http  *http.Server
	https *http.Server
}

// Coordinator owns the config path and the currently bound listeners, and
// drives reloads triggered by SIGHUP.
type Coordinator struct {
	configPath string
	deps       Dependencies
	log        *slog.Logger
	reg        *metrics.Registry

	current  atomic.Pointer[config.Config]
	servers  atomic.Pointer[listenerPair]
	drainTimeout time.Duration
}

// New constructs a Coordinator already serving with initialCfg; Reload can
// be called any number of times afterward.
func New(configPath string, initialCfg *config.Config, deps Dependencies, log *slog.Logger, reg *metrics.Registry) *Coordinator {
	c := &Coordinator{configPath: configPath, deps: deps, log: log, reg: reg, drainTimeout: 30 * time.Second}
	c.current.Store(initialCfg)
	return c
}

// Bootstrap starts the initial HTTP/HTTPS listeners for cfg without going
// through the reload diff machinery (phases 4-5 only).
func (c *Coordinator) Bootstrap(handler func(scheme string) http.Handler) error {
	cfg := c.current.Load()
	pair, err := c.startListeners(cfg, handler)
	if err != nil {
		return err
	}
	c.servers.Store(pair)
	c.applyComponentState(cfg)
	return nil
}

// Reload re-reads configuration from configPath and executes the six-phase
// pipeline. On any failure the previously bound listeners keep serving
// ("the old listeners continue serving; the operator must
// restart the process after a failed reload").
func (c *Coordinator) Reload(ctx context.Context, handler func(scheme string) http.Handler) error {
	start := time.Now()
	result := "success"
	defer func() {
		if c.reg != nil {
			c.reg.ReloadDuration.Observe(time.Since(start).Seconds())
			c.reg.ReloadTotal.WithLabelValues(result).Inc()
		}
	}()

	// Phase 1: load & parse.
	newCfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		result = "failure"
		return fmt.Errorf("phase 1 (load): %w", err)
	}

	// Phase 2: validation (LoadConfig already validates; re-run explicitly
	// so a future relaxation of LoadConfig doesn't silently skip this step).
	if err := newCfg.Validate(); err != nil {
		result = "failure"
		return fmt.Errorf("phase 2 (validate): %w", err)
	}

	// Phase 3: diff, logged for operators; the pipeline always applies
	// rather than skip on a no-op diff, since listener rebinding has to
	// happen regardless of whether domains changed, to support
	// address/port edits.
	oldCfg := c.current.Load()
	added, removed := diffHosts(oldCfg, newCfg)
	c.log.Info("phase 3 (diff) complete", "hosts_added", added, "hosts_removed", removed)

	// Phase 4: atomic apply — bind new listeners before touching anything
	// shared, so a bind failure leaves the old listeners untouched.
	newPair, err := c.startListeners(newCfg, handler)
	if err != nil {
		result = "failure"
		return fmt.Errorf("phase 4 (apply): %w", err)
	}

	// Phase 5: component reload.
	c.applyComponentState(newCfg)
	c.current.Store(newCfg)
	oldPair := c.servers.Swap(newPair)

	// Phase 6: health check — confirm the new config bound at least one
	// listener before retiring the old ones; no connection is attempted.
	if err := probeListeners(newPair); err != nil {
		result = "failure"
		c.servers.Store(oldPair)
		c.current.Store(oldCfg)
		shutdown(newPair, c.drainTimeout)
		return fmt.Errorf("phase 6 (health check): %w", err)
	}

	if oldPair != nil {
		go shutdown(oldPair, c.drainTimeout)
	}
	return nil
}

// applyComponentState rebuilds the File Cache policy table, the alias
// table, the router's per-host config, and the ACME engine's managed-host
// set from cfg (plus every host in the Version Index), then triggers an
// out-of-band ACME sweep for any new host.
func (c *Coordinator) applyComponentState(cfg *config.Config) {
	policies := make(map[domainstorage.DomainKey]filecache.HostPolicy)
	hostConfig := make(map[string]router.HostConfig)
	managedHosts := make(map[string][]string)

	defaultPolicy := filecache.HostPolicy{
		MaxInlineSize:          cfg.Cache.MaxSize,
		Compression:            cfg.Cache.Compression,
		CompressibleExtensions: config.DefaultCompressibleExtensions,
		ClientCache:            clientCachePolicy(cfg.Cache),
	}

	for _, d := range cfg.Domains {
		key := domainstorage.DomainKey{Host: d.Domain}
		policy := defaultPolicy
		if d.Cache != nil {
			policy = filecache.HostPolicy{
				MaxInlineSize:          d.Cache.MaxSize,
				Compression:            d.Cache.Compression,
				CompressibleExtensions: config.DefaultCompressibleExtensions,
				ClientCache:            clientCachePolicy(*d.Cache),
			}
		}
		policies[key] = policy

		cors := cfg.CORS
		if d.CORS != nil {
			cors = *d.CORS
		}
		redirect := false
		if d.HTTPS != nil {
			redirect = d.HTTPS.HTTPRedirectToHTTPS
		} else if cfg.HTTPS != nil {
			redirect = cfg.HTTPS.HTTPRedirectToHTTPS
		}
		hostConfig[d.Domain] = router.HostConfig{CORS: cors, HTTPRedirectToHTTPS: redirect}
		managedHosts[d.Domain] = d.Alias
	}
	if c.deps.Index != nil {
		for _, info := range c.deps.Index.AllStatus() {
			host := domainstorage.ParseDomainKey(info.Domain).Host
			if _, ok := managedHosts[host]; !ok {
				managedHosts[host] = nil
			}
		}
	}

	if c.deps.Cache != nil {
		c.deps.Cache.SetPolicies(policies)
	}
	if c.deps.Router != nil {
		c.deps.Router.SetHostConfig(hostConfig)
	}
	if c.deps.Index != nil {
		c.deps.Index.SetAliasTable(cfg.AliasTable())
	}
	if c.deps.ACME != nil {
		disabled := map[string]bool{}
		if cfg.HTTPS != nil && cfg.HTTPS.ACME != nil {
			for _, h := range cfg.HTTPS.ACME.DisableACME {
				disabled[h] = true
			}
		}
		c.deps.ACME.SetDisableACME(disabled)
		c.deps.ACME.SetManagedHosts(managedHosts)
		c.deps.ACME.Trigger()
	}
}

func clientCachePolicy(cache config.CacheConfig) filecache.ClientCachePolicy {
	policy := make(filecache.ClientCachePolicy)
	for _, entry := range cache.ClientCache {
		for _, ext := range entry.ExtensionNames {
			policy[ext] = entry.Expire
		}
	}
	return policy
}

// diffHosts reports which domains were added or removed between two
// configs, purely for the phase-3 log line.
func diffHosts(oldCfg, newCfg *config.Config) (added, removed []string) {
	oldHosts := make(map[string]bool)
	if oldCfg != nil {
		for _, d := range oldCfg.Domains {
			oldHosts[d.Domain] = true
		}
	}
	newHosts := make(map[string]bool)
	for _, d := range newCfg.Domains {
		newHosts[d.Domain] = true
		if !oldHosts[d.Domain] {
			added = append(added, d.Domain)
		}
	}
	if oldCfg != nil {
		for _, d := range oldCfg.Domains {
			if !newHosts[d.Domain] {
				removed = append(removed, d.Domain)
			}
		}
	}
	return added, removed
}

// startListeners binds fresh HTTP and HTTPS listeners for cfg using
// SO_REUSEPORT, without touching any currently-running pair.
func (c *Coordinator) startListeners(cfg *config.Config, handler func(scheme string) http.Handler) (*listenerPair, error) {
	pair := &listenerPair{}

	if cfg.HTTP != nil {
		addr := net.JoinHostPort(cfg.HTTP.Addr, fmt.Sprintf("%d", cfg.HTTP.Port))
		ln, err := listenReusePort("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("bind http %s: %w", addr, err)
		}
		srv := &http.Server{Handler: handler("http")}
		pair.http = srv
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("http listener exited", "error", err)
			}
		}()
	}

	if cfg.HTTPS != nil {
		addr := net.JoinHostPort(cfg.HTTPS.Addr, fmt.Sprintf("%d", cfg.HTTPS.Port))
		ln, err := listenReusePort("tcp", addr)
		if err != nil {
			if pair.http != nil {
				shutdown(pair, c.drainTimeout)
			}
			return nil, fmt.Errorf("bind https %s: %w", addr, err)
		}
		tlsLn := tls.NewListener(ln, c.deps.CertStore.TLSConfig())
		srv := &http.Server{Handler: handler("https")}
		pair.https = srv
		go func() {
			if err := srv.Serve(tlsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error("https listener exited", "error", err)
			}
		}()
	}

	return pair, nil
}

func probeListeners(pair *listenerPair) error {
	if pair.http == nil && pair.https == nil {
		return fmt.Errorf("no listeners configured")
	}
	return nil
}

func shutdown(pair *listenerPair, timeout time.Duration) {
	if pair == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if pair.http != nil {
		_ = pair.http.Shutdown(ctx)
	}
	if pair.https != nil {
		_ = pair.https.Shutdown(ctx)
	}
}
