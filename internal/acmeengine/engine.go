// Package acmeengine drives certificate issuance and renewal against an
// ACME CA: account bootstrap, a daily renewal sweep over every
// managed host, and the per-host order state machine in order.go.
package acmeengine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mholt/acmez/v3/acme"

	"github.com/vitaliisemenov/alert-history/internal/certstore"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/pkg/metrics"
)

const (
	stageDirectoryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"
	prodDirectoryURL  = "https://acme-v02.api.letsencrypt.org/directory"

	// renewalWindow is how far ahead of expiry a certificate is renewed.
	renewalWindow = 9 * 24 * time.Hour

	// interHostDelay avoids bursting a CA's rate limiter across many hosts
	// in one sweep.
	interHostDelay = 20 * time.Second

	dailyTick = 24 * time.Hour
)

// Config configures one Engine instance, derived from the `acme` block of
// the configuration.
type Config struct {
	Root         string   // directory for account blobs and certificate PEM/key pairs
	ChallengeDir string   // directory serveChallenge reads token files from
	Emails       []string // contact emails for the ACME account
	Type         string   // "stage" | "prod" | "ci"
	CIDirectory  string   // directory URL to use when Type == "ci"
	DisableACME  map[string]bool
}

func (c Config) directoryURL() string {
	switch c.Type {
	case "prod":
		return prodDirectoryURL
	case "ci":
		return c.CIDirectory
	default:
		return stageDirectoryURL
	}
}

// Engine is the long-lived ACME task.
type Engine struct {
	cfg   Config
	store *certstore.Store
	idx   *domainstorage.Index
	log   *slog.Logger
	reg   *metrics.Registry

	client *acme.Client

	mu           sync.Mutex
	account      *acme.Account
	managedHosts map[string][]string // host -> aliases

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New constructs an Engine. It does not contact the CA or start the
// background loop; call Start for that.
func New(cfg Config, store *certstore.Store, idx *domainstorage.Index, log *slog.Logger, reg *metrics.Registry) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		idx:   idx,
		log:   log,
		reg:   reg,
		client: &acme.Client{
			Directory:  cfg.directoryURL(),
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		},
		managedHosts: make(map[string][]string),
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetDisableACME replaces the set of hosts excluded from ACME management,
// called on hot reload before SetManagedHosts so the new exclusions apply
// to the same sweep.
func (e *Engine) SetDisableACME(hosts map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.DisableACME = hosts
}

// SetManagedHosts replaces the host -> alias-list table the engine sweeps,
// called at startup and on hot reload ("union of hosts ... from
// the Version Index that are not in the disable_acme list").
func (e *Engine) SetManagedHosts(hosts map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	filtered := make(map[string][]string, len(hosts))
	for host, aliases := range hosts {
		if e.cfg.DisableACME[host] {
			continue
		}
		filtered[host] = aliases
	}
	e.managedHosts = filtered
}

// Hosts returns a snapshot of the currently managed host -> alias table,
// primarily for tests and status reporting.
func (e *Engine) Hosts() map[string][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(map[string][]string, len(e.managedHosts))
	for h, a := range e.managedHosts {
		cp[h] = a
	}
	return cp
}

// Trigger schedules an out-of-band sweep outside the daily tick. Hot reload
// calls it after refreshing the managed-host set; activating a domain
// version does not trigger a sweep.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Start runs the daily sweep loop in a background goroutine.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(dailyTick)
	defer ticker.Stop()

	e.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep(ctx)
		case <-e.trigger:
			e.sweep(ctx)
		}
	}
}

// sweep issues or renews certificates for every managed host that needs
// one. Failures are logged and retried on the next tick; a single host's
// failure never aborts the sweep.
func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	account := e.account
	hosts := make(map[string][]string, len(e.managedHosts))
	for h, a := range e.managedHosts {
		hosts[h] = a
	}
	e.mu.Unlock()

	if account == nil {
		acc, err := loadOrCreateAccount(ctx, e.client, e.log, e.cfg.Root, e.cfg.Type, e.cfg.directoryURL(), e.cfg.Emails)
		if err != nil {
			e.log.Error("acme account bootstrap failed", "error", err)
			return
		}
		e.mu.Lock()
		e.account = &acc
		e.mu.Unlock()
		account = &acc
	}

	first := true
	for host, aliases := range hosts {
		if !first {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interHostDelay):
			}
		}
		first = false

		if !e.needsRenewal(host) {
			continue
		}
		isNewIssuance := !e.store.Has(host)

		err := e.renewHost(ctx, *account, host, aliases)
		result := "success"
		if err != nil {
			e.log.Error("acme order failed", "host", host, "error", err)
			result = "failure"
		}
		if e.reg != nil {
			if isNewIssuance {
				e.reg.ACMEIssuanceTotal.WithLabelValues(host, result).Inc()
			} else {
				e.reg.ACMERenewalTotal.WithLabelValues(host, result).Inc()
			}
		}
	}
}

// needsRenewal applies the renewal predicate: no certificate
// loaded, not yet valid, expired, or within the renewal window of expiry.
func (e *Engine) needsRenewal(host string) bool {
	cert, ok := e.store.Lookup(host)
	if !ok {
		return true
	}
	leaf := cert.Leaf
	if leaf == nil {
		return true
	}
	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return true
	}
	return leaf.NotAfter.Sub(now) < renewalWindow
}
