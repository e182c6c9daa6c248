// Package certstore implements the Certificate Store & SNI Resolver
// a process-wide host -> certificate map with an optional
// default, consulted by crypto/tls.Config.GetCertificate on every
// handshake.
package certstore

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
)

// Store is a concurrent host -> certificate map. Reads are atomic pointer
// loads; writes replace the whole map, following the same reference-shared,
// pointer-swap discipline as internal/filecache's snapshots.
type Store struct {
	certs   atomic.Pointer[map[string]*tls.Certificate]
	fallback atomic.Pointer[tls.Certificate]
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	empty := make(map[string]*tls.Certificate)
	s.certs.Store(&empty)
	return s
}

// Install replaces the certificate for host (and any aliases), leaving all
// other entries untouched.
func (s *Store) Install(cert *tls.Certificate, hosts ...string) {
	for {
		cur := s.certs.Load()
		next := make(map[string]*tls.Certificate, len(*cur)+len(hosts))
		for k, v := range *cur {
			next[k] = v
		}
		for _, h := range hosts {
			next[h] = cert
		}
		if s.certs.CompareAndSwap(cur, &next) {
			return
		}
	}
}

// SetDefault installs the fallback certificate served when SNI lookup
// misses and no per-host entry matches.
func (s *Store) SetDefault(cert *tls.Certificate) {
	s.fallback.Store(cert)
}

// Resolve implements the tls.Config.GetCertificate contract: lookup by
// ClientHello server name, falling back to the default if present, else
// failing the handshake.
func (s *Store) Resolve(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	certs := *s.certs.Load()
	if cert, ok := certs[hello.ServerName]; ok {
		return cert, nil
	}
	if fallback := s.fallback.Load(); fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no certificate for server name %q and no default configured", hello.ServerName)
}

// TLSConfig returns a *tls.Config wired to Resolve.
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: s.Resolve,
		MinVersion:     tls.VersionTLS12,
	}
}

// Lookup returns the certificate installed for host, if any, without
// falling back to the default (used by callers that need to inspect the
// specific certificate, e.g. the ACME engine's renewal predicate).
func (s *Store) Lookup(host string) (*tls.Certificate, bool) {
	certs := *s.certs.Load()
	cert, ok := certs[host]
	return cert, ok
}

// Has reports whether a certificate is currently installed for host.
func (s *Store) Has(host string) bool {
	certs := *s.certs.Load()
	_, ok := certs[host]
	return ok
}

// Hosts lists every host with an installed certificate.
func (s *Store) Hosts() []string {
	certs := *s.certs.Load()
	hosts := make([]string, 0, len(certs))
	for h := range certs {
		hosts = append(hosts, h)
	}
	return hosts
}
