package acmeengine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mholt/acmez/v3/acme"
)

const (
	orderPollCap     = 10 * time.Second
	orderPollRetries = 10

	certPollInterval = 1 * time.Second
	certPollRetries  = 20
)

// renewHost drives the order state machine for a single host
// (aliases become additional SAN identifiers), writing the resulting
// certificate and key and installing them into the Certificate Store.
func (e *Engine) renewHost(ctx context.Context, account acme.Account, host string, aliases []string) error {
	names := append([]string{host}, aliases...)
	identifiers := make([]acme.Identifier, len(names))
	for i, n := range names {
		identifiers[i] = acme.Identifier{Type: "dns", Value: n}
	}

	order, err := e.client.NewOrder(ctx, account, acme.Order{Identifiers: identifiers})
	if err != nil {
		return fmt.Errorf("new order: %w", err)
	}

	for _, authzURL := range order.Authorizations {
		if err := e.satisfyAuthorization(ctx, account, authzURL); err != nil {
			return fmt.Errorf("authorization %s: %w", authzURL, err)
		}
	}

	order, err = e.pollOrder(ctx, account, order, []string{"ready", "invalid", "valid"}, orderPollCap, orderPollRetries)
	if err != nil {
		return fmt.Errorf("poll order: %w", err)
	}
	if order.Status == "invalid" {
		return fmt.Errorf("order for %s became invalid", host)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate certificate key: %w", err)
	}
	csr, err := buildCSR(key, names)
	if err != nil {
		return fmt.Errorf("build CSR: %w", err)
	}

	order, err = e.client.FinalizeOrder(ctx, account, order, csr)
	if err != nil {
		return fmt.Errorf("finalize order: %w", err)
	}

	order, err = e.pollOrder(ctx, account, order, []string{"valid", "invalid"}, certPollInterval, certPollRetries)
	if err != nil {
		return fmt.Errorf("poll certificate: %w", err)
	}
	if order.Status != "valid" || order.Certificate == "" {
		return fmt.Errorf("order for %s did not produce a certificate", host)
	}

	chain, err := e.client.GetCertificateChain(ctx, account, order.Certificate)
	if err != nil {
		return fmt.Errorf("download certificate chain: %w", err)
	}

	keyPEM, err := encodeKey(key)
	if err != nil {
		return err
	}
	if err := writeCertFiles(e.cfg.Root, e.cfg.Type, host, chain, []byte(keyPEM)); err != nil {
		return fmt.Errorf("persist certificate: %w", err)
	}

	cert, err := tls.X509KeyPair(chain, []byte(keyPEM))
	if err != nil {
		return fmt.Errorf("parse issued certificate: %w", err)
	}
	e.store.Install(&cert, names...)
	return nil
}

// satisfyAuthorization drives a single authorization's HTTP-01 challenge:
// writes the token file the router's ACME fast path serves, signals
// readiness, then polls until the CA reports a terminal status.
func (e *Engine) satisfyAuthorization(ctx context.Context, account acme.Account, authzURL string) error {
	authz, err := e.client.GetAuthorization(ctx, account, authzURL)
	if err != nil {
		return err
	}
	if authz.Status == "valid" {
		return nil
	}

	var challenge acme.Challenge
	found := false
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			challenge = c
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no http-01 challenge offered for %s", authz.Identifier.Value)
	}

	if err := writeChallengeToken(e.cfg.ChallengeDir, authz.Identifier.Value, challenge.Token, challenge.KeyAuthorization); err != nil {
		return err
	}

	if _, err := e.client.InitiateChallenge(ctx, account, challenge); err != nil {
		return fmt.Errorf("initiate challenge: %w", err)
	}

	backoff := time.Second
	for attempt := 0; attempt < orderPollRetries; attempt++ {
		authz, err = e.client.GetAuthorization(ctx, account, authzURL)
		if err != nil {
			return err
		}
		switch authz.Status {
		case "valid":
			return nil
		case "invalid":
			return fmt.Errorf("authorization for %s was rejected", authz.Identifier.Value)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > orderPollCap {
			backoff = orderPollCap
		}
	}
	return fmt.Errorf("authorization for %s did not complete within %d retries", authz.Identifier.Value, orderPollRetries)
}

// pollOrder re-fetches order with exponential backoff (capped at cap) until
// its status is one of terminal, or returns an error after retries attempts.
func (e *Engine) pollOrder(ctx context.Context, account acme.Account, order acme.Order, terminal []string, cap time.Duration, retries int) (acme.Order, error) {
	backoff := cap / time.Duration(retries)
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	for attempt := 0; attempt < retries; attempt++ {
		for _, s := range terminal {
			if order.Status == s {
				return order, nil
			}
		}
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > cap {
			backoff = cap
		}
		next, err := e.client.GetOrder(ctx, account, order.URL)
		if err != nil {
			return order, err
		}
		order = next
	}
	for _, s := range terminal {
		if order.Status == s {
			return order, nil
		}
	}
	return order, fmt.Errorf("order did not reach a terminal status within %d retries", retries)
}

func writeChallengeToken(dir, host, token, keyAuthorization string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, host+"_"+token+".token")
	return os.WriteFile(path, []byte(keyAuthorization), 0o644)
}

func writeCertFiles(root, env, host string, chainPEM, keyPEM []byte) error {
	dir := filepath.Join(root, "acme")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	certPath := filepath.Join(dir, fmt.Sprintf("certificate_%s_%s.pem", env, host))
	keyPath := filepath.Join(dir, fmt.Sprintf("certificate_%s_%s.key", env, host))
	if err := atomicWrite(certPath, chainPEM); err != nil {
		return err
	}
	return atomicWrite(keyPath, keyPEM)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// buildCSR returns the DER-encoded certificate request the ACME finalize
// call expects (the protocol carries the raw DER, base64url-encoded, not a
// PEM block).
func buildCSR(key *ecdsa.PrivateKey, names []string) ([]byte, error) {
	template := x509.CertificateRequest{DNSNames: names}
	return x509.CreateCertificateRequest(rand.Reader, &template, key)
}
