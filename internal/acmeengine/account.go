package acmeengine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/acmez/v3/acme"
)

// accountRecord is the on-disk shape of a persisted ACME account: the
// account key plus whatever the CA returned on registration. One record
// exists per (environment, emails) tuple.
type accountRecord struct {
	Environment string   `json:"environment"`
	Emails      []string `json:"emails"`
	Location    string   `json:"location"`
	KeyPEM      string   `json:"key_pem"`
}

// accountFileName mirrors the naming scheme `account_<env>_<digest>` where
// digest is a URL-safe base64 of sha256(directoryURL + sorted emails), so
// rotating the email list or pointing at a different CA creates a fresh
// account file rather than silently reusing the wrong one.
func accountFileName(env, directoryURL string, emails []string) string {
	sorted := append([]string(nil), emails...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(directoryURL + "|" + strings.Join(sorted, ",")))
	digest := base64.RawURLEncoding.EncodeToString(h[:12])
	return fmt.Sprintf("account_%s_%s", env, digest)
}

// loadOrCreateAccount reads the account record for (env, directoryURL,
// emails) from root/acme, registering a brand-new one with the CA on first use.
func loadOrCreateAccount(ctx context.Context, client *acme.Client, log *slog.Logger, root, env, directoryURL string, emails []string) (acme.Account, error) {
	accountDir := filepath.Join(root, "acme")
	path := filepath.Join(accountDir, accountFileName(env, directoryURL, emails)+".json")

	if data, err := os.ReadFile(path); err == nil {
		var rec accountRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return acme.Account{}, fmt.Errorf("parse account blob %s: %w", path, err)
		}
		key, err := decodeKey(rec.KeyPEM)
		if err != nil {
			return acme.Account{}, fmt.Errorf("decode account key: %w", err)
		}
		return acme.Account{
			PrivateKey: key,
			Location:   rec.Location,
			Contact:    contactsFromEmails(emails),
		}, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return acme.Account{}, fmt.Errorf("generate account key: %w", err)
	}

	account := acme.Account{
		PrivateKey:           key,
		Contact:              contactsFromEmails(emails),
		TermsOfServiceAgreed: true,
	}
	registered, err := client.NewAccount(ctx, account)
	if err != nil {
		return acme.Account{}, fmt.Errorf("register ACME account: %w", err)
	}

	if err := saveAccount(accountDir, path, env, emails, registered, key); err != nil {
		log.Warn("account registered but could not be persisted; will re-register next restart", "error", err)
	}
	return registered, nil
}

func saveAccount(root, path, env string, emails []string, account acme.Account, key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	keyPEM, err := encodeKey(key)
	if err != nil {
		return err
	}
	rec := accountRecord{Environment: env, Emails: emails, Location: account.Location, KeyPEM: keyPEM}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func contactsFromEmails(emails []string) []string {
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = "mailto:" + e
	}
	return out
}

func encodeKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func decodeKey(data string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in account key")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
