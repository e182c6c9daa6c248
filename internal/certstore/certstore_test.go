package certstore

import (
	"crypto/tls"
	"testing"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	store := New()
	fallback := &tls.Certificate{}
	store.SetDefault(fallback)

	cert, err := store.Resolve(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cert != fallback {
		t.Fatal("expected the fallback certificate")
	}
}

func TestResolveFailsWithoutDefault(t *testing.T) {
	store := New()
	if _, err := store.Resolve(&tls.ClientHelloInfo{ServerName: "unknown.example.com"}); err == nil {
		t.Fatal("expected an error when no certificate and no default are configured")
	}
}

func TestInstallAndResolveBySNI(t *testing.T) {
	store := New()
	cert := &tls.Certificate{}
	store.Install(cert, "a.example.com", "b.example.com")

	for _, host := range []string{"a.example.com", "b.example.com"} {
		got, err := store.Resolve(&tls.ClientHelloInfo{ServerName: host})
		if err != nil {
			t.Fatalf("Resolve(%s): %v", host, err)
		}
		if got != cert {
			t.Fatalf("Resolve(%s) returned a different certificate", host)
		}
	}

	if !store.Has("a.example.com") {
		t.Fatal("Has(a.example.com) = false")
	}
	if store.Has("c.example.com") {
		t.Fatal("Has(c.example.com) = true, want false")
	}
}

func TestInstallReplacesWithoutAffectingOtherHosts(t *testing.T) {
	store := New()
	certA := &tls.Certificate{}
	certB := &tls.Certificate{}
	store.Install(certA, "a.example.com")
	store.Install(certB, "b.example.com")

	got, _ := store.Resolve(&tls.ClientHelloInfo{ServerName: "a.example.com"})
	if got != certA {
		t.Fatal("installing b.example.com should not affect a.example.com")
	}
}
