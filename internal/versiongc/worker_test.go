package versiongc

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

func discardTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCadence(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
	}{
		{"@hourly", time.Hour},
		{"@daily", 24 * time.Hour},
		{"@midnight", 24 * time.Hour},
		{"@weekly", 7 * 24 * time.Hour},
		{"0 3 * * *", defaultInterval},
		{"", defaultInterval},
	}
	for _, c := range cases {
		t.Run(c.expr, func(t *testing.T) {
			if got := parseCadence(c.expr); got != c.want {
				t.Fatalf("parseCadence(%q) = %v, want %v", c.expr, got, c.want)
			}
		})
	}
}

func TestSweepPrunesAcrossAllDomains(t *testing.T) {
	idx := domainstorage.New(t.TempDir(), nil, domainstorage.Hooks{})

	for _, host := range []string{"a.example.com", "b.example.com"} {
		key := domainstorage.ParseDomainKey(host)
		for i := 0; i < 3; i++ {
			v, _, err := idx.NewUploadPosition(key)
			if err != nil {
				t.Fatalf("NewUploadPosition(%s): %v", host, err)
			}
			if err := idx.SetStatus(key, v, domainstorage.StatusFinish); err != nil {
				t.Fatalf("SetStatus(%s, %d): %v", host, v, err)
			}
		}
	}

	w := New(idx, "@hourly", 1, discardTestLogger())
	w.sweep()

	for _, host := range []string{"a.example.com", "b.example.com"} {
		key := domainstorage.ParseDomainKey(host)
		info, err := idx.Status(key)
		if err != nil {
			t.Fatalf("Status(%s): %v", host, err)
		}
		if len(info.Versions) != 1 {
			t.Fatalf("%s: expected 1 version retained, got %d (%+v)", host, len(info.Versions), info.Versions)
		}
		if info.Versions[0].Version != 3 {
			t.Fatalf("%s: expected version 3 retained, got %d", host, info.Versions[0].Version)
		}
	}
}

func TestSweepLeavesOneActiveDomainAlone(t *testing.T) {
	idx := domainstorage.New(t.TempDir(), nil, domainstorage.Hooks{})
	key := domainstorage.ParseDomainKey("a.example.com")
	v, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}
	if err := idx.SetStatus(key, v, domainstorage.StatusFinish); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := idx.Activate(key, v); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	w := New(idx, "@daily", 1, discardTestLogger())
	w.sweep()

	info, err := idx.Status(key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(info.Versions) != 1 || info.Versions[0].Version != v {
		t.Fatalf("expected the active version retained untouched, got %+v", info.Versions)
	}
}

func TestStartStop(t *testing.T) {
	idx := domainstorage.New(t.TempDir(), nil, domainstorage.Hooks{})
	w := New(idx, "@hourly", 1, discardTestLogger())
	w.interval = time.Millisecond

	w.Start(t.Context())
	time.Sleep(5 * time.Millisecond)
	w.Stop()
}
