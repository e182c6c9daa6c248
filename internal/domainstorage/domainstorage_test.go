package domainstorage

import (
	"os"
	"testing"
)

func newTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	root := t.TempDir()
	idx := New(root, nil, Hooks{})
	if err := idx.BootScan(); err != nil {
		t.Fatalf("BootScan: %v", err)
	}
	return idx, root
}

func TestNewUploadPositionAllocatesSequentially(t *testing.T) {
	idx, _ := newTestIndex(t)
	key := DomainKey{Host: "a.example.com", Prefix: "27"}

	v1, status, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}
	if v1 != 1 || status != StatusUploading {
		t.Fatalf("got (%d, %v), want (1, Uploading)", v1, status)
	}

	// Repeated call while still Uploading returns the same version.
	v1again, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition (repeat): %v", err)
	}
	if v1again != v1 {
		t.Fatalf("repeat NewUploadPosition = %d, want %d", v1again, v1)
	}

	if err := idx.SetStatus(key, v1, StatusFinish); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	v2, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition after finish: %v", err)
	}
	if v2 != 2 {
		t.Fatalf("NewUploadPosition after finish = %d, want 2", v2)
	}
}

func TestRootPrefixMutualExclusion(t *testing.T) {
	idx, _ := newTestIndex(t)

	if _, _, err := idx.NewUploadPosition(DomainKey{Host: "a.example.com", Prefix: "27"}); err != nil {
		t.Fatalf("seed prefixed domain: %v", err)
	}

	_, _, err := idx.NewUploadPosition(DomainKey{Host: "a.example.com"})
	if err == nil {
		t.Fatal("expected Conflict creating a root domain when a prefixed domain exists")
	}
}

func TestActivateRequiresFinishedVersion(t *testing.T) {
	idx, _ := newTestIndex(t)
	key := DomainKey{Host: "a.example.com"}

	v, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}

	if _, err := idx.Activate(key, v); err == nil {
		t.Fatal("expected error activating an Uploading version")
	}

	if err := idx.SetStatus(key, v, StatusFinish); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	activated, err := idx.Activate(key, v)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if activated != v {
		t.Fatalf("Activate returned %d, want %d", activated, v)
	}

	current, ok := idx.Current(key)
	if !ok || current != v {
		t.Fatalf("Current() = (%d, %v), want (%d, true)", current, ok, v)
	}
}

func TestDeleteRetainsHighestNAndNeverDeletesCurrent(t *testing.T) {
	idx, _ := newTestIndex(t)
	key := DomainKey{Host: "a.example.com"}

	var versions []int
	for i := 0; i < 5; i++ {
		v, _, err := idx.NewUploadPosition(key)
		if err != nil {
			t.Fatalf("NewUploadPosition: %v", err)
		}
		if err := idx.SetStatus(key, v, StatusFinish); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		versions = append(versions, v)
	}
	// Activate an older version so it's protected from deletion even though
	// it isn't among the N highest.
	if _, err := idx.Activate(key, versions[1]); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	deleted, err := idx.Delete(key, 2)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	info, err := idx.Status(key)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}

	remaining := map[int]bool{}
	for _, v := range info.Versions {
		remaining[v.Version] = true
	}
	if !remaining[versions[1]] {
		t.Fatal("current version was deleted")
	}
	if !remaining[versions[3]] || !remaining[versions[4]] {
		t.Fatal("two highest versions were not retained")
	}
	for _, v := range deleted {
		if v == versions[1] {
			t.Fatal("Delete reported the current version as deleted")
		}
	}
}

func TestSanitizeRelPathRejectsEscapes(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"clean relative path", "index.html", false},
		{"nested path", "assets/app.js", false},
		{"leading slash stripped", "/index.html", false},
		{"parent traversal", "../etc/passwd", true},
		{"embedded traversal", "assets/../../etc/passwd", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SanitizeRelPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeRelPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestBootScanRestoresCurrent(t *testing.T) {
	root := t.TempDir()
	idx := New(root, nil, Hooks{})
	if err := idx.BootScan(); err != nil {
		t.Fatalf("BootScan: %v", err)
	}

	key := DomainKey{Host: "a.example.com"}
	v, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}
	if err := idx.SetStatus(key, v, StatusFinish); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := idx.Activate(key, v); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	reopened := New(root, nil, Hooks{})
	if err := reopened.BootScan(); err != nil {
		t.Fatalf("BootScan (reopen): %v", err)
	}
	current, ok := reopened.Current(key)
	if !ok || current != v {
		t.Fatalf("after reboot Current() = (%d, %v), want (%d, true)", current, ok, v)
	}
}

func TestPutFileRejectsPathEscape(t *testing.T) {
	idx, _ := newTestIndex(t)
	key := DomainKey{Host: "a.example.com"}

	v, _, err := idx.NewUploadPosition(key)
	if err != nil {
		t.Fatalf("NewUploadPosition: %v", err)
	}

	if err := idx.PutFile(key, v, "../escape.txt", []byte("x")); err == nil {
		t.Fatal("expected error writing a path-escaping file")
	}

	if err := idx.PutFile(key, v, "index.html", []byte("hi")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	dir := idx.VersionDir(key, v)
	if _, err := os.Stat(dir + "/index.html"); err != nil {
		t.Fatalf("expected file written at %s/index.html: %v", dir, err)
	}
}
