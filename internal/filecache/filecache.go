// Package filecache builds and serves in-memory snapshots of a version's
// files: small files are read inline (optionally with a
// precompressed gzip copy), large files are served by reopening the
// on-disk handle at request time.
package filecache

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

// DefaultCompressibleExtensions mirrors internal/config's default set; kept
// local so filecache has no config import cycle.
var DefaultCompressibleExtensions = map[string]bool{
	"html": true,
	"js":   true,
	"css":  true,
	"json": true,
	"icon": true,
}

// ClientCachePolicy maps a file extension to a max-age. A zero duration
// means "no-cache"; an absent extension emits no Cache-Control header.
type ClientCachePolicy map[string]time.Duration

// HostPolicy is the per-host snapshot-construction configuration.
type HostPolicy struct {
	MaxInlineSize int64
	Compression   bool
	CompressibleExtensions map[string]bool
	ClientCache   ClientCachePolicy
}

// FileEntry is one served artifact. Body is populated for Inline entries;
// for OnDisk entries Body is nil and Path names the file to reopen per
// request.
type FileEntry struct {
	RelPath      string
	Length       int64
	MD5          string
	MimeType     string
	ModTime      time.Time
	CacheControl string

	OnDisk bool
	Path   string // absolute path, set when OnDisk

	Body           []byte // set when inline
	CompressedBody []byte // set when inline and compressible
}

// Snapshot is an immutable map of served files for one (host, prefix,
// version). Snapshots are reference-shared; replacement is a pointer swap.
type Snapshot struct {
	Version int
	Files   map[string]*FileEntry
}

// domainCache holds the active and staged snapshots for one domain key.
type domainCache struct {
	active atomic.Pointer[Snapshot]
	staged atomic.Pointer[Snapshot]
}

// Cache is the process-wide File Cache.
type Cache struct {
	handles *lru.Cache[string, struct{}] // bounds OnDisk handle metadata tracked for GC/metrics

	policies atomic.Pointer[map[domainstorage.DomainKey]HostPolicy]
	defaultPolicy HostPolicy

	byKey atomicMap

	idx atomic.Pointer[domainstorage.Index] // bound once at startup via BindIndex
}

// BindIndex records the Index that BuildSnapshot/Publish resolve version
// directories against. The cache and the index are constructed separately
// (the index's Hooks reference the cache's methods directly), so binding
// happens once, right after domainstorage.New returns.
func (c *Cache) BindIndex(idx *domainstorage.Index) {
	c.idx.Store(idx)
}

// atomicMap is a minimal concurrent map of domain key -> *domainCache,
// grown lazily; the value pointers themselves are swapped atomically so
// reads never block on a writer building a new snapshot.
type atomicMap struct {
	m atomic.Pointer[map[domainstorage.DomainKey]*domainCache]
}

func (a *atomicMap) getOrCreate(key domainstorage.DomainKey) *domainCache {
	for {
		cur := a.m.Load()
		if cur != nil {
			if dc, ok := (*cur)[key]; ok {
				return dc
			}
		}
		next := make(map[domainstorage.DomainKey]*domainCache)
		if cur != nil {
			for k, v := range *cur {
				next[k] = v
			}
		}
		dc := &domainCache{}
		next[key] = dc
		if cur == nil {
			if a.m.CompareAndSwap(nil, &next) {
				return dc
			}
		} else if a.m.CompareAndSwap(cur, &next) {
			return dc
		}
		// lost the race, retry
	}
}

func (a *atomicMap) get(key domainstorage.DomainKey) (*domainCache, bool) {
	cur := a.m.Load()
	if cur == nil {
		return nil, false
	}
	dc, ok := (*cur)[key]
	return dc, ok
}

// New constructs a Cache with a bounded metadata cache of onDiskHandleLimit
// entries (golang-lru/v2), used to avoid unbounded growth of per-file stat
// metadata when serving very large version trees.
func New(defaultPolicy HostPolicy, onDiskHandleLimit int) (*Cache, error) {
	if onDiskHandleLimit <= 0 {
		onDiskHandleLimit = 4096
	}
	handles, err := lru.New[string, struct{}](onDiskHandleLimit)
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}
	empty := make(map[domainstorage.DomainKey]HostPolicy)
	c := &Cache{handles: handles, defaultPolicy: defaultPolicy}
	c.policies.Store(&empty)
	return c, nil
}

// SetPolicies atomically replaces the per-domain-key policy table, used by
// hot reload.
func (c *Cache) SetPolicies(policies map[domainstorage.DomainKey]HostPolicy) {
	cp := make(map[domainstorage.DomainKey]HostPolicy, len(policies))
	for k, v := range policies {
		cp[k] = v
	}
	c.policies.Store(&cp)
}

func (c *Cache) policyFor(key domainstorage.DomainKey) HostPolicy {
	policies := *c.policies.Load()
	if p, ok := policies[key]; ok {
		return p
	}
	return c.defaultPolicy
}

// BuildSnapshot walks the version directory for key/version and constructs
// a Snapshot, satisfying domainstorage.Hooks.OnFinish. The snapshot is
// staged, not published: Publish makes it the active snapshot.
func (c *Cache) BuildSnapshot(key domainstorage.DomainKey, version int) error {
	dir := c.idx.Load().VersionDir(key, version)
	policy := c.policyFor(key)

	files := make(map[string]*FileEntry)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == ".finish" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		entry, err := c.buildEntry(path, rel, info, policy)
		if err != nil {
			return err
		}
		files[rel] = entry
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk version dir %s: %w", dir, err)
	}

	dc := c.byKey.getOrCreate(key)
	dc.staged.Store(&Snapshot{Version: version, Files: files})
	return nil
}

func (c *Cache) buildEntry(path, rel string, info os.FileInfo, policy HostPolicy) (*FileEntry, error) {
	ext := strings.TrimPrefix(filepath.Ext(rel), ".")
	mimeType := mime.TypeByExtension(filepath.Ext(rel))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	entry := &FileEntry{
		RelPath:      rel,
		Length:       info.Size(),
		MimeType:     mimeType,
		ModTime:      info.ModTime(),
		CacheControl: clientCacheControl(policy.ClientCache, ext),
	}

	maxInline := policy.MaxInlineSize
	if info.Size() > maxInline {
		entry.OnDisk = true
		entry.Path = path
		c.handles.Add(path, struct{}{})
		digest, err := md5File(path)
		if err != nil {
			return nil, err
		}
		entry.MD5 = digest
		return entry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entry.Body = data
	sum := md5.Sum(data)
	entry.MD5 = fmt.Sprintf("%x", sum)

	compressible := policy.CompressibleExtensions
	if compressible == nil {
		compressible = DefaultCompressibleExtensions
	}
	if policy.Compression && compressible[ext] {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		entry.CompressedBody = buf.Bytes()
	}
	return entry, nil
}

func clientCacheControl(policy ClientCachePolicy, ext string) string {
	age, ok := policy[ext]
	if !ok {
		return ""
	}
	if age <= 0 {
		return "no-cache"
	}
	return fmt.Sprintf("public, max-age=%d", int(age.Seconds()))
}

// Publish makes the staged snapshot for version the active one for key,
// satisfying domainstorage.Hooks.OnActivate. If no staged snapshot matches
// version (e.g. on boot-scan replay) it rebuilds one first.
func (c *Cache) Publish(key domainstorage.DomainKey, version int) error {
	dc := c.byKey.getOrCreate(key)
	staged := dc.staged.Load()
	if staged == nil || staged.Version != version {
		if err := c.BuildSnapshot(key, version); err != nil {
			return err
		}
		staged = dc.staged.Load()
	}
	dc.active.Store(staged)
	return nil
}

// Invalidate drops any staged snapshot matching version, satisfying
// domainstorage.Hooks.OnInvalidate.
func (c *Cache) Invalidate(key domainstorage.DomainKey, version int) error {
	dc, ok := c.byKey.get(key)
	if !ok {
		return nil
	}
	if staged := dc.staged.Load(); staged != nil && staged.Version == version {
		dc.staged.Store(nil)
	}
	return nil
}

// Active returns the currently published snapshot for key, if any.
func (c *Cache) Active(key domainstorage.DomainKey) (*Snapshot, bool) {
	dc, ok := c.byKey.get(key)
	if !ok {
		return nil, false
	}
	snap := dc.active.Load()
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// Lookup resolves relPath against the active snapshot for key.
func (c *Cache) Lookup(key domainstorage.DomainKey, relPath string) (*FileEntry, bool) {
	snap, ok := c.Active(key)
	if !ok {
		return nil, false
	}
	entry, ok := snap.Files[relPath]
	return entry, ok
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
