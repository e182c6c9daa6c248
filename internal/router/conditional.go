package router

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/vitaliisemenov/alert-history/internal/filecache"
)

// etag computes "<mtime_unix_hex>-<len_hex>".
func etag(entry *filecache.FileEntry) string {
	return fmt.Sprintf(`"%x-%x"`, entry.ModTime.Unix(), entry.Length)
}

// serveConditional applies ETag/Last-Modified validators, Range, and
// compression negotiation, then writes the response body.
func serveConditional(w http.ResponseWriter, req *http.Request, entry *filecache.FileEntry) {
	tag := etag(entry)
	lastModified := entry.ModTime.UTC()

	if inm := req.Header.Get("If-None-Match"); inm != "" && matchesETag(inm, tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !lastModified.After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if im := req.Header.Get("If-Match"); im != "" && !matchesETag(im, tag) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if ius := req.Header.Get("If-Unmodified-Since"); ius != "" {
		if t, err := http.ParseTime(ius); err == nil && lastModified.After(t) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	h := w.Header()
	h.Set("ETag", tag)
	h.Set("Last-Modified", lastModified.Format(http.TimeFormat))
	h.Set("Content-Type", entry.MimeType)
	if entry.CacheControl != "" {
		h.Set("Cache-Control", entry.CacheControl)
	}

	rangeHeader := req.Header.Get("Range")

	if rangeHeader == "" && len(entry.CompressedBody) > 0 && acceptsGzip(req) {
		h.Set("Content-Encoding", "gzip")
		h.Set("Vary", "Accept-Encoding")
		h.Set("Content-Length", strconv.Itoa(len(entry.CompressedBody)))
		if req.Method != http.MethodHead {
			w.Write(entry.CompressedBody)
		}
		return
	}

	if rangeHeader != "" {
		// Compression negotiation is disabled when a Range is present:
		// serve the original, uncompressed bytes.
		serveRange(w, req, entry, rangeHeader)
		return
	}

	h.Set("Content-Length", strconv.FormatInt(entry.Length, 10))
	if req.Method == http.MethodHead {
		return
	}
	writeBody(w, entry)
}

func matchesETag(header, tag string) bool {
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimSpace(candidate) == tag {
			return true
		}
	}
	return false
}

func acceptsGzip(req *http.Request) bool {
	for _, enc := range strings.Split(req.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "gzip" {
			return true
		}
	}
	return false
}

func writeBody(w http.ResponseWriter, entry *filecache.FileEntry) {
	if !entry.OnDisk {
		w.Write(entry.Body)
		return
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	io.Copy(w, f)
}

// serveRange honors a single byte-range against the uncompressed length,
// responding 206 with Content-Range.
func serveRange(w http.ResponseWriter, req *http.Request, entry *filecache.FileEntry, rangeHeader string) {
	start, end, ok := parseByteRange(rangeHeader, entry.Length)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", entry.Length))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	length := end - start + 1
	h := w.Header()
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, entry.Length))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	h.Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)

	if req.Method == http.MethodHead {
		return
	}

	if !entry.OnDisk {
		w.Write(entry.Body[start : end+1])
		return
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return
	}
	io.CopyN(w, f, length)
}

// parseByteRange parses "bytes=start-end" for a single range, clamping an
// absent end to the last byte.
func parseByteRange(header string, total int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// multiple ranges are not supported; spec only requires single-range.
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// suffix range: "-N" means the last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > total {
			n = total
		}
		return total - n, total - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 || s >= total {
		return 0, 0, false
	}
	if parts[1] == "" {
		return s, total - 1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < s {
		return 0, 0, false
	}
	if e >= total {
		e = total - 1
	}
	return s, e, true
}
