package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vitaliisemenov/alert-history/internal/apierrors"
)

type uploadPositionResponse struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// UploadPosition handles GET /upload/position?domain=<key>&format=Path|Json,
// allocating (or returning the existing) Uploading version for domain.
func (d Deps) UploadPosition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := parseDomain(d.Index, q.Get("domain"))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	version, status, err := d.Index.NewUploadPosition(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	path := d.Index.VersionDir(key, version)

	if q.Get("format") == "Path" {
		writeText(w, http.StatusOK, path)
		return
	}
	writeJSON(w, http.StatusOK, uploadPositionResponse{Path: path, Version: version, Status: status.String()})
}

// FileUpload handles POST /file/upload, a multipart "file" field written
// under the version named by the domain/version/path query parameters.
func (d Deps) FileUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := parseDomain(d.Index, q.Get("domain"))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	version, err := strconv.Atoi(q.Get("version"))
	if err != nil {
		writeErr(w, r, apierrors.BadRequest("version must be an integer"))
		return
	}
	relPath := q.Get("path")
	if relPath == "" {
		writeErr(w, r, apierrors.BadRequest("path is required"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeErr(w, r, apierrors.BadRequest("missing multipart file field: "+err.Error()))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, r, apierrors.IO("read uploaded file: "+err.Error()))
		return
	}

	if err := d.Index.PutFile(key, version, relPath, data); err != nil {
		writeErr(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("wrote %d bytes to %s", len(data), relPath))
}
