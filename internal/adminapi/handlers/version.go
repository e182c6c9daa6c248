package handlers

import (
	"fmt"
	"net/http"

	"github.com/vitaliisemenov/alert-history/internal/apierrors"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

type activateRequest struct {
	Domain  string `json:"domain"`
	Version int    `json:"version"`
}

// UpdateVersion handles POST /update_version, activating the given version
// (or the latest Finish'd version if version is omitted).
func (d Deps) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	key, err := parseDomain(d.Index, req.Domain)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	activated, err := d.Index.Activate(key, req.Version)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%s activated at version %d", key, activated))
}

// RevokeVersion handles POST /files/revoke_version, which shares Activate's
// code path: it just requires the target version to already exist.
func (d Deps) RevokeVersion(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Version == 0 {
		writeErr(w, r, apierrors.BadRequest("version is required"))
		return
	}
	key, err := parseDomain(d.Index, req.Domain)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	activated, err := d.Index.Activate(key, req.Version)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%s reverted to version %d", key, activated))
}

type uploadStatusRequest struct {
	Domain  string `json:"domain"`
	Version int    `json:"version"`
	Status  int    `json:"status"` // 0 = Uploading, 1 = Finish
}

// UploadStatus handles POST /files/upload_status, the only caller-driven
// transition out of Uploading.
func (d Deps) UploadStatus(w http.ResponseWriter, r *http.Request) {
	var req uploadStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	key, err := parseDomain(d.Index, req.Domain)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var status domainstorage.VersionStatus
	switch req.Status {
	case 0:
		status = domainstorage.StatusUploading
	case 1:
		status = domainstorage.StatusFinish
	default:
		writeErr(w, r, apierrors.BadRequest("status must be 0 (Uploading) or 1 (Finish)"))
		return
	}

	if err := d.Index.SetStatus(key, req.Version, status); err != nil {
		writeErr(w, r, err)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("%s version %d marked %s", key, req.Version, status))
}
