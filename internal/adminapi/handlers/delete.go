package handlers

import (
	"fmt"
	"net/http"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

type deleteRequest struct {
	Domain     string `json:"domain"`
	MaxReserve int    `json:"max_reserve"`
}

type deleteResult struct {
	Domain  string `json:"domain"`
	Deleted []int  `json:"deleted"`
}

// Delete handles POST /files/delete, pruning old versions for one domain
// (or every known domain when domain is omitted — the same sweep the
// deprecated-version-delete cron job runs).
func (d Deps) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	maxReserve := req.MaxReserve
	if maxReserve <= 0 {
		maxReserve = d.DefaultMaxReserve
	}
	if maxReserve <= 0 {
		maxReserve = 1
	}

	if req.Domain != "" {
		key, err := parseDomain(d.Index, req.Domain)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		deleted, err := d.Index.Delete(key, maxReserve)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []deleteResult{{Domain: key.String(), Deleted: deleted}})
		return
	}

	var results []deleteResult
	for _, info := range d.Index.AllStatus() {
		key := domainstorage.ParseDomainKey(info.Domain)
		deleted, err := d.Index.Delete(key, maxReserve)
		if err != nil {
			writeErr(w, r, fmt.Errorf("delete %s: %w", key, err))
			return
		}
		results = append(results, deleteResult{Domain: key.String(), Deleted: deleted})
	}
	writeJSON(w, http.StatusOK, results)
}
