package handlers

import (
	"net/http"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

// Status handles GET /status?domain=<key>, returning DomainInfo[] — one
// entry for the named domain, or every known domain if domain is omitted.
func (d Deps) Status(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("domain")
	if raw == "" {
		writeJSON(w, http.StatusOK, d.Index.AllStatus())
		return
	}

	key := domainstorage.ParseDomainKey(raw)
	info, err := d.Index.Status(key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, []domainstorage.DomainInfo{info})
}
