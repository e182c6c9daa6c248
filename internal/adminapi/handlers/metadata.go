package handlers

import (
	"net/http"
	"strconv"

	"github.com/vitaliisemenov/alert-history/internal/apierrors"
)

// Metadata handles GET /files/metadata?domain=<key>&version=<n>, returning
// [{path, md5, length}] for every file in the version.
func (d Deps) Metadata(w http.ResponseWriter, r *http.Request) {
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

	meta, err := d.Index.Metadata(key, version)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
