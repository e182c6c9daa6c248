// Package handlers implements the admin API route handlers:
// status/upload/activation/metadata/delete, operating directly on the
// Version Index and File Cache.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vitaliisemenov/alert-history/internal/adminapi/middleware"
	"github.com/vitaliisemenov/alert-history/internal/apierrors"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

// Deps bundles the components every admin handler needs.
type Deps struct {
	Index *domainstorage.Index
	// DefaultMaxReserve is used by Delete when the request omits max_reserve,
	// sourced from admin_config.deprecated_version_delete.max_reserve.
	DefaultMaxReserve int
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.Internal(err.Error())
	}
	apierrors.WriteError(w, apiErr.WithRequestID(middleware.GetRequestID(r.Context())))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// parseDomain resolves the "domain" query or body parameter into a
// DomainKey, rejecting alias hosts with a pointer to the primary (
// "Alias hosts are rejected on upload/position/status with a pointer to the
// primary").
func parseDomain(idx *domainstorage.Index, raw string) (domainstorage.DomainKey, error) {
	if raw == "" {
		return domainstorage.DomainKey{}, apierrors.BadRequest("domain is required")
	}
	key := domainstorage.ParseDomainKey(raw)
	if primary, ok := idx.IsAlias(key.Host); ok {
		return domainstorage.DomainKey{}, apierrors.BadRequest(fmt.Sprintf("%s is an alias of %s; use the primary host", key.Host, primary))
	}
	return key, nil
}

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierrors.BadRequest("malformed request body: " + err.Error())
	}
	return nil
}
