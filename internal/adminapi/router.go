// Package adminapi assembles the authenticated admin API:
// domain status, upload allocation, version activation, file metadata, and
// version pruning, all behind a single shared bearer token.
package adminapi

import (
	"log/slog"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/alert-history/internal/adminapi/handlers"
	"github.com/vitaliisemenov/alert-history/internal/adminapi/middleware"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/pkg/metrics"
)

// Config configures the admin router.
type Config struct {
	Token             string
	DefaultMaxReserve int
	RateLimitPerMin   int
	RateLimitBurst    int
	Logger            *slog.Logger
	Registry          *metrics.Registry
}

// New builds the admin API router, wrapped in the same
// middleware order the rest of this codebase's API layer uses: request ID,
// logging, metrics, CORS, compression, then auth and rate limiting applied
// to the whole router since every admin route requires the same token.
func New(idx *domainstorage.Index, cfg Config) *mux.Router {
	deps := handlers.Deps{Index: idx, DefaultMaxReserve: cfg.DefaultMaxReserve}

	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(cfg.Logger))
	if cfg.Registry != nil {
		r.Use(cfg.Registry.InstrumentHandler)
	}
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig()))
	r.Use(middleware.CompressionMiddleware)
	r.Use(middleware.BearerAuth(cfg.Token))
	if cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMin, cfg.RateLimitBurst))
	}

	r.HandleFunc("/status", deps.Status).Methods("GET")
	r.HandleFunc("/upload/position", deps.UploadPosition).Methods("GET")
	r.HandleFunc("/update_version", deps.UpdateVersion).Methods("POST")
	r.HandleFunc("/files/upload_status", deps.UploadStatus).Methods("POST")
	r.HandleFunc("/file/upload", deps.FileUpload).Methods("POST")
	r.HandleFunc("/files/metadata", deps.Metadata).Methods("GET")
	r.HandleFunc("/files/delete", deps.Delete).Methods("POST")
	r.HandleFunc("/files/revoke_version", deps.RevokeVersion).Methods("POST")
	r.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)

	return r
}
