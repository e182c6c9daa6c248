package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vitaliisemenov/alert-history/internal/config"
)

// adminServer is the authenticated admin API's own HTTP listener, bound
// separately from the public http/https listeners per admin_config.addr.
type adminServer struct {
	srv *http.Server
	log *slog.Logger
}

func startAdminServer(ctx context.Context, log *slog.Logger, cfg *config.AdminConfig, handler http.Handler) *adminServer {
	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: handler}
	a := &adminServer{srv: srv, log: log}

	go func() {
		log.Info("admin API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin API listener exited", "error", err)
		}
	}()

	return a
}

func (a *adminServer) shutdown(ctx context.Context) {
	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Error("admin API shutdown error", "error", err)
	}
}
