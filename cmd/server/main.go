// Package main is the entry point for the static-site host.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/acmeengine"
	"github.com/vitaliisemenov/alert-history/internal/adminapi"
	"github.com/vitaliisemenov/alert-history/internal/certstore"
	"github.com/vitaliisemenov/alert-history/internal/config"
	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
	"github.com/vitaliisemenov/alert-history/internal/filecache"
	"github.com/vitaliisemenov/alert-history/internal/hotreload"
	"github.com/vitaliisemenov/alert-history/internal/router"
	"github.com/vitaliisemenov/alert-history/internal/versiongc"
	"github.com/vitaliisemenov/alert-history/pkg/logger"
	"github.com/vitaliisemenov/alert-history/pkg/metrics"
)

const (
	serviceName    = "spa-server"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to the configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)
	log.Info("starting", "service", serviceName, "version", serviceVersion, "config", *configPath)

	reg := metrics.NewRegistry()

	cache, err := filecache.New(filecache.HostPolicy{
		MaxInlineSize:          cfg.Cache.MaxSize,
		Compression:            cfg.Cache.Compression,
		CompressibleExtensions: config.DefaultCompressibleExtensions,
	}, 4096)
	if err != nil {
		log.Error("fatal: build file cache", "error", err)
		os.Exit(1)
	}

	idx := domainstorage.New(cfg.FileDir, cfg.AliasTable(), domainstorage.Hooks{
		OnFinish:     cache.BuildSnapshot,
		OnActivate:   cache.Publish,
		OnInvalidate: cache.Invalidate,
	})
	cache.BindIndex(idx)
	if err := idx.BootScan(); err != nil {
		log.Error("fatal: boot scan", "error", err)
		os.Exit(1)
	}

	store := certstore.New()
	challengeDir := ""
	var acme *acmeengine.Engine
	if cfg.HTTPS != nil {
		switch {
		case cfg.HTTPS.SSL != nil:
			cert, err := tls.LoadX509KeyPair(cfg.HTTPS.SSL.Public, cfg.HTTPS.SSL.Private)
			if err != nil {
				log.Error("fatal: load static TLS certificate", "error", err)
				os.Exit(1)
			}
			store.SetDefault(&cert)
		case cfg.HTTPS.ACME != nil:
			challengeDir = cfg.FileDir + "/acme/challenge"
			acme = acmeengine.New(acmeengine.Config{
				Root:         cfg.FileDir,
				ChallengeDir: challengeDir,
				Emails:       cfg.HTTPS.ACME.Emails,
				Type:         cfg.HTTPS.ACME.ACMEType,
				CIDirectory:  cfg.HTTPS.ACME.Dir,
			}, store, idx, log, reg)
		}
	}

	defaultHost := router.HostConfig{CORS: cfg.CORS}
	if cfg.HTTPS != nil {
		defaultHost.HTTPRedirectToHTTPS = cfg.HTTPS.HTTPRedirectToHTTPS
	}
	requestRouter := router.New(idx, cache, log, reg, challengeDir, defaultHost)

	deps := hotreload.Dependencies{Index: idx, Cache: cache, Router: requestRouter, ACME: acme, CertStore: store}
	coordinator := hotreload.New(*configPath, cfg, deps, log, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Bootstrap(requestRouter.Handler); err != nil {
		log.Error("fatal: bind listeners", "error", err)
		os.Exit(1)
	}

	if acme != nil {
		acme.Start(ctx)
		defer acme.Stop()
	}

	var adminSrv *adminServer
	if cfg.AdminConfig != nil {
		maxReserve := 0
		if cfg.AdminConfig.DeprecatedVersionDelete != nil {
			maxReserve = cfg.AdminConfig.DeprecatedVersionDelete.MaxReserve
		}
		adminRouter := adminapi.New(idx, adminapi.Config{
			Token:             cfg.AdminConfig.Token,
			DefaultMaxReserve: maxReserve,
			RateLimitPerMin:   300,
			RateLimitBurst:    50,
			Logger:            log,
			Registry:          reg,
		})
		adminSrv = startAdminServer(ctx, log, cfg.AdminConfig, adminRouter)

		if cfg.AdminConfig.DeprecatedVersionDelete != nil {
			gc := versiongc.New(idx, cfg.AdminConfig.DeprecatedVersionDelete.Cron, cfg.AdminConfig.DeprecatedVersionDelete.MaxReserve, log)
			gc.Start(ctx)
			defer gc.Stop()
		}
	}

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				log.Info("reload signal received")
				if err := coordinator.Reload(ctx, requestRouter.Handler); err != nil {
					log.Error("reload failed; previous listeners remain active", "error", err)
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if adminSrv != nil {
		adminSrv.shutdown(shutdownCtx)
	}
	log.Info("shutdown complete")
}
