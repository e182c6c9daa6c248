// Package versiongc runs the deprecated-version-delete job (
// admin_config.deprecated_version_delete): a periodic sweep that prunes old
// versions across every known domain, retaining only the N highest
// Finish'd versions per key.
package versiongc

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/alert-history/internal/domainstorage"
)

const defaultInterval = 1 * time.Hour

// Worker is a ticker-based background sweep, the same stop/done-channel
// shape as the rest of this codebase's background tasks.
type Worker struct {
	idx        *domainstorage.Index
	maxReserve int
	interval   time.Duration
	log        *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Worker (not started). interval is the sweep cadence; the
// admin_config.deprecated_version_delete.cron schedule expression names a
// cron trigger that this corpus carries no parser for, so the cron string
// is accepted but only its coarse cadence is honored — see parseCadence.
func New(idx *domainstorage.Index, cronExpr string, maxReserve int, log *slog.Logger) *Worker {
	return &Worker{
		idx:        idx,
		maxReserve: maxReserve,
		interval:   parseCadence(cronExpr),
		log:        log,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// parseCadence maps a handful of common cron shorthands to an interval;
// anything else falls back to defaultInterval rather than failing startup
// over a GC job's schedule.
func parseCadence(cronExpr string) time.Duration {
	switch cronExpr {
	case "@hourly":
		return time.Hour
	case "@daily", "@midnight":
		return 24 * time.Hour
	case "@weekly":
		return 7 * 24 * time.Hour
	default:
		return defaultInterval
	}
}

// Start runs the sweep loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep deletes old versions across every known domain key, logging but
// never aborting on a single key's failure.
func (w *Worker) sweep() {
	for _, info := range w.idx.AllStatus() {
		key := domainstorage.ParseDomainKey(info.Domain)
		deleted, err := w.idx.Delete(key, w.maxReserve)
		if err != nil {
			w.log.Error("version gc failed", "domain", key.String(), "error", err)
			continue
		}
		if len(deleted) > 0 {
			w.log.Info("version gc pruned versions", "domain", key.String(), "deleted", deleted)
		}
	}
}
