package prefs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Version is a change token for the table: the newest updated_at.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM chatwatch_prefs`).Scan(&v)
	return v, err
}

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before toggles are
	// re-read. 0 reloads on the poll that saw the change.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher polls the store and re-reads the log toggles when another
// connection or process changes them.
type Watcher struct {
	store *Store
	opts  WatchOptions

	version atomic.Int64
	checks  atomic.Int64
	reloads atomic.Int64
}

// Watch returns a Watcher over s. Call Run to start it.
func (s *Store) Watch(opts WatchOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{store: s, opts: opts}
}

// Version returns the last version applied.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Reloads counts successful reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Run blocks until ctx is done. After a change it reads the toggles for
// categories and passes them to apply. A failed read leaves the version
// unchanged so the next poll retries.
func (w *Watcher) Run(ctx context.Context, categories []string, apply func(map[string]bool)) {
	log := w.opts.Logger

	if v, err := w.store.Version(ctx); err != nil {
		log.Warn("prefs: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.store.Version(ctx)
			if err != nil {
				log.Warn("prefs: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			pending = cur
			if w.opts.Debounce <= 0 {
				w.reload(ctx, categories, apply, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.reload(ctx, categories, apply, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) reload(ctx context.Context, categories []string, apply func(map[string]bool), ver int64) {
	toggles, err := w.store.Toggles(ctx, categories)
	if err != nil {
		w.opts.Logger.Error("prefs: reload failed", "error", err, "version", ver)
		return
	}
	apply(toggles)
	w.version.Store(ver)
	w.reloads.Add(1)
	w.opts.Logger.Debug("prefs: reloaded", "version", ver, "toggles", len(toggles))
}
