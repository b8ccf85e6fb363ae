package chatwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/chatwatch/chatwatch/internal/browser"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/observer"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Watcher observes one browser tab. It owns the browser connection, the
// tab and the session over it.
type Watcher struct {
	cfg    *Config
	opts   []Option
	mgr    *browser.Manager
	logger *slog.Logger

	mu   sync.Mutex
	sess *Session
}

// NewWatcher creates a Watcher from configuration. Options are passed to
// the session Start creates.
func NewWatcher(cfg *Config, opts ...Option) *Watcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	mode := browser.Headless
	if cfg.Browser.Stealth == "headful" {
		mode = browser.Headful
	}

	return &Watcher{
		cfg:  cfg,
		opts: opts,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Mode:             mode,
			Bin:              cfg.Browser.Bin,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Logger:           o.logger,
		}),
		logger: o.logger,
	}
}

// Start launches or connects to Chrome, opens or attaches to the
// configured tab and builds the session over it. The session is activated
// when Engine.AutoActivate is set.
func (w *Watcher) Start(ctx context.Context) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sess != nil {
		return w.sess, nil
	}

	if _, err := w.mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("chatwatch: start browser: %w", err)
	}

	tab, err := w.openTab(ctx)
	if err != nil {
		w.mgr.Close()
		return nil, err
	}

	opts := append([]Option{}, w.opts...)
	opts = append(opts,
		WithInstruments(
			observer.NewNetworkInstrument(tab.Page),
			observer.NewErrorInstrument(tab.Page),
		),
		withCloser(w.mgr.Close),
		withCloser(tab.Close),
	)
	if !w.cfg.Probe.Disabled {
		fields := make([]observer.ProbeField, len(w.cfg.Probe.Fields))
		for i, f := range w.cfg.Probe.Fields {
			fields[i] = observer.ProbeField{Label: f.Label, Path: f.Path}
		}
		opts = append(opts, WithProbe(observer.NewGlobalProbe(tab.Page, w.cfg.Probe.Global, fields)))
	}

	sess, err := newSession(w.cfg, func(log report.Logger) Source {
		return observer.New(observer.Config{
			Page:    tab.Page,
			PageURL: tab.URL(),
			PageID:  tab.PageID,
			Limits:  w.cfg.Limits(),
			Log:     log,
			Logger:  w.logger,
		})
	}, opts...)
	if err != nil {
		tab.Close()
		w.mgr.Close()
		return nil, err
	}

	if auto := w.cfg.Engine.AutoActivate; auto == nil || *auto {
		if err := sess.Activate(ctx); err != nil {
			sess.Close()
			return nil, fmt.Errorf("chatwatch: activate: %w", err)
		}
	}

	w.sess = sess
	w.logger.Info("chatwatch: observing page", "url", tab.PageURL, "id", tab.PageID)
	return sess, nil
}

func (w *Watcher) openTab(ctx context.Context) (*browser.Tab, error) {
	switch {
	case w.cfg.Page.Attach != "":
		tab, err := browser.AttachTab(ctx, w.mgr, w.cfg.Page.Attach)
		if err != nil {
			return nil, fmt.Errorf("chatwatch: attach: %w", err)
		}
		return tab, nil
	case w.cfg.Page.URL != "":
		tab, err := browser.OpenTab(ctx, w.mgr, w.cfg.Page.URL, w.cfg.Page.StealthLevel > 0)
		if err != nil {
			return nil, fmt.Errorf("chatwatch: open tab: %w", err)
		}
		return tab, nil
	}
	return nil, errors.New("chatwatch: page.url or page.attach is required")
}

// Session returns the running session, nil before Start.
func (w *Watcher) Session() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

// Stop closes the session, the tab if it was opened by the watcher, and
// the browser connection.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	sess := w.sess
	w.sess = nil
	w.mu.Unlock()
	if sess == nil {
		return w.mgr.Close()
	}
	return sess.Close()
}
