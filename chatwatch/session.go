// Package chatwatch observes a live chat page, classifies its elements into
// structural categories and keeps a short deduplicated history of the chat
// messages it sees.
//
// A Session ties the reconciliation engine to its collaborators: the
// logbook (category-gated log lines), the preference store, the metrics
// recorder and the output sinks. Sessions observe either a browser tab
// (Watcher) or an in-memory tree built from a file or an HTTP fetch.
package chatwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/history"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/control"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/engine"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/logbook"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/metrics"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/prefs"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/sink"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/dbopen"
)

// Source is the document a session observes.
type Source = engine.Source

// Instrument is an observational hook attached while a session is active.
type Instrument = engine.Instrument

// Probe reads host-global state after each pass.
type Probe = engine.Probe

// TreeSource serves an in-memory tree.
type TreeSource = engine.TreeSource

// NewTreeSource wraps an in-memory tree as a Source.
func NewTreeSource(t *dom.Tree) *TreeSource { return engine.NewTreeSource(t) }

// Status is a point-in-time view of a session.
type Status = control.Status

var (
	// ErrInactive is returned for work requested while the session is not
	// active.
	ErrInactive = engine.ErrInactive
	// ErrDisposed is returned by Activate after Close.
	ErrDisposed = engine.ErrDisposed
)

// Option configures a Session.
type Option func(*options)

type options struct {
	sinks       []Sink
	db          *sql.DB
	logger      *slog.Logger
	instruments []Instrument
	probe       Probe
	closers     []func() error
}

// WithSinks adds output sinks.
func WithSinks(s ...Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s...) } }

// WithDB uses db for preferences and metrics instead of opening
// Config.Store.Path. The caller keeps ownership.
func WithDB(db *sql.DB) Option { return func(o *options) { o.db = db } }

// WithLogger sets the process logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithInstruments adds instruments attached on activation.
func WithInstruments(in ...Instrument) Option {
	return func(o *options) { o.instruments = append(o.instruments, in...) }
}

// WithProbe runs p after every pass.
func WithProbe(p Probe) Option { return func(o *options) { o.probe = p } }

func withCloser(fn func() error) Option {
	return func(o *options) { o.closers = append(o.closers, fn) }
}

// Session is one observed page. It implements the operator controls.
type Session struct {
	cfg    *Config
	logger *slog.Logger

	eng     *engine.Engine
	book    *logbook.Book
	router  *sink.Router
	prefs   *prefs.Store
	metrics *metrics.Recorder

	db      *sql.DB
	ownDB   bool
	closers []func() error

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewSession creates an inactive session over src.
func NewSession(cfg *Config, src Source, opts ...Option) (*Session, error) {
	return newSession(cfg, func(report.Logger) Source { return src }, opts...)
}

// newSession builds the session around a source that may need the logbook.
func newSession(cfg *Config, build func(log report.Logger) Source, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}

	key, err := history.ParseDedupKey(cfg.Engine.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("chatwatch: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		logger:  o.logger,
		router:  sink.NewRouter(o.logger, o.sinks...),
		db:      o.db,
		closers: o.closers,
	}

	if s.db == nil && cfg.Store.Path != "" {
		db, err := dbopen.Open(cfg.Store.Path, dbopen.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("chatwatch: open store: %w", err)
		}
		s.db, s.ownDB = db, true
	}

	toggles := cfg.Toggles()
	if s.db != nil {
		if s.prefs, err = prefs.New(s.db); err != nil {
			s.closeDB()
			return nil, fmt.Errorf("chatwatch: %w", err)
		}
		stored, err := s.prefs.Toggles(context.Background(), report.LogCategories)
		if err != nil {
			s.logger.Warn("chatwatch: read prefs", "error", err)
		}
		for k, v := range stored {
			toggles[k] = v
		}
		if cfg.Store.Metrics {
			s.metrics, err = metrics.New(s.db, metrics.Config{
				FlushInterval: cfg.Store.FlushInterval,
				Logger:        o.logger,
			})
			if err != nil {
				s.closeDB()
				return nil, fmt.Errorf("chatwatch: %w", err)
			}
		}
	}

	s.book = logbook.New(logbook.Config{
		Retention: cfg.Logbook.Retention,
		Debounce:  cfg.Logbook.Debounce,
		Enabled:   toggles,
		Flush: func(lines []report.Line) {
			if err := s.router.SendLines(context.Background(), lines); err != nil {
				s.logger.Warn("chatwatch: send log lines", "lines", len(lines), "error", err)
			}
		},
	})

	clf := classify.New(cfg.Selectors,
		classify.WithLogger(s.book),
		classify.WithLimits(cfg.Limits()),
		classify.WithVerbose(cfg.Engine.Verbose),
		classify.WithInspect(cfg.InspectCategories()...),
	)
	tracker := history.NewTracker(
		history.WithKeep(cfg.Engine.KeepCount),
		history.WithRoleRules(cfg.Roles),
		history.WithDedupKey(key),
		history.WithLogger(s.book),
		history.WithMarkdown(cfg.Engine.Markdown),
	)

	ecfg := engine.Config{
		Source:       build(s.book),
		Classifier:   clf,
		Tracker:      tracker,
		History:      history.New(cfg.Engine.KeepCount),
		Log:          s.book,
		Sink:         s.router,
		Instruments:  o.instruments,
		Probe:        o.probe,
		IdleWindow:   cfg.Engine.IdleWindow,
		IdleMax:      cfg.Engine.IdleMax,
		PollInterval: cfg.Engine.PollInterval,
		Logger:       o.logger,
	}
	if s.metrics != nil {
		ecfg.Metrics = s.metrics
	}
	s.eng = engine.New(ecfg)

	if s.prefs != nil && cfg.Store.WatchPrefs > 0 {
		s.watchPrefs(cfg.Store.WatchPrefs)
	}
	return s, nil
}

// watchPrefs applies toggles written to the store by other processes.
func (s *Session) watchPrefs(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	w := s.prefs.Watch(prefs.WatchOptions{Interval: interval, Logger: s.logger})
	go func() {
		defer close(s.watchDone)
		w.Run(ctx, report.LogCategories, func(toggles map[string]bool) {
			for cat, on := range toggles {
				s.book.SetEnabled(cat, on)
			}
		})
	}()
}

// Log returns the session's logging collaborator.
func (s *Session) Log() report.Logger { return s.book }

// Activate starts observing. Activating an active session is a no-op.
func (s *Session) Activate(ctx context.Context) error {
	return s.eng.Activate(ctx)
}

// Deactivate stops observing. History and log lines are kept.
func (s *Session) Deactivate() error {
	s.eng.Deactivate()
	return nil
}

// Active reports whether the session is observing.
func (s *Session) Active() bool { return s.eng.Active() }

// Clear deletes retained log lines and the message history.
func (s *Session) Clear() {
	s.eng.ClearHistory()
	s.book.Clear()
}

// Rescan runs a manual pass.
func (s *Session) Rescan(ctx context.Context) (report.Pass, error) {
	p, err := s.eng.Rescan(ctx)
	if err != nil {
		return report.Pass{}, err
	}
	return *p, nil
}

// History returns the message history, oldest first.
func (s *Session) History() []report.Message {
	return s.eng.History().Records()
}

// Logs returns retained log lines after position since, and the next
// position.
func (s *Session) Logs(since int64) ([]report.Line, int64) {
	return s.book.Since(since)
}

// LogText renders every retained log line.
func (s *Session) LogText() string { return s.book.Text() }

// Status reports counters and the operator summary line. Uptime counts
// from the current activation and is zero while inactive.
func (s *Session) Status() Status {
	st := s.eng.Stats()
	var uptime time.Duration
	if st.Active {
		uptime = time.Since(st.ActiveSince)
	}
	logs := s.book.Len()
	out := Status{
		Active:  st.Active,
		Uptime:  uptime,
		Logs:    logs,
		History: st.HistoryLen,
		Passes:  st.Passes,
		Batches: st.Batches,
		Text:    control.StatusText(logs, st.HistoryLen, uptime),
	}
	if st.Container.Tag != "" {
		out.Container = st.Container.Selector()
	}
	return out
}

// Toggles returns the log category toggles.
func (s *Session) Toggles() map[string]bool { return s.book.Toggles() }

// SetToggle enables or disables a log category and persists the choice
// when a store is configured.
func (s *Session) SetToggle(ctx context.Context, category string, on bool) error {
	s.book.SetEnabled(category, on)
	if s.prefs == nil {
		return nil
	}
	if err := s.prefs.SetToggle(ctx, category, on); err != nil {
		return fmt.Errorf("chatwatch: save toggle: %w", err)
	}
	return nil
}

// Handler returns the operator HTTP API.
func (s *Session) Handler() http.Handler {
	eps := control.NewEndpoints(s, s.logger)
	return control.Router(eps, control.Auth{
		User:         s.cfg.Control.User,
		PasswordHash: s.cfg.Control.PasswordHash,
	}, s.logger)
}

// Close disposes the engine, flushes pending log lines and releases the
// sinks, the store and whatever the session was opened over.
func (s *Session) Close() error {
	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
		s.stopWatch = nil
	}
	s.eng.Dispose()
	s.book.Close()

	var errs []error
	if s.metrics != nil {
		errs = append(errs, s.metrics.Close())
	}
	errs = append(errs, s.router.Close())
	errs = append(errs, s.closeDB())
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Session) closeDB() error {
	if !s.ownDB || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
