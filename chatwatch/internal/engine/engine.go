// Package engine is the reconciliation loop: it keeps the classification and
// message history of a Source current while active, reacting to mutation
// batches (coalesced to idle points) and polling for a replaced container.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/history"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/idgen"
)

var (
	// ErrInactive is returned for work requested or scheduled while the
	// engine is not active.
	ErrInactive = errors.New("engine: inactive")
	// ErrDisposed is returned by Activate after Dispose.
	ErrDisposed = errors.New("engine: disposed")
)

// Config wires an Engine.
type Config struct {
	Source     Source
	Classifier *classify.Classifier
	Tracker    *history.Tracker
	History    *history.History

	// Log is the logging collaborator. Default: report.Discard.
	Log report.Logger
	// Sink receives merged batches and pass reports. May be nil.
	Sink Sink
	// Metrics may be nil.
	Metrics Metrics
	// Instruments are attached on activation and detached on deactivation.
	Instruments []Instrument
	// Probe runs after every pass. May be nil.
	Probe Probe

	// IdleWindow is the quiet period before a mutation pass. Default: 100ms.
	IdleWindow time.Duration
	// IdleMax forces a mutation pass once this many records are queued.
	// Default: 1000.
	IdleMax int
	// PollInterval is the container check period. Default: 5s.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Classifier == nil {
		c.Classifier = classify.New(classify.DefaultTable())
	}
	if c.History == nil {
		c.History = history.New(history.DefaultKeep)
	}
	if c.Tracker == nil {
		c.Tracker = history.NewTracker()
	}
	if c.Log == nil {
		c.Log = report.Discard
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Active      bool                 `json:"active"`
	ActiveSince time.Time            `json:"active_since,omitzero"`
	Passes      uint64               `json:"passes"`
	Batches     uint64               `json:"batches"`
	HistoryLen  int                  `json:"history_len"`
	Container   report.ElementDetail `json:"container"`
}

// Engine is the reconciliation loop. Its zero value is not usable; call New.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	// passMu serializes passes; classify and track are not reentrant.
	passMu sync.Mutex
	// runMu is read-held from the activation check through classify and
	// track. Deactivate write-holds it while switching off, so no classify
	// starts after Deactivate returns.
	runMu sync.RWMutex

	mu              sync.Mutex
	active          bool
	disposed        bool
	gen             uint64
	since           time.Time
	cancel          context.CancelFunc
	stop            func()
	detach          []func()
	done            chan struct{}
	container       dom.Key
	containerDetail report.ElementDetail

	passes   atomic.Uint64
	batches  atomic.Uint64
	passSeq  atomic.Uint64
	batchSeq atomic.Uint64
}

// New returns an inactive Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// History returns the message history. It outlives activations.
func (e *Engine) History() *history.History { return e.cfg.History }

// Active reports whether the engine is observing.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Activate runs an initial pass, subscribes to mutations, attaches the
// instruments and starts the container poll. Activating an active engine
// is a no-op. ctx scopes the initial pass; the activation itself lives
// until Deactivate.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.active {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	gen := e.gen
	e.active = true
	e.since = time.Now()
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.mu.Unlock()

	e.cfg.Log.Log(report.LogPlugin, time.Now(), "Observation started")
	e.logger.Info("engine: activated", "gen", gen)

	if _, err := e.pass(actx, gen, report.TriggerActivate); err != nil && !errors.Is(err, ErrInactive) {
		e.logger.Warn("engine: initial pass failed", "error", err)
	}

	batches := make(chan report.Batch, 256)
	stop, err := e.cfg.Source.Subscribe(actx, func(b report.Batch) {
		select {
		case batches <- b:
		case <-actx.Done():
		}
	})
	if err != nil {
		e.Deactivate()
		return fmt.Errorf("engine: subscribe: %w", err)
	}

	var detach []func()
	for _, in := range e.cfg.Instruments {
		d, err := in.Attach(actx, e.cfg.Log)
		if err != nil {
			e.cfg.Log.Log(report.LogPlugin, time.Now(), fmt.Sprintf("Instrument %s unavailable: %v", in.Name(), err))
			e.logger.Warn("engine: attach instrument", "instrument", in.Name(), "error", err)
			continue
		}
		detach = append(detach, d)
	}

	done := make(chan struct{})
	e.mu.Lock()
	if !e.active || e.gen != gen {
		e.mu.Unlock()
		stop()
		for _, d := range detach {
			d()
		}
		return nil
	}
	e.stop = stop
	e.detach = detach
	e.done = done
	e.mu.Unlock()

	go e.loop(actx, gen, batches, done)
	return nil
}

// Deactivate cancels the subscription, the poll and the instruments, and
// waits for the loop to exit. Work already scheduled is dropped. History
// and logs are kept. Deactivating an inactive engine is a no-op.
func (e *Engine) Deactivate() {
	e.runMu.Lock()
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		e.runMu.Unlock()
		return
	}
	e.active = false
	e.gen++
	cancel, stop, detach, done := e.cancel, e.stop, e.detach, e.done
	e.cancel, e.stop, e.detach, e.done = nil, nil, nil, nil
	e.mu.Unlock()
	e.runMu.Unlock()

	cancel()
	if stop != nil {
		stop()
	}
	for _, d := range detach {
		d()
	}
	if done != nil {
		<-done
	}

	e.cfg.Log.Log(report.LogPlugin, time.Now(), "Observation stopped, logs and history preserved")
	e.logger.Info("engine: deactivated")
}

// Dispose deactivates and prevents further activation.
func (e *Engine) Dispose() {
	e.Deactivate()
	e.mu.Lock()
	e.disposed = true
	e.mu.Unlock()
}

// Rescan runs a manual pass. The engine must be active.
func (e *Engine) Rescan(ctx context.Context) (*report.Pass, error) {
	e.mu.Lock()
	active, gen := e.active, e.gen
	e.mu.Unlock()
	if !active {
		return nil, ErrInactive
	}
	return e.pass(ctx, gen, report.TriggerManual)
}

// ClearHistory drops every history record.
func (e *Engine) ClearHistory() {
	e.cfg.History.Clear()
	e.cfg.Log.Log(report.LogPlugin, time.Now(), "History cleared")
}

// Stats returns a snapshot of counters and state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Active:    e.active,
		Container: e.containerDetail,
	}
	if e.active {
		s.ActiveSince = e.since
	}
	e.mu.Unlock()
	s.Passes = e.passes.Load()
	s.Batches = e.batches.Load()
	s.HistoryLen = e.cfg.History.Len()
	return s
}

// ContainerKey returns the identity of the container recorded by the last
// pass, 0 before the first.
func (e *Engine) ContainerKey() dom.Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.container
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && e.gen == gen
}

func (e *Engine) loop(ctx context.Context, gen uint64, batches <-chan report.Batch, done chan struct{}) {
	defer close(done)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	q := newCoalescer(coalesceConfig{Window: e.cfg.IdleWindow, MaxRecords: e.cfg.IdleMax})

	for {
		select {
		case <-ctx.Done():
			return

		case b := <-batches:
			e.batches.Add(1)
			if q.add(b) {
				e.onIdle(ctx, gen, q.take())
			}

		case <-q.timerC():
			e.onIdle(ctx, gen, q.take())

		case <-poll.C:
			if _, err := e.pass(ctx, gen, report.TriggerPoll); err != nil && !errors.Is(err, ErrInactive) {
				e.logger.Debug("engine: poll pass failed", "error", err)
			}
		}
	}
}

// onIdle reports the coalesced mutations and runs one pass for all of them.
func (e *Engine) onIdle(ctx context.Context, gen uint64, batches []report.Batch) {
	if len(batches) == 0 || !e.current(gen) {
		return
	}

	records := merge(batches)
	last := batches[len(batches)-1]
	merged := report.Batch{
		ID:        idgen.Batch(),
		PageURL:   last.PageURL,
		PageID:    last.PageID,
		Seq:       e.batchSeq.Add(1),
		Records:   records,
		Timestamp: time.Now().UnixMilli(),
	}

	e.logMutations(merged)
	if e.cfg.Sink != nil {
		if err := e.cfg.Sink.Send(ctx, merged); err != nil {
			e.logger.Error("engine: send batch failed", "error", err)
		}
	}
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Observe("mutation_records", float64(len(records)), map[string]string{
			"batches": strconv.Itoa(len(batches)),
		})
	}

	if _, err := e.pass(ctx, gen, report.TriggerMutation); err != nil && !errors.Is(err, ErrInactive) {
		e.logger.Debug("engine: mutation pass failed", "error", err)
	}
}

func (e *Engine) logMutations(b report.Batch) {
	at := time.UnixMilli(b.Timestamp)
	log := e.cfg.Log
	for _, r := range b.Records {
		switch r.Op {
		case report.OpAttributes:
			log.Log(report.LogSite, at, fmt.Sprintf("Mutation: %s on %s: %s (was %q)", r.Op, r.Target, r.Attribute, r.OldValue))
		case report.OpCharacterData:
			log.Log(report.LogSite, at, fmt.Sprintf("Mutation: %s on %s (was %q)", r.Op, r.Target, r.OldValue))
		default:
			log.Log(report.LogSite, at, fmt.Sprintf("Mutation: %s on %s", r.Op, r.Target))
		}
		for _, d := range r.Added {
			log.Log(report.LogSite, at, "  Added:")
			for _, line := range d.Describe("    ") {
				log.Log(report.LogSite, at, line)
			}
		}
		for _, d := range r.Removed {
			log.Log(report.LogSite, at, "  Removed:")
			for _, line := range d.Describe("    ") {
				log.Log(report.LogSite, at, line)
			}
		}
	}
}

// pass classifies the current document and, unless this is a poll that
// found the same container, tracks messages. It re-checks the activation
// before classifying and before tracking.
func (e *Engine) pass(ctx context.Context, gen uint64, trigger report.Trigger) (*report.Pass, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if !e.current(gen) {
		return nil, ErrInactive
	}
	start := time.Now()

	doc, err := e.cfg.Source.Snapshot(ctx)
	if err != nil {
		e.cfg.Log.Log(report.LogPlugin, time.Now(), fmt.Sprintf("Snapshot failed: %v", err))
		return nil, fmt.Errorf("engine: snapshot: %w", err)
	}

	e.runMu.RLock()
	if !e.current(gen) {
		e.runMu.RUnlock()
		return nil, ErrInactive
	}
	res := e.cfg.Classifier.Classify(ctx, doc)

	p := &report.Pass{
		ID:           idgen.Pass(),
		Trigger:      trigger,
		Counts:       res.Counts(),
		Container:    res.Container.ElementDetail,
		ContainerKey: int64(res.Container.Key),
	}
	for _, pe := range res.Errors {
		p.Errors = append(p.Errors, pe.Error())
	}

	e.mu.Lock()
	if !e.active || e.gen != gen {
		e.mu.Unlock()
		e.runMu.RUnlock()
		return nil, ErrInactive
	}
	p.ContainerChanged = res.Container.Key != e.container
	e.container = res.Container.Key
	e.containerDetail = res.Container.ElementDetail
	if trigger != report.TriggerPoll || p.ContainerChanged {
		p.Inserted = e.cfg.Tracker.Track(res.Get(classify.Message), e.cfg.History)
		p.Tracked = true
	}
	histLen := e.cfg.History.Len()
	e.mu.Unlock()
	e.runMu.RUnlock()

	// Records hold weak references into doc.
	runtime.KeepAlive(doc)

	e.cfg.Tracker.LogInserted(p.Inserted)

	if trigger == report.TriggerPoll && p.ContainerChanged {
		e.cfg.Log.Log(report.LogPlugin, time.Now(), "Container changed: <"+p.Container.Selector()+">")
	}
	if e.cfg.Probe != nil {
		e.cfg.Probe.Probe(ctx, e.cfg.Log)
	}

	p.Seq = e.passSeq.Add(1)
	p.Timestamp = time.Now().UnixMilli()
	p.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	e.passes.Add(1)

	e.observe(p, histLen)
	if e.cfg.Sink != nil {
		if err := e.cfg.Sink.SendPass(ctx, *p); err != nil {
			e.logger.Error("engine: send pass failed", "error", err)
		}
	}
	return p, nil
}

func (e *Engine) observe(p *report.Pass, histLen int) {
	m := e.cfg.Metrics
	if m == nil {
		return
	}
	trig := map[string]string{"trigger": string(p.Trigger)}
	m.Observe("pass_duration_ms", p.DurationMs, trig)
	m.Observe("history_len", float64(histLen), nil)
	m.Observe("inserted", float64(len(p.Inserted)), trig)
	for _, c := range p.Counts {
		m.Observe("category_count", float64(c.Count), map[string]string{"category": c.Category})
	}
}
