// Package logbook is chatwatch's logging collaborator: it gates lines by
// category, retains a bounded window of them for the operator, and hands
// coalesced groups to a flush function (the sinks) after a quiet period.
//
// Log never blocks on the flush function. Flushes run on a goroutine owned
// by the Book.
package logbook

import (
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Config configures a Book.
type Config struct {
	// Retention is how many lines are kept for reading. Default: 5000.
	Retention int
	// Debounce is the quiet period before pending lines are flushed.
	// Default: 100ms.
	Debounce time.Duration
	// MaxPending flushes immediately when this many lines are pending.
	// Default: 256.
	MaxPending int
	// Enabled sets initial category toggles. Missing categories are on.
	Enabled map[string]bool
	// Flush receives coalesced lines. May be nil.
	Flush func([]report.Line)
}

func (c *Config) defaults() {
	if c.Retention <= 0 {
		c.Retention = 5000
	}
	if c.Debounce <= 0 {
		c.Debounce = 100 * time.Millisecond
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 256
	}
}

// Book implements report.Logger.
type Book struct {
	cfg Config

	mu      sync.Mutex
	enabled map[string]bool

	// ring of retained lines
	entries []report.Line
	head    int
	total   int64

	pending []report.Line
	timer   *time.Timer
	closed  bool

	flushMu sync.Mutex
	kick    chan struct{}
	done    chan struct{}
}

// New returns a Book.
func New(cfg Config) *Book {
	cfg.defaults()
	b := &Book{
		cfg:     cfg,
		enabled: make(map[string]bool),
		entries: make([]report.Line, 0, min(cfg.Retention, 1024)),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, c := range report.LogCategories {
		b.enabled[c] = true
	}
	for c, on := range cfg.Enabled {
		b.enabled[c] = on
	}
	go b.run()
	return b
}

// run flushes each time it is kicked, until Close.
func (b *Book) run() {
	defer close(b.done)
	for range b.kick {
		b.Flush()
	}
}

// kickLocked wakes the flusher. Caller holds b.mu.
func (b *Book) kickLocked() {
	if b.closed {
		return
	}
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *Book) onTimer() {
	b.mu.Lock()
	b.kickLocked()
	b.mu.Unlock()
}

// Log records one line if its category is enabled.
func (b *Book) Log(category string, at time.Time, msg string) {
	line := report.Line{Category: category, Timestamp: at.UnixMilli(), Text: msg}

	b.mu.Lock()
	if b.closed || !b.enabledLocked(category) {
		b.mu.Unlock()
		return
	}
	b.appendLocked(line)
	b.pending = append(b.pending, line)
	switch {
	case len(b.pending) >= b.cfg.MaxPending:
		b.kickLocked()
	case b.timer == nil:
		b.timer = time.AfterFunc(b.cfg.Debounce, b.onTimer)
	default:
		b.timer.Reset(b.cfg.Debounce)
	}
	b.mu.Unlock()
}

func (b *Book) enabledLocked(category string) bool {
	on, ok := b.enabled[category]
	return !ok || on
}

func (b *Book) appendLocked(l report.Line) {
	if len(b.entries) < b.cfg.Retention {
		b.entries = append(b.entries, l)
	} else {
		b.entries[b.head] = l
	}
	b.head = (b.head + 1) % b.cfg.Retention
	b.total++
}

// Flush hands pending lines to the flush function on the calling
// goroutine. Retained lines are not affected.
func (b *Book) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	if len(pending) > 0 && b.cfg.Flush != nil {
		b.cfg.Flush(pending)
	}
}

// Close stops accepting lines, waits for the flusher and flushes what is
// still pending.
func (b *Book) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	close(b.kick)
	b.mu.Unlock()

	<-b.done
	b.Flush()
}

// Enabled reports whether category is logged.
func (b *Book) Enabled(category string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabledLocked(category)
}

// SetEnabled toggles a category.
func (b *Book) SetEnabled(category string, on bool) {
	b.mu.Lock()
	b.enabled[category] = on
	b.mu.Unlock()
}

// Toggles returns a copy of every category toggle.
func (b *Book) Toggles() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.enabled))
	for k, v := range b.enabled {
		out[k] = v
	}
	return out
}

// Len returns the number of retained lines.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Lines returns the retained lines, oldest first.
func (b *Book) Lines() []report.Line {
	lines, _ := b.Since(0)
	return lines
}

// Since returns the retained lines logged after position pos and the
// position to pass next time. Positions count every line ever retained;
// lines already evicted are skipped.
func (b *Book) Since(pos int64) ([]report.Line, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := int64(len(b.entries))
	oldest := b.total - n
	if pos < oldest {
		pos = oldest
	}
	if pos >= b.total {
		return nil, b.total
	}

	out := make([]report.Line, 0, b.total-pos)
	start := 0
	if len(b.entries) == b.cfg.Retention {
		start = b.head
	}
	for p := pos; p < b.total; p++ {
		idx := (start + int(p-oldest)) % len(b.entries)
		out = append(out, b.entries[idx])
	}
	return out, b.total
}

// Clear drops retained and pending lines.
func (b *Book) Clear() {
	b.mu.Lock()
	b.entries = b.entries[:0]
	b.head = 0
	b.pending = nil
	b.mu.Unlock()
}

// Text renders the retained lines for copying.
func (b *Book) Text() string {
	lines := b.Lines()
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.String()
	}
	return strings.Join(out, "\n")
}
