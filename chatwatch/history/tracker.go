package history

import (
	"fmt"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Tracker turns message candidates into history records.
type Tracker struct {
	keep     int
	rules    RoleRules
	key      DedupKey
	logger   report.Logger
	now      func() time.Time
	markdown *markdowner
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithKeep sets how many trailing candidates are considered. Default: the
// history's capacity.
func WithKeep(n int) Option { return func(t *Tracker) { t.keep = n } }

// WithRoleRules replaces the role marker table.
func WithRoleRules(rr RoleRules) Option { return func(t *Tracker) { t.rules = rr } }

// WithDedupKey selects the dedup key. Default: KeyContent.
func WithDedupKey(k DedupKey) Option { return func(t *Tracker) { t.key = k } }

// WithLogger sets the logging collaborator.
func WithLogger(l report.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithMarkdown renders a sanitized Markdown copy of each captured message.
func WithMarkdown(on bool) Option {
	return func(t *Tracker) {
		if on {
			t.markdown = newMarkdowner()
		} else {
			t.markdown = nil
		}
	}
}

// NewTracker returns a Tracker with the default role rules and KeyContent.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		rules:  DefaultRoleRules(),
		key:    KeyContent,
		logger: report.Discard,
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// DedupKey returns the key in effect.
func (t *Tracker) DedupKey() DedupKey { return t.key }

// Track considers the last keep candidates (document order) and appends the
// ones h does not already hold. Candidates whose node is gone or detached
// are skipped. Track does not log; pass its result to LogInserted.
func (t *Tracker) Track(candidates []classify.ElementRecord, h *History) []report.Inserted {
	keep := t.keep
	if keep <= 0 {
		keep = h.Cap()
	}
	start := len(candidates) - keep
	if start < 0 {
		start = 0
	}

	var out []report.Inserted
	for i, c := range candidates[start:] {
		n := c.Node()
		if n == nil || !dom.Attached(n) {
			continue
		}
		m := MessageRecord{
			Text:      c.Text,
			Tag:       c.Tag,
			ID:        c.ID,
			Classes:   c.Classes,
			Attrs:     c.Attrs,
			Depth:     c.Depth,
			Timestamp: t.now().UnixMilli(),
			Key:       int64(c.Key),
		}
		if p := dom.ParentElement(n); p != nil {
			m.ParentTag = p.Data
			m.ParentID, _ = dom.Attr(p, "id")
			m.ParentClasses = dom.Classes(p)
		}
		m.Role = t.rules.Derive(m.Classes, m.ParentClasses)
		if t.markdown != nil {
			m.Markdown = t.markdown.render(n)
		}

		added, elapsed := h.Add(m, t.key)
		if !added {
			continue
		}
		ins := report.Inserted{Position: i + 1, Message: m, Role: m.Role, Elapsed: elapsed}
		out = append(out, ins)
	}
	return out
}

// LogInserted writes one site block per inserted record.
func (t *Tracker) LogInserted(inserted []report.Inserted) {
	for _, ins := range inserted {
		t.logInsert(ins)
	}
}

func (t *Tracker) logInsert(ins report.Inserted) {
	at := ins.Message.Time()
	m := ins.Message
	t.logger.Log(report.LogSite, at, fmt.Sprintf("New message at position %d (%s)", ins.Position, ins.Role))
	t.logger.Log(report.LogSite, at, fmt.Sprintf("  Text: %q", m.Text))
	t.logger.Log(report.LogSite, at, fmt.Sprintf("  Element: <%s> depth %d", report.ElementDetail{Tag: m.Tag, ID: m.ID, Classes: m.Classes}.Selector(), m.Depth))
	t.logger.Log(report.LogSite, at, fmt.Sprintf("  Time since last: %dms", ins.Elapsed))
}
