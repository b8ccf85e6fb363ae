package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/history"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/logbook"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

type memSink struct {
	mu      sync.Mutex
	batches []report.Batch
	passes  []report.Pass
}

func (s *memSink) Send(_ context.Context, b report.Batch) error {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	return nil
}

func (s *memSink) SendPass(_ context.Context, p report.Pass) error {
	s.mu.Lock()
	s.passes = append(s.passes, p)
	s.mu.Unlock()
	return nil
}

func (s *memSink) passCount(trigger report.Trigger) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.passes {
		if p.Trigger == trigger {
			n++
		}
	}
	return n
}

func (s *memSink) findPass(fn func(report.Pass) bool) (report.Pass, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.passes {
		if fn(p) {
			return p, true
		}
	}
	return report.Pass{}, false
}

type memLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *memLog) Log(cat string, _ time.Time, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, cat+": "+msg)
	l.mu.Unlock()
}

func (l *memLog) has(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func thread(id string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div id="%s" class="chat-thread">`, id)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div class="message">msg-%d</div>`, i)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func byID(root *html.Node, id string) *html.Node {
	return classify.MustCompile("#" + id).First(root)
}

type harness struct {
	eng  *Engine
	src  *TreeSource
	sink *memSink
	log  *memLog
}

func newHarness(t *testing.T, body string, tweak func(*Config)) *harness {
	t.Helper()
	tree, err := dom.ParseTreeString("<html><body>" + body + "</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{src: NewTreeSource(tree), sink: &memSink{}, log: &memLog{}}
	cfg := Config{
		Source:       h.src,
		Classifier:   classify.New(classify.DefaultTable(), classify.WithLogger(h.log)),
		Tracker:      history.NewTracker(history.WithLogger(h.log)),
		History:      history.New(5),
		Log:          h.log,
		Sink:         h.sink,
		IdleWindow:   20 * time.Millisecond,
		PollInterval: time.Hour,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.eng = New(cfg)
	t.Cleanup(h.eng.Dispose)
	return h
}

func texts(h *history.History) string {
	var out []string
	for _, r := range h.Records() {
		out = append(out, r.Text)
	}
	return strings.Join(out, ",")
}

func TestEngine_EndToEndEviction(t *testing.T) {
	h := newHarness(t, thread("t", 5), nil)

	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	hist := h.eng.History()
	if got := texts(hist); got != "msg-1,msg-2,msg-3,msg-4,msg-5" {
		t.Fatalf("after activation: %s", got)
	}

	h.src.Apply(func(root *html.Node) []report.Record {
		msg := Element("div", "msg-6", "class", "message")
		return []report.Record{AppendElement(byID(root, "t"), msg)}
	})

	waitFor(t, "msg-6 tracked", func() bool { return strings.Contains(texts(hist), "msg-6") })
	if got := texts(hist); got != "msg-2,msg-3,msg-4,msg-5,msg-6" {
		t.Fatalf("after sixth message: %s", got)
	}
	if !h.log.has("site: Mutation: childList on div#t") {
		t.Error("mutation target not logged")
	}
	if !h.log.has(`Text: "msg-6"`) {
		t.Error("added element detail not logged")
	}
	p, ok := h.sink.findPass(func(p report.Pass) bool { return p.Trigger == report.TriggerMutation })
	if !ok || len(p.Inserted) != 1 || p.Inserted[0].Position != 5 {
		t.Fatalf("mutation pass = %+v", p)
	}
}

func TestEngine_CoalescesBurst(t *testing.T) {
	h := newHarness(t, thread("t", 0), func(c *Config) { c.IdleWindow = 60 * time.Millisecond })
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 10; i++ {
		h.src.Apply(func(root *html.Node) []report.Record {
			msg := Element("div", fmt.Sprintf("burst-%d", i), "class", "message")
			return []report.Record{AppendElement(byID(root, "t"), msg)}
		})
	}

	waitFor(t, "mutation pass", func() bool { return h.sink.passCount(report.TriggerMutation) > 0 })
	time.Sleep(150 * time.Millisecond)

	if n := h.sink.passCount(report.TriggerMutation); n != 1 {
		t.Fatalf("mutation passes = %d, want 1", n)
	}
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if len(h.sink.batches) != 1 || len(h.sink.batches[0].Records) != 10 {
		t.Fatalf("merged batches = %d", len(h.sink.batches))
	}
}

func TestEngine_ContainerSwapDetectedByPoll(t *testing.T) {
	h := newHarness(t, thread("a", 1), func(c *Config) { c.PollInterval = 30 * time.Millisecond })
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := h.eng.ContainerKey()

	var b *html.Node
	h.src.Apply(func(root *html.Node) []report.Record {
		a := byID(root, "a")
		body := a.Parent
		body.RemoveChild(a)
		b = Element("div", "", "id", "b", "class", "chat-thread")
		b.AppendChild(Element("div", "swapped", "class", "message"))
		body.AppendChild(b)
		return nil // observer missed it
	})

	waitFor(t, "poll pass with new container", func() bool {
		_, ok := h.sink.findPass(func(p report.Pass) bool {
			return p.Trigger == report.TriggerPoll && p.ContainerChanged && p.Tracked
		})
		return ok
	})
	if h.eng.ContainerKey() == first {
		t.Fatal("container key not updated")
	}
	if got, want := h.eng.ContainerKey(), h.src.Tree().KeyOf(b); got != want {
		t.Fatalf("container key = %d, want %d", got, want)
	}
	if !strings.Contains(texts(h.eng.History()), "swapped") {
		t.Fatal("tracker did not run after the swap")
	}
	if h.sink.passCount(report.TriggerMutation) != 0 {
		t.Fatal("no mutation was delivered, no mutation pass expected")
	}
}

func TestEngine_PollWithoutChangeDoesNotTrack(t *testing.T) {
	h := newHarness(t, thread("a", 1), func(c *Config) { c.PollInterval = 20 * time.Millisecond })
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "poll passes", func() bool { return h.sink.passCount(report.TriggerPoll) >= 2 })
	if _, ok := h.sink.findPass(func(p report.Pass) bool {
		return p.Trigger == report.TriggerPoll && p.Tracked
	}); ok {
		t.Fatal("poll tracked although the container did not change")
	}
}

func TestEngine_DeactivationHaltsWork(t *testing.T) {
	h := newHarness(t, thread("t", 2), func(c *Config) { c.IdleWindow = 50 * time.Millisecond })
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	snapshots := h.src.Snapshots()
	before := texts(h.eng.History())

	h.src.Apply(func(root *html.Node) []report.Record {
		return []report.Record{AppendElement(byID(root, "t"), Element("div", "late", "class", "message"))}
	})
	h.eng.Deactivate()
	time.Sleep(150 * time.Millisecond)

	if got := h.src.Snapshots(); got != snapshots {
		t.Fatalf("snapshots after deactivate = %d, want %d", got, snapshots)
	}
	if got := texts(h.eng.History()); got != before {
		t.Fatalf("history changed after deactivate: %s", got)
	}
	if h.eng.Active() {
		t.Fatal("still active")
	}

	// Later mutations are not delivered at all.
	h.src.Apply(func(root *html.Node) []report.Record {
		return []report.Record{AppendElement(byID(root, "t"), Element("div", "later", "class", "message"))}
	})
	time.Sleep(80 * time.Millisecond)
	if h.sink.passCount(report.TriggerMutation) != 0 {
		t.Fatal("mutation pass ran while inactive")
	}

	// History survives and reactivation catches up.
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := texts(h.eng.History()); got != "msg-1,msg-2,late,later" {
		t.Fatalf("after reactivation: %s", got)
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	h := newHarness(t, thread("t", 1), nil)
	ctx := context.Background()

	if _, err := h.eng.Rescan(ctx); !errors.Is(err, ErrInactive) {
		t.Fatalf("Rescan inactive = %v", err)
	}
	if err := h.eng.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if n := h.src.Snapshots(); n != 1 {
		t.Fatalf("double activate ran %d passes", n)
	}

	p, err := h.eng.Rescan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if p.Trigger != report.TriggerManual || p.Count("message") != 1 {
		t.Fatalf("rescan pass = %+v", p)
	}

	st := h.eng.Stats()
	if !st.Active || st.Passes != 2 || st.HistoryLen != 1 || st.Container.ID != "t" {
		t.Fatalf("stats = %+v", st)
	}

	h.eng.ClearHistory()
	if h.eng.History().Len() != 0 {
		t.Fatal("ClearHistory left records")
	}

	h.eng.Dispose()
	if err := h.eng.Activate(ctx); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Activate after Dispose = %v", err)
	}
	if !h.log.has("Observation stopped") {
		t.Fatal("deactivation not logged")
	}
}

type fakeInstrument struct {
	mu               sync.Mutex
	attached, detach int
	fail             bool
}

func (f *fakeInstrument) Name() string { return "fake" }

func (f *fakeInstrument) Attach(ctx context.Context, log report.Logger) (func(), error) {
	if f.fail {
		return nil, errors.New("no host api")
	}
	f.mu.Lock()
	f.attached++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.detach++
		f.mu.Unlock()
	}, nil
}

type countProbe struct{ n int }

func (p *countProbe) Probe(ctx context.Context, log report.Logger) {
	p.n++
	log.Log(report.LogTrimmer, time.Now(), "probe")
}

func TestEngine_InstrumentsAndProbe(t *testing.T) {
	ok := &fakeInstrument{}
	broken := &fakeInstrument{fail: true}
	probe := &countProbe{}
	h := newHarness(t, thread("t", 1), func(c *Config) {
		c.Instruments = []Instrument{ok, broken}
		c.Probe = probe
	})

	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ok.attached != 1 {
		t.Fatalf("attached = %d", ok.attached)
	}
	if !h.log.has("Instrument fake unavailable") {
		t.Fatal("failed instrument not reported")
	}
	h.eng.Deactivate()
	if ok.detach != 1 {
		t.Fatalf("detached = %d", ok.detach)
	}
	if probe.n != 1 || !h.log.has("trimmer: probe") {
		t.Fatalf("probe runs = %d", probe.n)
	}
}

type failingSource struct{ *TreeSource }

func (failingSource) Subscribe(context.Context, func(report.Batch)) (func(), error) {
	return nil, errors.New("binding refused")
}

func TestEngine_SubscribeFailure(t *testing.T) {
	h := newHarness(t, thread("t", 1), nil)
	eng := New(Config{Source: failingSource{h.src}, PollInterval: time.Hour})
	if err := eng.Activate(context.Background()); err == nil {
		t.Fatal("expected subscribe error")
	}
	if eng.Active() {
		t.Fatal("engine active after failed activation")
	}
}

// gateLog blocks the first armed call whose message has prefix until
// released.
type gateLog struct {
	prefix  string
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateLog(prefix string) *gateLog {
	return &gateLog{prefix: prefix, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateLog) Log(_ string, _ time.Time, msg string) {
	if !g.armed.Load() || !strings.HasPrefix(msg, g.prefix) {
		return
	}
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func returnsWithin(t *testing.T, what string, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for more than %v", what, d)
	}
}

func TestEngine_TrackerLoggingOutsideStateLock(t *testing.T) {
	gate := newGateLog("New message")
	gate.armed.Store(true)
	h := newHarness(t, thread("t", 2), func(c *Config) {
		c.Tracker = history.NewTracker(history.WithLogger(gate))
	})

	activated := make(chan error, 1)
	go func() { activated <- h.eng.Activate(context.Background()) }()
	<-gate.entered

	returnsWithin(t, "Active", time.Second, func() { h.eng.Active() })
	returnsWithin(t, "Stats", time.Second, func() { h.eng.Stats() })

	close(gate.release)
	if err := <-activated; err != nil {
		t.Fatal(err)
	}
}

func TestEngine_SlowLogFlushDoesNotStallActivation(t *testing.T) {
	book := logbook.New(logbook.Config{
		MaxPending: 1,
		Flush:      func([]report.Line) { time.Sleep(300 * time.Millisecond) },
	})
	t.Cleanup(book.Close)
	h := newHarness(t, thread("t", 5), func(c *Config) {
		c.Log = book
		c.Classifier = classify.New(classify.DefaultTable(), classify.WithLogger(book), classify.WithVerbose(true))
		c.Tracker = history.NewTracker(history.WithLogger(book))
	})

	returnsWithin(t, "Activate", time.Second, func() {
		if err := h.eng.Activate(context.Background()); err != nil {
			t.Error(err)
		}
	})
	returnsWithin(t, "Active", 100*time.Millisecond, func() { h.eng.Active() })
	if h.eng.History().Len() != 5 {
		t.Fatalf("history len = %d", h.eng.History().Len())
	}
}

func TestEngine_DeactivateWaitsForClassify(t *testing.T) {
	gate := newGateLog("Found message")
	h := newHarness(t, thread("t", 1), func(c *Config) {
		c.Classifier = classify.New(classify.DefaultTable(), classify.WithLogger(gate))
	})
	if err := h.eng.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}

	gate.armed.Store(true)
	rescanned := make(chan error, 1)
	go func() {
		_, err := h.eng.Rescan(context.Background())
		rescanned <- err
	}()
	<-gate.entered

	deactivated := make(chan struct{})
	go func() {
		h.eng.Deactivate()
		close(deactivated)
	}()
	select {
	case <-deactivated:
		t.Fatal("Deactivate returned while a classification was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	<-deactivated
	// The pass began before Deactivate and is allowed to finish.
	if err := <-rescanned; err != nil {
		t.Fatalf("in-flight rescan = %v", err)
	}
	if _, err := h.eng.Rescan(context.Background()); !errors.Is(err, ErrInactive) {
		t.Fatalf("rescan after deactivate = %v", err)
	}
}
