package chatwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/dbopen"
)

func chatPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="thread" class="chat-thread">`)
	for i := 1; i <= n; i++ {
		role := "assistant-reply"
		if i%2 == 1 {
			role = "user-bubble"
		}
		fmt.Fprintf(&b, `<div class="chat-message %s">msg-%d</div>`, role, i)
	}
	b.WriteString(`</div><textarea id="prompt"></textarea></body></html>`)
	return b.String()
}

type capture struct {
	mu     sync.Mutex
	passes []report.Pass
	lines  []report.Line
}

func (c *capture) sink() Sink {
	return NewCallbackSink(nil,
		func(_ context.Context, p report.Pass) error {
			c.mu.Lock()
			c.passes = append(c.passes, p)
			c.mu.Unlock()
			return nil
		},
		func(_ context.Context, lines []report.Line) error {
			c.mu.Lock()
			c.lines = append(c.lines, lines...)
			c.mu.Unlock()
			return nil
		})
}

func (c *capture) passCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.passes)
}

func (c *capture) hasLine(category, substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if l.Category == category && strings.Contains(l.Text, substr) {
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

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logbook.Debounce = 5 * time.Millisecond
	return cfg
}

func openPage(t *testing.T, cfg *Config, n int, opts ...Option) *Session {
	t.Helper()
	s, err := OpenReader(cfg, strings.NewReader(chatPage(n)), "https://chat.test/c/1", opts...)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_ActivateTracksMessages(t *testing.T) {
	c := &capture{}
	s := openPage(t, testConfig(), 3, WithSinks(c.sink()))

	if err := s.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !s.Active() {
		t.Fatal("session should be active")
	}

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("history = %d records, want 3", len(hist))
	}
	if hist[0].Text != "msg-1" || hist[0].Role != report.RoleUser {
		t.Errorf("first record = %q/%s, want msg-1/user", hist[0].Text, hist[0].Role)
	}
	if hist[1].Role != report.RoleAssistant {
		t.Errorf("second record role = %s, want assistant", hist[1].Role)
	}
	if c.passCount() != 1 {
		t.Errorf("passes = %d, want 1", c.passCount())
	}

	st := s.Status()
	if !st.Active || st.History != 3 || st.Passes != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Container != "div#thread.chat-thread" {
		t.Errorf("container = %q", st.Container)
	}
	if !strings.Contains(st.Text, "History: 3 | Uptime: ") {
		t.Errorf("status text = %q", st.Text)
	}
}

func TestSession_DeactivateKeepsHistoryAndLogs(t *testing.T) {
	s := openPage(t, testConfig(), 2)
	ctx := context.Background()

	if err := s.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Deactivate(); err != nil {
		t.Fatal(err)
	}

	st := s.Status()
	if st.Active {
		t.Error("still active")
	}
	if st.Uptime != 0 {
		t.Errorf("uptime = %v while inactive, want 0", st.Uptime)
	}
	if st.History != 2 {
		t.Errorf("history = %d after deactivate, want 2", st.History)
	}
	if st.Logs == 0 {
		t.Error("log lines dropped on deactivate")
	}

	if _, err := s.Rescan(ctx); !errors.Is(err, ErrInactive) {
		t.Errorf("Rescan while inactive: %v, want ErrInactive", err)
	}
}

func TestSession_Clear(t *testing.T) {
	s := openPage(t, testConfig(), 2)
	if err := s.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Clear()
	if n := len(s.History()); n != 0 {
		t.Errorf("history = %d after clear", n)
	}
	if lines, _ := s.Logs(0); len(lines) != 0 {
		t.Errorf("logs = %d after clear", len(lines))
	}
}

func TestSession_RescanIsIdempotent(t *testing.T) {
	s := openPage(t, testConfig(), 4)
	ctx := context.Background()
	if err := s.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := s.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan: %v", err)
	}
	if p.Trigger != report.TriggerManual {
		t.Errorf("trigger = %s", p.Trigger)
	}
	if len(p.Inserted) != 0 {
		t.Errorf("rescan of unchanged page inserted %d records", len(p.Inserted))
	}
	if n := len(s.History()); n != 4 {
		t.Errorf("history = %d, want 4", n)
	}
}

func TestSession_LogLinesReachSinks(t *testing.T) {
	c := &capture{}
	s := openPage(t, testConfig(), 1, WithSinks(c.sink()))
	if err := s.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "plugin line", func() bool { return c.hasLine(report.LogPlugin, "Observation started") })
}

func TestSession_TogglePersists(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()

	s := openPage(t, testConfig(), 1, WithDB(db))
	if err := s.SetToggle(ctx, report.LogNetwork, false); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}
	if s.Toggles()[report.LogNetwork] {
		t.Error("network still enabled")
	}

	again := openPage(t, testConfig(), 1, WithDB(db))
	if again.Toggles()[report.LogNetwork] {
		t.Error("stored toggle not applied to new session")
	}
	if !again.Toggles()[report.LogSite] {
		t.Error("site should default to enabled")
	}
}

func TestSession_ConfigTogglesOverriddenByStore(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()

	first := openPage(t, testConfig(), 1, WithDB(db))
	if err := first.SetToggle(ctx, report.LogSite, true); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Logbook.Toggles = map[string]bool{report.LogSite: false, report.LogTrimmer: false}
	s := openPage(t, cfg, 1, WithDB(db))
	tg := s.Toggles()
	if !tg[report.LogSite] {
		t.Error("stored site=true should win over config")
	}
	if tg[report.LogTrimmer] {
		t.Error("config trimmer=false should apply")
	}
}

func TestSession_MetricsRecorded(t *testing.T) {
	db := dbopen.OpenMemory(t)
	cfg := testConfig()
	cfg.Store.Metrics = true

	s := openPage(t, cfg, 2, WithDB(db))
	if err := s.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.metrics.Flush()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chatwatch_metrics`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n == 0 {
		t.Error("no metrics recorded for the activation pass")
	}
}

func TestSession_CloseDisposes(t *testing.T) {
	s, err := OpenReader(testConfig(), strings.NewReader(chatPage(1)), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Activate(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Activate after Close: %v, want ErrDisposed", err)
	}
}

func TestSession_Handler(t *testing.T) {
	s := openPage(t, testConfig(), 3)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/activate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/history?format=text")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Text: msg-3") {
		t.Errorf("history body missing msg-3:\n%s", body)
	}
	if !strings.Contains(string(body), "Role: User") {
		t.Errorf("history body missing role:\n%s", body)
	}
}

func TestSinksFromConfig(t *testing.T) {
	var buf bytes.Buffer
	sinks, err := SinksFromConfig([]SinkConfig{
		{Type: "stdout", Format: "text"},
		{Type: "webhook", URL: "http://127.0.0.1:1/hook", Retries: 1},
	}, &buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 2 {
		t.Fatalf("sinks = %d", len(sinks))
	}

	if _, err := SinksFromConfig([]SinkConfig{{Type: "kafka"}}, &buf, nil); err == nil {
		t.Error("unknown sink type accepted")
	}
}

func TestOpenFile_Missing(t *testing.T) {
	if _, err := OpenFile(testConfig(), "/nonexistent/page.html"); err == nil {
		t.Error("expected error")
	}
}

func TestSession_WatchPrefsAppliesExternalToggles(t *testing.T) {
	db := dbopen.OpenMemory(t)
	cfg := testConfig()
	cfg.Store.WatchPrefs = 5 * time.Millisecond

	watching := openPage(t, cfg, 1, WithDB(db))
	other := openPage(t, testConfig(), 1, WithDB(db))

	time.Sleep(20 * time.Millisecond)
	if err := other.SetToggle(context.Background(), report.LogTrimmer, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "trimmer disabled", func() bool { return !watching.Toggles()[report.LogTrimmer] })
}
