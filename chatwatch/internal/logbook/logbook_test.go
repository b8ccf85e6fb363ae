package logbook

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

type collector struct {
	mu      sync.Mutex
	flushes [][]report.Line
}

func (c *collector) flush(lines []report.Line) {
	c.mu.Lock()
	c.flushes = append(c.flushes, lines)
	c.mu.Unlock()
}

func (c *collector) count() (flushes, lines int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.flushes {
		lines += len(f)
	}
	return len(c.flushes), lines
}

func TestBook_CoalescesBurst(t *testing.T) {
	c := &collector{}
	b := New(Config{Debounce: 30 * time.Millisecond, Flush: c.flush})
	defer b.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		b.Log(report.LogSite, now, fmt.Sprint(i))
	}
	time.Sleep(150 * time.Millisecond)

	flushes, lines := c.count()
	if flushes != 1 || lines != 10 {
		t.Fatalf("flushes=%d lines=%d, want 1 flush of 10", flushes, lines)
	}
	if b.Len() != 10 {
		t.Fatalf("flush must not drop retained lines: len=%d", b.Len())
	}
}

func TestBook_MaxPendingFlushesImmediately(t *testing.T) {
	c := &collector{}
	b := New(Config{Debounce: time.Hour, MaxPending: 3, Flush: c.flush})
	defer b.Close()

	for i := 0; i < 3; i++ {
		b.Log(report.LogPlugin, time.Now(), "x")
	}
	deadline := time.Now().Add(time.Second)
	for {
		flushes, lines := c.count()
		if flushes == 1 && lines == 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("flushes=%d lines=%d", flushes, lines)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBook_SlowFlushDoesNotBlockLog(t *testing.T) {
	release := make(chan struct{})
	var calls sync.WaitGroup
	calls.Add(1)
	var once sync.Once
	b := New(Config{Debounce: time.Hour, MaxPending: 1, Flush: func([]report.Line) {
		once.Do(calls.Done)
		<-release
	}})

	b.Log(report.LogSite, time.Now(), "first")
	calls.Wait()

	start := time.Now()
	for i := 0; i < 100; i++ {
		b.Log(report.LogSite, time.Now(), "more")
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("Log blocked behind the flush for %v", d)
	}
	if b.Len() != 101 {
		t.Fatalf("retained %d lines, want 101", b.Len())
	}
	close(release)
	b.Close()
}

func TestBook_CloseFlushesPending(t *testing.T) {
	c := &collector{}
	b := New(Config{Debounce: time.Hour, Flush: c.flush})
	b.Log(report.LogSite, time.Now(), "a")
	b.Log(report.LogSite, time.Now(), "b")
	b.Close()
	b.Close()
	if _, lines := c.count(); lines != 2 {
		t.Fatalf("lines flushed on close = %d, want 2", lines)
	}
}

func TestBook_Gating(t *testing.T) {
	b := New(Config{Enabled: map[string]bool{report.LogNetwork: false}})
	defer b.Close()

	b.Log(report.LogNetwork, time.Now(), "hidden")
	b.Log(report.LogSite, time.Now(), "shown")
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}

	b.SetEnabled(report.LogNetwork, true)
	b.Log(report.LogNetwork, time.Now(), "now shown")
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}
	if !b.Toggles()[report.LogTrimmer] {
		t.Fatal("categories default to enabled")
	}
}

func TestBook_RetentionAndSince(t *testing.T) {
	b := New(Config{Retention: 3})
	defer b.Close()

	for i := 0; i < 5; i++ {
		b.Log(report.LogSite, time.UnixMilli(int64(i)), fmt.Sprint(i))
	}
	lines := b.Lines()
	var got []string
	for _, l := range lines {
		got = append(got, l.Text)
	}
	if strings.Join(got, ",") != "2,3,4" {
		t.Fatalf("retained = %v, want 2,3,4", got)
	}

	tail, pos := b.Since(3)
	if len(tail) != 2 || tail[0].Text != "3" || pos != 5 {
		t.Fatalf("Since(3) = %v, %d", tail, pos)
	}
	if tail, pos := b.Since(pos); tail != nil || pos != 5 {
		t.Fatalf("Since(end) = %v, %d", tail, pos)
	}
	// Evicted positions start at the oldest retained line.
	if tail, _ := b.Since(0); len(tail) != 3 {
		t.Fatalf("Since(0) = %d lines", len(tail))
	}
}

func TestBook_ClearAndText(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	b.Log(report.LogSite, time.UnixMilli(0), "hello")
	if !strings.HasPrefix(b.Text(), "[Site]     | 1970-01-01T00:00:00.000Z | hello") {
		t.Fatalf("Text = %q", b.Text())
	}
	b.Clear()
	if b.Len() != 0 || b.Text() != "" {
		t.Fatal("Clear left lines")
	}
	b.Log(report.LogSite, time.Now(), "again")
	if b.Len() != 1 {
		t.Fatalf("len after clear = %d", b.Len())
	}
}

func TestBook_ClosedDropsLines(t *testing.T) {
	b := New(Config{})
	b.Close()
	b.Log(report.LogSite, time.Now(), "late")
	if b.Len() != 0 {
		t.Fatal("closed book accepted a line")
	}
}
