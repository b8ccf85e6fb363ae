package prefs

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestStore_Version(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	v, err := s.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("empty store version = %d", v)
	}
	if err := s.SetToggle(ctx, "site", false); err != nil {
		t.Fatal(err)
	}
	if v, _ = s.Version(ctx); v == 0 {
		t.Fatal("version did not advance after a write")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got map[string]bool
	w := s.Watch(WatchOptions{Interval: 5 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, []string{"site", "network"}, func(m map[string]bool) {
			mu.Lock()
			got = m
			mu.Unlock()
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.SetToggle(context.Background(), "network", false); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		on, ok := got["network"]
		mu.Unlock()
		if ok && !on {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("toggle change not reloaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.Reloads() == 0 || w.Version() == 0 {
		t.Errorf("reloads = %d, version = %d", w.Reloads(), w.Version())
	}

	cancel()
	<-done
}

func TestWatcher_NoChangeNoReload(t *testing.T) {
	s := newStore(t)
	if err := s.SetToggle(context.Background(), "site", true); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := s.Watch(WatchOptions{Interval: 5 * time.Millisecond})
	w.Run(ctx, []string{"site"}, func(map[string]bool) {
		t.Error("apply called without a change")
	})
	if w.Reloads() != 0 {
		t.Errorf("reloads = %d", w.Reloads())
	}
}
