package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// BodyLimit caps logged request bodies.
const BodyLimit = 50

// NetworkInstrument logs request and response metadata from the CDP
// Network domain. Requests are never modified.
type NetworkInstrument struct {
	page *rod.Page
	now  func() time.Time
}

// NewNetworkInstrument creates a network listener for page.
func NewNetworkInstrument(page *rod.Page) *NetworkInstrument {
	return &NetworkInstrument{page: page, now: time.Now}
}

func (n *NetworkInstrument) Name() string { return "network" }

// Attach enables the Network domain and logs until detach.
func (n *NetworkInstrument) Attach(ctx context.Context, log report.Logger) (func(), error) {
	if err := (proto.NetworkEnable{}).Call(n.page); err != nil {
		return nil, fmt.Errorf("observer: Network.enable: %w", err)
	}

	t := newRequestTable(n.now)
	actx, cancel := context.WithCancel(ctx)
	wait := n.page.Context(actx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Request == nil {
				return
			}
			at := t.start(e.RequestID)
			log.Log(report.LogNetwork, at, requestLine(e.Request.Method, e.Request.URL, headerJSON(e.Request.Headers), e.Request.PostData))
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			at, lat := t.finish(e.RequestID)
			log.Log(report.LogNetwork, at, responseLine(e.Response.URL, e.Response.Status, lat))
		},
		func(e *proto.NetworkLoadingFailed) {
			at, lat := t.finish(e.RequestID)
			log.Log(report.LogNetwork, at, failureLine(string(e.RequestID), e.ErrorText, lat))
		},
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			t.reset()
			_ = proto.NetworkDisable{}.Call(n.page)
		})
	}, nil
}

// maxInFlight bounds the request table. Requests that never finish (data
// URLs, aborted redirects, open streams) would otherwise accumulate.
const maxInFlight = 1024

// requestTable remembers request start times for latency.
type requestTable struct {
	mu      sync.Mutex
	now     func() time.Time
	max     int
	started map[proto.NetworkRequestID]time.Time
}

func newRequestTable(now func() time.Time) *requestTable {
	return &requestTable{now: now, max: maxInFlight, started: make(map[proto.NetworkRequestID]time.Time)}
}

// start records id, evicting the oldest entry when the table is full.
func (t *requestTable) start(id proto.NetworkRequestID) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if _, ok := t.started[id]; !ok && len(t.started) >= t.max {
		var oldest proto.NetworkRequestID
		var at time.Time
		first := true
		for k, v := range t.started {
			if first || v.Before(at) {
				oldest, at, first = k, v, false
			}
		}
		delete(t.started, oldest)
	}
	t.started[id] = now
	return now
}

func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.started)
}

func (t *requestTable) reset() {
	t.mu.Lock()
	clear(t.started)
	t.mu.Unlock()
}

// finish returns the current time and the latency since start, or -1 when
// the request was not seen.
func (t *requestTable) finish(id proto.NetworkRequestID) (time.Time, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	s, ok := t.started[id]
	if !ok {
		return now, -1
	}
	delete(t.started, id)
	return now, now.Sub(s)
}

func headerJSON(h proto.NetworkHeaders) string {
	if len(h) == 0 {
		return "{}"
	}
	b, err := json.Marshal(h)
	if err != nil {
		return report.NA
	}
	return string(b)
}

func requestLine(method, url, headers, body string) string {
	if method == "" {
		method = "GET"
	}
	if body == "" {
		body = report.NA
	} else {
		body = classify.Truncate(body, BodyLimit)
	}
	return fmt.Sprintf("Request: %s %s, Headers: %s, Body: %s", method, url, headers, body)
}

func responseLine(url string, status int, lat time.Duration) string {
	return fmt.Sprintf("Response: %s, Status: %d, Latency: %s", url, status, latency(lat))
}

func failureLine(id, reason string, lat time.Duration) string {
	return fmt.Sprintf("Request %s failed: %s, Latency: %s", id, reason, latency(lat))
}

func latency(d time.Duration) string {
	if d < 0 {
		return report.NA
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
