// Package observer implements the live document source over the Chrome
// DevTools Protocol: DOM snapshots from DOM.getDocument, mutation batches
// and page events from an injected MutationObserver reporting through a
// Runtime binding, and host-only element detail for the classifier.
package observer

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/idgen"
)

// observerJS is a function expression; Eval invokes it.
//
//go:embed observer.js
var observerJS string

const bindingName = "__chatwatch_binding"

// Config for creating an Observer.
type Config struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	// Limits bound strings in mutation and event detail.
	Limits classify.Limits

	// Log receives page events under the site category.
	Log report.Logger

	Logger *slog.Logger
}

// Observer is an engine source over one CDP page.
type Observer struct {
	page   *rod.Page
	url    string
	id     string
	lim    classify.Limits
	log    report.Logger
	logger *slog.Logger

	seq atomic.Uint64

	mu  sync.Mutex
	sub *subscription
}

// New creates an Observer for page.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Log == nil {
		cfg.Log = report.Discard
	}
	if cfg.Limits.Text <= 0 {
		cfg.Limits.Text = classify.DefaultTextLimit
	}
	if cfg.Limits.Attr <= 0 {
		cfg.Limits.Attr = classify.DefaultAttrLimit
	}
	return &Observer{
		page:   cfg.Page,
		url:    cfg.PageURL,
		id:     cfg.PageID,
		lim:    cfg.Limits,
		log:    cfg.Log,
		logger: cfg.Logger,
	}
}

// Snapshot fetches the full document with DOM.getDocument (depth -1,
// pierce) and converts it. Element keys are backend node IDs, stable for
// the life of the node.
func (o *Observer) Snapshot(ctx context.Context) (*dom.Document, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(o.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("observer: DOM.getDocument: %w", err)
	}
	root, keys := convert(res.Root)
	doc := dom.New(root, keys)
	doc.URL = o.url
	if res.Root.DocumentURL != "" {
		doc.URL = res.Root.DocumentURL
	}
	doc.Inspector = &inspector{page: o.page}
	return doc, nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	remove func() error
}

// Subscribe installs the binding and observer.js, and delivers mutation
// batches until stop is called. Only one subscription is live at a time;
// a new one replaces the previous.
func (o *Observer) Subscribe(ctx context.Context, deliver func(report.Batch)) (func(), error) {
	o.mu.Lock()
	prev := o.sub
	o.sub = nil
	o.mu.Unlock()
	if prev != nil {
		o.stop(prev)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(o.page); err != nil {
		return nil, fmt.Errorf("observer: add binding: %w", err)
	}
	if err := (proto.DOMEnable{}).Call(o.page); err != nil {
		o.logger.Warn("observer: DOM.enable failed", "error", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	wait := o.page.Context(sctx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != bindingName {
				return
			}
			o.handlePayload(e.Payload, deliver)
		},
		func(e *proto.DOMDocumentUpdated) {
			o.deliver(deliver, []report.Record{{Op: report.OpDocReset}})
			go o.reinject(sctx)
		},
	)
	go func() {
		defer close(sub.done)
		wait()
	}()

	remove, err := o.page.EvalOnNewDocument("(" + observerJS + ")()")
	if err != nil {
		o.logger.Warn("observer: register on-new-document script failed", "error", err)
	} else {
		sub.remove = remove
	}
	if _, err := o.page.Context(ctx).Eval(observerJS); err != nil {
		o.stop(sub)
		return nil, fmt.Errorf("observer: inject: %w", err)
	}

	o.mu.Lock()
	o.sub = sub
	o.mu.Unlock()

	o.logger.Debug("observer: subscribed", "url", o.url)
	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			if o.sub == sub {
				o.sub = nil
			}
			o.mu.Unlock()
			o.stop(sub)
		})
	}, nil
}

// stop tears a subscription down. When it returns no handler is running
// and none will run.
func (o *Observer) stop(sub *subscription) {
	sub.cancel()
	<-sub.done
	if sub.remove != nil {
		if err := sub.remove(); err != nil {
			o.logger.Debug("observer: remove on-new-document script", "error", err)
		}
	}
	if _, err := o.page.Eval(`() => window.__chatwatch_stop && window.__chatwatch_stop()`); err != nil {
		o.logger.Debug("observer: stop script", "error", err)
	}
	if err := (proto.RuntimeRemoveBinding{Name: bindingName}).Call(o.page); err != nil {
		o.logger.Debug("observer: remove binding", "error", err)
	}
}

// reinject installs observer.js into a replaced document. The script is
// idempotent.
func (o *Observer) reinject(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := o.page.Context(ctx).Eval(observerJS); err != nil && ctx.Err() == nil {
		o.logger.Warn("observer: re-inject after document reset failed", "error", err)
	}
}

func (o *Observer) handlePayload(raw string, deliver func(report.Batch)) {
	p, err := decodePayload(raw, o.lim)
	if err != nil {
		o.logger.Warn("observer: bad binding payload", "error", err)
		return
	}
	switch p.Kind {
	case "mutations":
		o.deliver(deliver, p.Records)
	case "event":
		now := time.Now()
		for _, line := range eventLines(p) {
			o.log.Log(report.LogSite, now, line)
		}
	}
}

func (o *Observer) deliver(deliver func(report.Batch), records []report.Record) {
	if len(records) == 0 {
		return
	}
	deliver(report.Batch{
		ID:        idgen.Batch(),
		PageURL:   o.url,
		PageID:    o.id,
		Seq:       o.seq.Add(1),
		Records:   records,
		Timestamp: time.Now().UnixMilli(),
	})
}
