package engine

import (
	"context"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Source is the document the engine observes.
type Source interface {
	// Snapshot returns the current document.
	Snapshot(ctx context.Context) (*dom.Document, error)
	// Subscribe delivers subtree mutation batches until stop is called or
	// ctx is done. deliver may block; it must not be called after stop
	// returns.
	Subscribe(ctx context.Context, deliver func(report.Batch)) (stop func(), err error)
}

// Instrument is an observational hook attached while the engine is active
// (network listener, page error hook). detach must be idempotent.
type Instrument interface {
	Name() string
	Attach(ctx context.Context, log report.Logger) (detach func(), err error)
}

// Probe reads host-global state after each pass and logs it.
type Probe interface {
	Probe(ctx context.Context, log report.Logger)
}

// Sink receives what the engine produces.
type Sink interface {
	Send(ctx context.Context, batch report.Batch) error
	SendPass(ctx context.Context, pass report.Pass) error
}

// Metrics records numeric observations.
type Metrics interface {
	Observe(name string, value float64, labels map[string]string)
}
