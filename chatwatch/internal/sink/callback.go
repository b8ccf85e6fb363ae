package sink

import (
	"context"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// BatchFunc is called for each merged mutation batch.
type BatchFunc func(ctx context.Context, batch report.Batch) error

// PassFunc is called for each pass report.
type PassFunc func(ctx context.Context, pass report.Pass) error

// LinesFunc is called for each flushed group of log lines.
type LinesFunc func(ctx context.Context, lines []report.Line) error

// Callback delivers reports via Go function calls, for embedding chatwatch
// in another program.
type Callback struct {
	onBatch BatchFunc
	onPass  PassFunc
	onLines LinesFunc
}

// NewCallback creates a Callback sink. Any handler may be nil.
func NewCallback(onBatch BatchFunc, onPass PassFunc, onLines LinesFunc) *Callback {
	return &Callback{onBatch: onBatch, onPass: onPass, onLines: onLines}
}

func (c *Callback) Send(ctx context.Context, batch report.Batch) error {
	if c.onBatch != nil {
		return c.onBatch(ctx, batch)
	}
	return nil
}

func (c *Callback) SendPass(ctx context.Context, p report.Pass) error {
	if c.onPass != nil {
		return c.onPass(ctx, p)
	}
	return nil
}

func (c *Callback) SendLines(ctx context.Context, lines []report.Line) error {
	if c.onLines != nil {
		return c.onLines(ctx, lines)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
