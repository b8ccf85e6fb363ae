// Package sink defines output backends for chatwatch reports.
package sink

import (
	"context"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Sink is the output interface. Implementations deliver mutation batches,
// pass reports and log lines to different backends (stdout, webhook,
// in-process callback).
type Sink interface {
	Send(ctx context.Context, batch report.Batch) error
	SendPass(ctx context.Context, pass report.Pass) error
	SendLines(ctx context.Context, lines []report.Line) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
