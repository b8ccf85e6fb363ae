package chatwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/chatwatch/chatwatch/internal/sink"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Sink is the output interface for batches, passes and log lines.
type Sink = sink.Sink

// NewStdoutSink creates a stdout sink writing JSON lines or text.
func NewStdoutSink(w io.Writer, format string) Sink {
	return sink.NewStdout(w, sink.Format(format))
}

// NewWebhookSink creates a webhook POST sink with retry.
// Zero retries keeps the default.
func NewWebhookSink(url string, logger *slog.Logger, retries int) Sink {
	var opts []sink.WebhookOption
	if logger != nil {
		opts = append(opts, sink.WithWebhookLogger(logger))
	}
	if retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(retries))
	}
	return sink.NewWebhook(url, opts...)
}

// NewCallbackSink creates an in-process sink. Any callback may be nil.
func NewCallbackSink(
	onBatch func(ctx context.Context, batch report.Batch) error,
	onPass func(ctx context.Context, pass report.Pass) error,
	onLines func(ctx context.Context, lines []report.Line) error,
) Sink {
	return sink.NewCallback(onBatch, onPass, onLines)
}

// SinksFromConfig builds the configured sinks. Stdout sinks write to w.
func SinksFromConfig(cfgs []SinkConfig, w io.Writer, logger *slog.Logger) ([]Sink, error) {
	out := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(w, c.Format))
		case "webhook":
			out = append(out, NewWebhookSink(c.URL, logger, c.Retries))
		default:
			return nil, fmt.Errorf("chatwatch: sinks[%d]: unknown type %q", i, c.Type)
		}
	}
	return out, nil
}
