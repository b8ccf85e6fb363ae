// Package control exposes the operator actions of a chatwatch session
// (activate, deactivate, clear, rescan, read history and logs, toggle log
// categories) as transport-neutral kit endpoints, and serves them over
// HTTP. The MCP transport registers the same endpoints.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/history"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/kit"
)

// ErrBadRequest marks invalid operator input.
var ErrBadRequest = errors.New("control: bad request")

// Status is a point-in-time view of a session.
type Status struct {
	Active    bool          `json:"active"`
	Uptime    time.Duration `json:"uptime_ns"`
	Logs      int           `json:"logs"`
	History   int           `json:"history"`
	Passes    uint64        `json:"passes"`
	Batches   uint64        `json:"batches"`
	Container string        `json:"container,omitempty"`
	Text      string        `json:"text"`
}

// StatusText renders the one-line summary shown to the operator.
func StatusText(logs, hist int, uptime time.Duration) string {
	return fmt.Sprintf("Logs: %d | History: %d | Uptime: %ds", logs, hist, int64(uptime/time.Second))
}

// Controller is what the endpoints act on.
type Controller interface {
	Activate(ctx context.Context) error
	Deactivate() error
	Active() bool
	// Clear deletes retained log lines and the message history.
	Clear()
	Rescan(ctx context.Context) (report.Pass, error)
	History() []report.Message
	Logs(since int64) (lines []report.Line, next int64)
	Status() Status
	Toggles() map[string]bool
	SetToggle(ctx context.Context, category string, on bool) error
}

// HistoryRequest selects the history rendering.
type HistoryRequest struct {
	Format string `json:"format,omitempty"` // json | text | markdown
}

// LogsRequest pages through retained log lines.
type LogsRequest struct {
	Since  int64  `json:"since,omitempty"`
	Format string `json:"format,omitempty"` // json | text
}

// LogsResponse is the json logs page. Pass Next as Since to continue.
type LogsResponse struct {
	Lines []report.Line `json:"lines"`
	Next  int64         `json:"next"`
}

// PrefRequest toggles one log category.
type PrefRequest struct {
	Category string `json:"category"`
	Enabled  bool   `json:"enabled"`
}

// Endpoints are the operator actions.
type Endpoints struct {
	Activate   kit.Endpoint
	Deactivate kit.Endpoint
	Toggle     kit.Endpoint
	Clear      kit.Endpoint
	Rescan     kit.Endpoint
	History    kit.Endpoint
	Logs       kit.Endpoint
	Stats      kit.Endpoint
	Prefs      kit.Endpoint
	SetPref    kit.Endpoint
}

// NewEndpoints builds the endpoints over c, each wrapped with logging.
func NewEndpoints(c Controller, logger *slog.Logger) Endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Logging(logger, name)(e)
	}
	return Endpoints{
		Activate: wrap("activate", func(ctx context.Context, _ any) (any, error) {
			if err := c.Activate(ctx); err != nil {
				return nil, err
			}
			return c.Status(), nil
		}),
		Deactivate: wrap("deactivate", func(context.Context, any) (any, error) {
			if err := c.Deactivate(); err != nil {
				return nil, err
			}
			return c.Status(), nil
		}),
		Toggle: wrap("toggle", func(ctx context.Context, _ any) (any, error) {
			var err error
			if c.Active() {
				err = c.Deactivate()
			} else {
				err = c.Activate(ctx)
			}
			if err != nil {
				return nil, err
			}
			return c.Status(), nil
		}),
		Clear: wrap("clear", func(context.Context, any) (any, error) {
			c.Clear()
			return "Logs and history cleared", nil
		}),
		Rescan: wrap("rescan", func(ctx context.Context, _ any) (any, error) {
			return c.Rescan(ctx)
		}),
		History: wrap("history", func(_ context.Context, req any) (any, error) {
			r, _ := req.(HistoryRequest)
			recs := c.History()
			switch history.Format(r.Format) {
			case "", history.FormatJSON:
				if recs == nil {
					recs = []report.Message{}
				}
				return recs, nil
			case history.FormatText, history.FormatMarkdown:
				return history.Render(recs, history.Format(r.Format))
			}
			return nil, fmt.Errorf("%w: format %q", ErrBadRequest, r.Format)
		}),
		Logs: wrap("logs", func(_ context.Context, req any) (any, error) {
			r, _ := req.(LogsRequest)
			lines, next := c.Logs(r.Since)
			switch r.Format {
			case "", "json":
				if lines == nil {
					lines = []report.Line{}
				}
				return LogsResponse{Lines: lines, Next: next}, nil
			case "text":
				var b strings.Builder
				for _, l := range lines {
					b.WriteString(l.String())
					b.WriteByte('\n')
				}
				return b.String(), nil
			}
			return nil, fmt.Errorf("%w: format %q", ErrBadRequest, r.Format)
		}),
		Stats: wrap("stats", func(context.Context, any) (any, error) {
			return c.Status(), nil
		}),
		Prefs: wrap("prefs", func(context.Context, any) (any, error) {
			return c.Toggles(), nil
		}),
		SetPref: wrap("set_pref", func(ctx context.Context, req any) (any, error) {
			r, _ := req.(PrefRequest)
			if !slices.Contains(report.LogCategories, r.Category) {
				return nil, fmt.Errorf("%w: unknown log category %q", ErrBadRequest, r.Category)
			}
			if err := c.SetToggle(ctx, r.Category, r.Enabled); err != nil {
				return nil, err
			}
			return c.Toggles(), nil
		}),
	}
}
