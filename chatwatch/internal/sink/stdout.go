package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Format selects the Stdout encoding.
type Format string

const (
	FormatJSON Format = "json" // one envelope per line
	FormatText Format = "text" // human-readable, log lines as rendered
)

// Stdout writes to an io.Writer (default os.Stdout).
type Stdout struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	format Format
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, format Format) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = FormatJSON
	}
	return &Stdout{w: w, enc: json.NewEncoder(w), format: format}
}

func (s *Stdout) Send(_ context.Context, batch report.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == FormatText {
		_, err := fmt.Fprintf(s.w, "batch #%d: %d records\n", batch.Seq, len(batch.Records))
		return err
	}
	return s.enc.Encode(envelope{Type: "batch", Data: batch})
}

func (s *Stdout) SendPass(_ context.Context, p report.Pass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == FormatText {
		counts := make([]string, len(p.Counts))
		for i, c := range p.Counts {
			counts[i] = fmt.Sprintf("%s=%d", c.Category, c.Count)
		}
		_, err := fmt.Fprintf(s.w, "pass #%d (%s): %s container=<%s> inserted=%d\n",
			p.Seq, p.Trigger, strings.Join(counts, " "), p.Container.Selector(), len(p.Inserted))
		return err
	}
	return s.enc.Encode(envelope{Type: "pass", Data: p})
}

func (s *Stdout) SendLines(_ context.Context, lines []report.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == FormatText {
		for _, l := range lines {
			if _, err := fmt.Fprintln(s.w, l.String()); err != nil {
				return err
			}
		}
		return nil
	}
	return s.enc.Encode(envelope{Type: "lines", Data: lines})
}

func (s *Stdout) Close() error { return nil }
