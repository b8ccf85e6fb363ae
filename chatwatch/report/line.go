package report

import (
	"fmt"
	"strings"
	"time"
)

// Log categories. Each can be toggled independently by the operator.
const (
	LogSite    = "site"    // page structure and page events
	LogPlugin  = "plugin"  // chatwatch's own lifecycle and diagnostics
	LogNetwork = "network" // request/response metadata
	LogTrimmer = "trimmer" // global-state probe
)

// LogCategories lists every category in display order.
var LogCategories = []string{LogSite, LogPlugin, LogNetwork, LogTrimmer}

// Logger is the logging collaborator handed to the classifier, tracker and
// engine. Calls are fire-and-forget.
type Logger interface {
	Log(category string, at time.Time, msg string)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(category string, at time.Time, msg string)

func (f LoggerFunc) Log(category string, at time.Time, msg string) { f(category, at, msg) }

// Discard drops everything.
var Discard Logger = LoggerFunc(func(string, time.Time, string) {})

// Line is one retained log line.
type Line struct {
	Category  string `json:"category"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Text      string `json:"text"`
}

// Tag renders the category as shown in text output, e.g. "[Site]".
func Tag(category string) string {
	if category == "" {
		return "[]"
	}
	return "[" + strings.ToUpper(category[:1]) + category[1:] + "]"
}

// String renders "[Site]     | 2026-01-02T15:04:05.000Z | text".
func (l Line) String() string {
	ts := time.UnixMilli(l.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("%-10s | %s | %s", Tag(l.Category), ts, l.Text)
}
