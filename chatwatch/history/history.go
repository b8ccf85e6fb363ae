// Package history keeps the rolling, deduplicated log of chat messages
// derived from classified elements.
package history

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// DefaultKeep is the default capacity and candidate window.
const DefaultKeep = 5

// MessageRecord aliases the reported message type.
type MessageRecord = report.Message

// DedupKey selects what makes two records the same message.
type DedupKey string

const (
	// KeyContent is text, role and tag. Re-tracking an unchanged page
	// inserts nothing.
	KeyContent DedupKey = "content"
	// KeyIdentity is element identity and text: an edited message counts
	// as new, two identical messages in different elements are distinct.
	KeyIdentity DedupKey = "identity"
	// KeyCapture is text and capture timestamp. Records taken at different
	// milliseconds never collide, so repeated passes re-insert.
	KeyCapture DedupKey = "capture"
)

// ParseDedupKey validates s. Empty means KeyContent.
func ParseDedupKey(s string) (DedupKey, error) {
	switch k := DedupKey(s); k {
	case "":
		return KeyContent, nil
	case KeyContent, KeyIdentity, KeyCapture:
		return k, nil
	}
	return "", fmt.Errorf("history: unknown dedup key %q", s)
}

func (k DedupKey) of(m MessageRecord) string {
	switch k {
	case KeyIdentity:
		return strconv.FormatInt(m.Key, 10) + "\x00" + m.Text
	case KeyCapture:
		return m.Text + "\x00" + strconv.FormatInt(m.Timestamp, 10)
	}
	return strings.Join([]string{m.Text, string(m.Role), m.Tag}, "\x00")
}

// History is a bounded FIFO of message records. Safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	cap     int
	records []MessageRecord
}

// New returns an empty History holding at most capacity records.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultKeep
	}
	return &History{cap: capacity, records: make([]MessageRecord, 0, capacity)}
}

// Cap returns the capacity.
func (h *History) Cap() int { return h.cap }

// Len returns the number of records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Records returns a copy, oldest first.
func (h *History) Records() []MessageRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]MessageRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Clear drops every record.
func (h *History) Clear() {
	h.mu.Lock()
	h.records = h.records[:0]
	h.mu.Unlock()
}

// Add appends m unless a record with the same key is present, evicting the
// oldest record first when full. It returns whether m was added and the
// milliseconds since the previous newest record (0 if there was none).
func (h *History) Add(m MessageRecord, key DedupKey) (added bool, elapsed int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := key.of(m)
	for _, r := range h.records {
		if key.of(r) == k {
			return false, 0
		}
	}

	if n := len(h.records); n > 0 {
		elapsed = m.Timestamp - h.records[n-1].Timestamp
	}
	if len(h.records) >= h.cap {
		copy(h.records, h.records[1:])
		h.records = h.records[:len(h.records)-1]
	}
	h.records = append(h.records, m)
	return true, elapsed
}
