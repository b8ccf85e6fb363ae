// Package report defines the structured types emitted by chatwatch.
// These are the public API contract: sinks, the control API and any
// external consumer import this package to receive observations.
package report

import "time"

// Op is the declared type of a DOM mutation record.
type Op string

const (
	OpChildList     Op = "childList"
	OpAttributes    Op = "attributes"
	OpCharacterData Op = "characterData"
	OpDocReset      Op = "docReset" // entire document replaced
)

// Attr is one attribute name/value pair. Value may be truncated.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Styles is the subset of computed style chatwatch reports.
type Styles struct {
	Display    string `json:"display"`
	Position   string `json:"position"`
	Visibility string `json:"visibility"`
	Background string `json:"background"`
	Color      string `json:"color"`
}

// Bounds is an element's bounding box in CSS pixels.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Layout is host-provided detail that is only available on a live page.
// Nil fields mean the host could not provide them.
type Layout struct {
	Styles *Styles  `json:"styles,omitempty"`
	Bounds *Bounds  `json:"bounds,omitempty"`
	Events []string `json:"events,omitempty"`
}

// ElementDetail describes one element at the time it was observed.
type ElementDetail struct {
	Tag      string   `json:"tag"`
	ID       string   `json:"id,omitempty"`
	Classes  []string `json:"classes,omitempty"`
	Attrs    []Attr   `json:"attrs,omitempty"`
	Text     string   `json:"text,omitempty"`
	Title    string   `json:"title,omitempty"`
	Depth    int      `json:"depth"`
	Parent   string   `json:"parent,omitempty"`   // tag#id of the parent element
	Children []string `json:"children,omitempty"` // child element tags
	Layout
}

// Record is a single DOM mutation as declared by the observer.
type Record struct {
	Op        Op              `json:"op"`
	Target    string          `json:"target,omitempty"` // tag#id
	Attribute string          `json:"attribute,omitempty"`
	OldValue  string          `json:"old_value,omitempty"`
	Added     []ElementDetail `json:"added,omitempty"`   // element nodes only
	Removed   []ElementDetail `json:"removed,omitempty"` // element nodes only
}

// Batch is one delivery of mutation records from a source.
type Batch struct {
	ID        string   `json:"id"` // bat_<UUIDv7>
	PageURL   string   `json:"page_url,omitempty"`
	PageID    string   `json:"page_id,omitempty"`
	Seq       uint64   `json:"seq"` // monotonically increasing per source
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// Role is the inferred author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// Message is one entry of the message history.
type Message struct {
	Text          string   `json:"text"`
	Tag           string   `json:"tag"`
	ID            string   `json:"id,omitempty"`
	Classes       []string `json:"classes,omitempty"`
	Attrs         []Attr   `json:"attrs,omitempty"`
	ParentTag     string   `json:"parent_tag,omitempty"`
	ParentID      string   `json:"parent_id,omitempty"`
	ParentClasses []string `json:"parent_classes,omitempty"`
	Role          Role     `json:"role"`
	Depth         int      `json:"depth"`
	Timestamp     int64    `json:"timestamp"` // epoch milliseconds at capture
	Key           int64    `json:"element_key"`
	Markdown      string   `json:"markdown,omitempty"`
}

// Time returns the capture time.
func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }

// Inserted reports one message appended to the history by a tracking pass.
type Inserted struct {
	Position int     `json:"position"` // 1-based within the processed candidates
	Message  Message `json:"message"`
	Role     Role    `json:"role"`
	Elapsed  int64   `json:"elapsed_ms"` // since the previous history record, 0 if none
}

// Trigger is what caused a pass.
type Trigger string

const (
	TriggerActivate Trigger = "activate"
	TriggerMutation Trigger = "mutation"
	TriggerPoll     Trigger = "poll"
	TriggerManual   Trigger = "manual"
)

// Count is the number of elements found for one category.
type Count struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Pass is the outcome of one classify/track pass.
type Pass struct {
	ID               string        `json:"id"` // pas_<UUIDv7>
	Seq              uint64        `json:"seq"`
	Trigger          Trigger       `json:"trigger"`
	Timestamp        int64         `json:"timestamp"`
	Counts           []Count       `json:"counts"`
	Container        ElementDetail `json:"container"`
	ContainerKey     int64         `json:"container_key"`
	ContainerChanged bool          `json:"container_changed"`
	Tracked          bool          `json:"tracked"`
	Inserted         []Inserted    `json:"inserted,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
	DurationMs       float64       `json:"duration_ms"`
}

// Count returns the count recorded for category, or 0.
func (p *Pass) Count(category string) int {
	for _, c := range p.Counts {
		if c.Category == category {
			return c.Count
		}
	}
	return 0
}
