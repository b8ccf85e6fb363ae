package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
	"github.com/hazyhaar/chatwatch/idgen"
)

// TreeSource serves an in-memory dom.Tree: a fetched or saved page, or a
// scripted page in tests. Mutations made through Apply are delivered to
// subscribers as one batch.
type TreeSource struct {
	tree *dom.Tree

	mu   sync.Mutex
	subs map[int]func(report.Batch)
	next int

	seq       atomic.Uint64
	snapshots atomic.Int64
}

// NewTreeSource wraps t.
func NewTreeSource(t *dom.Tree) *TreeSource {
	return &TreeSource{tree: t, subs: make(map[int]func(report.Batch))}
}

// Tree returns the underlying tree.
func (s *TreeSource) Tree() *dom.Tree { return s.tree }

// Snapshot implements Source.
func (s *TreeSource) Snapshot(ctx context.Context) (*dom.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.snapshots.Add(1)
	return s.tree.Snapshot(), nil
}

// Snapshots counts Snapshot calls.
func (s *TreeSource) Snapshots() int64 { return s.snapshots.Load() }

// Subscribe implements Source.
func (s *TreeSource) Subscribe(ctx context.Context, deliver func(report.Batch)) (func(), error) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = deliver
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

// Apply mutates the tree and delivers the records fn returns. Returning no
// records mutates silently, as if the observer missed the change.
func (s *TreeSource) Apply(fn func(root *html.Node) []report.Record) {
	var records []report.Record
	s.tree.Mutate(func(root *html.Node) { records = fn(root) })
	if len(records) == 0 {
		return
	}

	b := report.Batch{
		ID:        idgen.Batch(),
		PageURL:   s.tree.URL,
		Seq:       s.seq.Add(1),
		Records:   records,
		Timestamp: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	subs := make([]func(report.Batch), 0, len(s.subs))
	for _, d := range s.subs {
		subs = append(subs, d)
	}
	s.mu.Unlock()

	for _, d := range subs {
		d(b)
	}
}

// AppendElement appends child to parent and describes the change.
func AppendElement(parent, child *html.Node) report.Record {
	parent.AppendChild(child)
	return report.Record{
		Op:     report.OpChildList,
		Target: dom.Label(parent),
		Added:  []report.ElementDetail{classify.Describe(child, classify.Limits{})},
	}
}

// RemoveElement detaches n and describes the change.
func RemoveElement(n *html.Node) report.Record {
	parent := n.Parent
	rec := report.Record{
		Op:      report.OpChildList,
		Target:  dom.Label(parent),
		Removed: []report.ElementDetail{classify.Describe(n, classify.Limits{})},
	}
	parent.RemoveChild(n)
	return rec
}

// SetAttr sets an attribute and describes the change.
func SetAttr(n *html.Node, key, val string) report.Record {
	old, _ := dom.Attr(n, key)
	set := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			set = true
			break
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	return report.Record{Op: report.OpAttributes, Target: dom.Label(n), Attribute: key, OldValue: old}
}

// Element builds a detached element with attributes given as key, value
// pairs and optional text content.
func Element(tag, text string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}
