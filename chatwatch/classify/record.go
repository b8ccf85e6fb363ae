package classify

import (
	"strings"
	"unicode/utf8"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Truncation defaults and marker.
const (
	DefaultTextLimit = 50
	DefaultAttrLimit = 20
	Ellipsis         = "..."
)

// Limits bounds the strings copied out of the page.
type Limits struct {
	Text int
	Attr int
}

func (l *Limits) defaults() {
	if l.Text <= 0 {
		l.Text = DefaultTextLimit
	}
	if l.Attr <= 0 {
		l.Attr = DefaultAttrLimit
	}
}

// ElementRecord is a classified element: its description plus a weak
// reference to the node. The engine never keeps nodes alive.
type ElementRecord struct {
	report.ElementDetail
	Key dom.Key `json:"key"`
	ref weak.Pointer[html.Node]
}

// Node returns the underlying node, or nil once it has been collected.
func (r ElementRecord) Node() *html.Node { return r.ref.Value() }

// Detached reports whether the node is gone or no longer in a document.
func (r ElementRecord) Detached() bool {
	n := r.Node()
	return n == nil || !dom.Attached(n)
}

// NewRecord describes n as found in doc.
func NewRecord(doc *dom.Document, n *html.Node, lim Limits) ElementRecord {
	return ElementRecord{
		ElementDetail: Describe(n, lim),
		Key:           doc.Key(n),
		ref:           weak.Make(n),
	}
}

// Describe copies the reportable detail of element n.
func Describe(n *html.Node, lim Limits) report.ElementDetail {
	lim.defaults()
	d := report.ElementDetail{
		Tag:     n.Data,
		Classes: dom.Classes(n),
		Text:    Truncate(CollapseSpace(dom.Text(n)), lim.Text),
		Depth:   dom.Depth(n),
		Parent:  dom.Label(dom.ParentElement(n)),
	}
	d.ID, _ = dom.Attr(n, "id")
	if v, ok := dom.Attr(n, "title"); ok && v != "" {
		d.Title = v
	} else if v, ok := dom.Attr(n, "aria-label"); ok {
		d.Title = v
	}
	for _, a := range n.Attr {
		d.Attrs = append(d.Attrs, report.Attr{Name: a.Key, Value: Truncate(a.Val, lim.Attr)})
	}
	for _, c := range dom.ChildElements(n) {
		d.Children = append(d.Children, c.Data)
	}
	return d
}

// Truncate cuts s to n runes and appends Ellipsis when it was longer.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + Ellipsis
		}
		i++
	}
	return s
}

// CollapseSpace trims s and folds internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
