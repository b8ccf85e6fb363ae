// Package dom is the read-only document model the classifier works on:
// an x/net/html tree plus a stable identity key per element.
//
// A Document is an immutable snapshot. Live sources rebuild one per pass
// and keep keys stable across rebuilds (CDP backend node IDs); static
// sources use a Tree, which assigns keys on first sight.
package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Key identifies an element across snapshots of the same document.
// Zero means unknown.
type Key int64

// ErrUnavailable is returned by an Inspector that cannot provide detail for
// an element (static documents, detached nodes).
var ErrUnavailable = errors.New("dom: host detail unavailable")

// Inspector provides host-only element detail (computed style, bounds,
// listeners). Live documents carry one; static documents do not.
type Inspector interface {
	Inspect(ctx context.Context, key Key) (report.Layout, error)
}

// Document is one snapshot of a page.
type Document struct {
	root *html.Node
	keys map[*html.Node]Key

	// URL is informational.
	URL string

	// Inspector is nil when the host cannot provide layout detail.
	Inspector Inspector
}

// New wraps root (an html.DocumentNode or element). keys maps element nodes
// to their identity; elements missing from keys get sequential keys above
// the largest provided one, in document order.
func New(root *html.Node, keys map[*html.Node]Key) *Document {
	if keys == nil {
		keys = make(map[*html.Node]Key)
	}
	var max Key
	for _, k := range keys {
		if k > max {
			max = k
		}
	}
	Walk(root, func(n *html.Node) bool {
		if _, ok := keys[n]; !ok {
			max++
			keys[n] = max
		}
		return true
	})
	return &Document{root: root, keys: keys}
}

// Parse parses an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root, nil), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the node the document was built from.
func (d *Document) Root() *html.Node { return d.root }

// DocumentElement returns the <html> element, or the first element under
// the root when there is none.
func (d *Document) DocumentElement() *html.Node {
	if d.root.Type == html.ElementNode {
		return d.root
	}
	var first *html.Node
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if c.Data == "html" {
				return c
			}
			if first == nil {
				first = c
			}
		}
	}
	return first
}

// Key returns the identity of n, or 0 if n does not belong to d.
func (d *Document) Key(n *html.Node) Key {
	return d.keys[n]
}

// Len returns the number of keyed elements.
func (d *Document) Len() int { return len(d.keys) }
