package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Tree is a mutable in-memory document. Mutations run under its lock and
// Snapshot hands out immutable copies whose keys follow the original nodes,
// so an element keeps its identity across snapshots until it is removed.
type Tree struct {
	mu   sync.Mutex
	root *html.Node
	keys map[*html.Node]Key
	next Key

	// URL is copied onto every snapshot.
	URL string
}

// NewTree wraps root.
func NewTree(root *html.Node) *Tree {
	return &Tree{root: root, keys: make(map[*html.Node]Key)}
}

// ParseTree parses an HTML document into a Tree.
func ParseTree(r io.Reader) (*Tree, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return NewTree(root), nil
}

// ParseTreeString is ParseTree over a string.
func ParseTreeString(s string) (*Tree, error) {
	return ParseTree(strings.NewReader(s))
}

// Mutate runs fn with exclusive access to the live tree.
func (t *Tree) Mutate(fn func(root *html.Node)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.root)
}

// Snapshot returns a deep copy of the current tree.
func (t *Tree) Snapshot() *Document {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make(map[*html.Node]Key, len(t.keys))
	keys := make(map[*html.Node]Key, len(t.keys))
	root := t.clone(t.root, live, keys)
	t.keys = live

	doc := &Document{root: root, keys: keys, URL: t.URL}
	return doc
}

// KeyOf returns the identity snapshots will give n, assigning one if n
// has not been seen yet.
func (t *Tree) KeyOf(n *html.Node) Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	k, ok := t.keys[n]
	if !ok {
		t.next++
		k = t.next
		t.keys[n] = k
	}
	return k
}

func (t *Tree) clone(n *html.Node, live, keys map[*html.Node]Key) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]html.Attribute(nil), n.Attr...)
	}
	if n.Type == html.ElementNode {
		k, ok := t.keys[n]
		if !ok {
			t.next++
			k = t.next
		}
		live[n] = k
		keys[c] = k
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(t.clone(ch, live, keys))
	}
	return c
}
