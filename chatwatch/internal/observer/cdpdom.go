package observer

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// convert builds an x/net/html tree from a CDP DOM node and keys every
// element by its backend node ID. Shadow roots, template content and
// frame documents are skipped: document-level selectors do not reach
// into them.
func convert(root *proto.DOMNode) (*html.Node, map[*html.Node]dom.Key) {
	keys := make(map[*html.Node]dom.Key)
	var build func(*proto.DOMNode) *html.Node
	build = func(c *proto.DOMNode) *html.Node {
		var n *html.Node
		switch c.NodeType {
		case nodeDocument:
			n = &html.Node{Type: html.DocumentNode}
		case nodeElement:
			tag := strings.ToLower(c.LocalName)
			if tag == "" {
				tag = strings.ToLower(c.NodeName)
			}
			n = &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
			for i := 0; i+1 < len(c.Attributes); i += 2 {
				n.Attr = append(n.Attr, html.Attribute{Key: c.Attributes[i], Val: c.Attributes[i+1]})
			}
			keys[n] = dom.Key(c.BackendNodeID)
		case nodeText:
			n = &html.Node{Type: html.TextNode, Data: c.NodeValue}
		case nodeComment:
			n = &html.Node{Type: html.CommentNode, Data: c.NodeValue}
		case nodeDoctype:
			n = &html.Node{Type: html.DoctypeNode, Data: c.NodeName}
		default:
			return nil
		}
		for _, child := range c.Children {
			if cn := build(child); cn != nil {
				n.AppendChild(cn)
			}
		}
		return n
	}

	n := build(root)
	if n == nil {
		n = &html.Node{Type: html.DocumentNode}
	}
	return n, keys
}
