package classify

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
)

// Selector is a compiled CSS selector list. Supported subset:
//   - type: "div", "*"
//   - .class, #id
//   - [attr], [attr=v], [attr*=v], [attr^=v], [attr$=v], [attr~=v], [attr|=v]
//     with quoted or bare values
//   - compound sequences: "div.message[data-role=user]"
//   - descendant (space) and child (">") combinators
//   - comma-separated lists
type Selector struct {
	src  string
	alts []complexSel
}

// SyntaxError reports a malformed selector.
type SyntaxError struct {
	Selector string
	Offset   int
	Msg      string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("classify: selector %q: %s at offset %d", e.Selector, e.Msg, e.Offset)
}

type complexSel struct {
	parts []compound
	combs []byte // combs[i] joins parts[i] and parts[i+1]: ' ' or '>'
}

type compound struct {
	tag     string // "" or "*" matches any element
	id      string
	classes []string
	attrs   []attrSel
}

type attrSel struct {
	key string
	op  string // "" means presence
	val string
}

// Compile parses src.
func Compile(src string) (*Selector, error) {
	p := &parser{src: src}
	alts, err := p.parseList()
	if err != nil {
		return nil, err
	}
	return &Selector{src: src, alts: alts}, nil
}

// MustCompile is Compile that panics on error. For static selectors only.
func MustCompile(src string) *Selector {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source text.
func (s *Selector) String() string { return s.src }

// Match reports whether element n matches any selector in the list.
func (s *Selector) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, c := range s.alts {
		if c.matchAt(n, len(c.parts)-1) {
			return true
		}
	}
	return false
}

// QueryAll returns the elements under root that match, in document order.
func (s *Selector) QueryAll(root *html.Node) []*html.Node {
	var out []*html.Node
	dom.Walk(root, func(n *html.Node) bool {
		if s.Match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// First returns the first match under root in document order, or nil.
func (s *Selector) First(root *html.Node) *html.Node {
	var out *html.Node
	dom.Walk(root, func(n *html.Node) bool {
		if out != nil {
			return false
		}
		if s.Match(n) {
			out = n
			return false
		}
		return true
	})
	return out
}

func (c complexSel) matchAt(n *html.Node, i int) bool {
	if !c.parts[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	if c.combs[i-1] == '>' {
		p := dom.ParentElement(n)
		return p != nil && c.matchAt(p, i-1)
	}
	for p := dom.ParentElement(n); p != nil; p = dom.ParentElement(p) {
		if c.matchAt(p, i-1) {
			return true
		}
	}
	return false
}

func (m compound) match(n *html.Node) bool {
	if m.tag != "" && m.tag != "*" && n.Data != m.tag {
		return false
	}
	if m.id != "" {
		if v, _ := dom.Attr(n, "id"); v != m.id {
			return false
		}
	}
	if len(m.classes) > 0 {
		have := dom.Classes(n)
		for _, want := range m.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range m.attrs {
		v, ok := dom.Attr(n, a.key)
		if !ok || !a.match(v) {
			return false
		}
	}
	return true
}

func (a attrSel) match(v string) bool {
	switch a.op {
	case "":
		return true
	case "=":
		return v == a.val
	case "*=":
		return a.val != "" && strings.Contains(v, a.val)
	case "^=":
		return a.val != "" && strings.HasPrefix(v, a.val)
	case "$=":
		return a.val != "" && strings.HasSuffix(v, a.val)
	case "~=":
		return a.val != "" && contains(strings.Fields(v), a.val)
	case "|=":
		return v == a.val || strings.HasPrefix(v, a.val+"-")
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// parser is a hand-written recursive descent over the selector grammar.
type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Selector: p.src, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) skipSpace() bool {
	start := p.pos
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
	return p.pos > start
}

func (p *parser) parseList() ([]complexSel, error) {
	var alts []complexSel
	for {
		p.skipSpace()
		c, err := p.parseComplex()
		if err != nil {
			return nil, err
		}
		alts = append(alts, c)
		p.skipSpace()
		if p.eof() {
			return alts, nil
		}
		if p.src[p.pos] != ',' {
			return nil, p.errorf("unexpected %q", p.src[p.pos])
		}
		p.pos++
	}
}

func (p *parser) parseComplex() (complexSel, error) {
	var c complexSel
	first, err := p.parseCompound()
	if err != nil {
		return c, err
	}
	c.parts = append(c.parts, first)

	for {
		spaced := p.skipSpace()
		if p.eof() || p.src[p.pos] == ',' {
			return c, nil
		}
		comb := byte(' ')
		if p.src[p.pos] == '>' {
			comb = '>'
			p.pos++
			p.skipSpace()
		} else if !spaced {
			return c, p.errorf("unexpected %q", p.src[p.pos])
		}
		next, err := p.parseCompound()
		if err != nil {
			return c, err
		}
		c.combs = append(c.combs, comb)
		c.parts = append(c.parts, next)
	}
}

func (p *parser) parseCompound() (compound, error) {
	var m compound
	start := p.pos

	if !p.eof() && p.src[p.pos] == '*' {
		m.tag = "*"
		p.pos++
	} else if name := p.ident(); name != "" {
		m.tag = strings.ToLower(name)
	}

	for !p.eof() {
		switch p.src[p.pos] {
		case '.':
			p.pos++
			name := p.ident()
			if name == "" {
				return m, p.errorf("expected class name")
			}
			m.classes = append(m.classes, name)
		case '#':
			p.pos++
			name := p.ident()
			if name == "" {
				return m, p.errorf("expected id")
			}
			m.id = name
		case '[':
			p.pos++
			a, err := p.parseAttr()
			if err != nil {
				return m, err
			}
			m.attrs = append(m.attrs, a)
		default:
			if p.pos == start {
				return m, p.errorf("expected selector, got %q", p.src[p.pos])
			}
			return m, nil
		}
	}
	if p.pos == start {
		return m, p.errorf("empty selector")
	}
	return m, nil
}

func (p *parser) parseAttr() (attrSel, error) {
	var a attrSel
	p.skipSpace()
	a.key = strings.ToLower(p.ident())
	if a.key == "" {
		return a, p.errorf("expected attribute name")
	}
	p.skipSpace()
	if p.eof() {
		return a, p.errorf("unterminated attribute selector")
	}
	if p.src[p.pos] == ']' {
		p.pos++
		return a, nil
	}

	switch {
	case p.src[p.pos] == '=':
		a.op = "="
		p.pos++
	case p.pos+1 < len(p.src) && p.src[p.pos+1] == '=' && strings.IndexByte("*^$~|", p.src[p.pos]) >= 0:
		a.op = p.src[p.pos : p.pos+2]
		p.pos += 2
	default:
		return a, p.errorf("unknown attribute operator %q", p.src[p.pos])
	}

	p.skipSpace()
	if p.eof() {
		return a, p.errorf("expected attribute value")
	}
	if q := p.src[p.pos]; q == '"' || q == '\'' {
		end := strings.IndexByte(p.src[p.pos+1:], q)
		if end < 0 {
			return a, p.errorf("unterminated string")
		}
		a.val = p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
	} else {
		a.val = p.ident()
		if a.val == "" {
			return a, p.errorf("expected attribute value")
		}
	}

	p.skipSpace()
	if p.eof() || p.src[p.pos] != ']' {
		return a, p.errorf("expected ]")
	}
	p.pos++
	return a, nil
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() && isIdent(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdent(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c >= 0x80
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
