// Package classify maps a document to semantic element categories using an
// ordered selector table. Classification is heuristic: it looks only at tag
// names, attributes, class substrings and position. It is deterministic and
// never fails a whole pass because of one bad pattern.
package classify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// PatternError is a pattern that contributed zero matches because it could
// not be compiled or evaluated.
type PatternError struct {
	Category Category
	Pattern  string
	Err      error
}

func (e PatternError) Error() string {
	return fmt.Sprintf("classify: %s pattern %q: %v", e.Category, e.Pattern, e.Err)
}

func (e PatternError) Unwrap() error { return e.Err }

// Result is the output of one classification.
type Result struct {
	// Order is the table's category order.
	Order []Category
	// Container is the primary conversation container: the first container
	// match, or the document element when there is none.
	Container ElementRecord
	// Errors lists patterns treated as zero matches.
	Errors []PatternError

	sets map[Category][]ElementRecord
}

// Get returns the ordered, deduplicated elements of category c.
func (r *Result) Get(c Category) []ElementRecord {
	return r.sets[c]
}

// Counts returns per-category counts in table order.
func (r *Result) Counts() []report.Count {
	out := make([]report.Count, len(r.Order))
	for i, c := range r.Order {
		out[i] = report.Count{Category: string(c), Count: len(r.sets[c])}
	}
	return out
}

type pattern struct {
	src string
	sel *Selector
	err error
}

// Classifier evaluates a Table against documents. Safe for concurrent use;
// the table is compiled once.
type Classifier struct {
	table    Table
	compiled [][]pattern
	limits   Limits
	logger   report.Logger
	verbose  bool
	inspect  map[Category]bool
	now      func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logging collaborator.
func WithLogger(l report.Logger) Option { return func(c *Classifier) { c.logger = l } }

// WithLimits sets text and attribute truncation.
func WithLimits(l Limits) Option { return func(c *Classifier) { c.limits = l } }

// WithVerbose logs a description of every classified element.
func WithVerbose(v bool) Option { return func(c *Classifier) { c.verbose = v } }

// WithInspect asks the document's Inspector for layout detail of the
// elements in cats.
func WithInspect(cats ...Category) Option {
	return func(c *Classifier) {
		for _, cat := range cats {
			c.inspect[cat] = true
		}
	}
}

// New compiles t. Patterns that fail to compile are kept as errors; like
// evaluation errors they are logged and reported on every Result.
func New(t Table, opts ...Option) *Classifier {
	c := &Classifier{
		table:   t,
		logger:  report.Discard,
		inspect: make(map[Category]bool),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.limits.defaults()

	c.compiled = make([][]pattern, len(t))
	for i, r := range t {
		ps := make([]pattern, len(r.Patterns))
		for j, src := range r.Patterns {
			sel, err := Compile(src)
			ps[j] = pattern{src: src, sel: sel, err: err}
		}
		c.compiled[i] = ps
	}
	return c
}

// Table returns the table the classifier was built from.
func (c *Classifier) Table() Table { return c.table }

// Limits returns the truncation limits in effect.
func (c *Classifier) Limits() Limits { return c.limits }

// Classify evaluates every category against doc.
func (c *Classifier) Classify(ctx context.Context, doc *dom.Document) *Result {
	res := &Result{
		Order: c.table.Categories(),
		sets:  make(map[Category][]ElementRecord, len(c.table)),
	}
	root := doc.Root()
	layouts := make(map[dom.Key]*report.Layout)

	for i, r := range c.table {
		seen := make(map[dom.Key]bool)
		set := []ElementRecord{}
		for _, p := range c.compiled[i] {
			var found []*html.Node
			err := p.err
			if err == nil {
				found, err = query(p.sel, root)
			}
			if err != nil {
				pe := PatternError{r.Category, p.src, err}
				res.Errors = append(res.Errors, pe)
				c.logger.Log(report.LogPlugin, c.now(), "Selector error: "+pe.Error())
				continue
			}
			for _, n := range found {
				k := doc.Key(n)
				if seen[k] {
					continue
				}
				seen[k] = true
				rec := NewRecord(doc, n, c.limits)
				if c.inspect[r.Category] {
					rec.Layout = c.layout(ctx, doc, k, layouts)
				}
				set = append(set, rec)
			}
		}
		res.sets[r.Category] = set
	}

	if cs := res.sets[Container]; len(cs) > 0 {
		res.Container = cs[0]
	} else if el := doc.DocumentElement(); el != nil {
		res.Container = NewRecord(doc, el, c.limits)
	}

	c.emit(res)
	return res
}

func (c *Classifier) layout(ctx context.Context, doc *dom.Document, k dom.Key, cache map[dom.Key]*report.Layout) report.Layout {
	if l, ok := cache[k]; ok {
		return *l
	}
	var l report.Layout
	if doc.Inspector != nil {
		if got, err := doc.Inspector.Inspect(ctx, k); err == nil {
			l = got
		}
	}
	cache[k] = &l
	return l
}

func (c *Classifier) emit(res *Result) {
	at := c.now()
	for _, cat := range res.Order {
		set := res.sets[cat]
		if len(set) == 0 {
			continue
		}
		c.logger.Log(report.LogPlugin, at, fmt.Sprintf("Found %s: %d elements", cat, len(set)))
		if !c.verbose {
			continue
		}
		for _, rec := range set {
			for _, line := range rec.Describe("  ") {
				c.logger.Log(report.LogSite, at, line)
			}
		}
	}
}

// query evaluates sel, turning a panic on hostile markup into an error.
func query(sel *Selector, root *html.Node) (nodes []*html.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			nodes, err = nil, fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	return sel.QueryAll(root), nil
}

// Classify is a convenience for a one-off classification with options.
func Classify(ctx context.Context, doc *dom.Document, t Table, opts ...Option) *Result {
	return New(t, opts...).Classify(ctx, doc)
}
