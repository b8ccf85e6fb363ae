package chatwatch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/internal/fetcher"
)

// OpenReader creates a session over a static HTML document read from r.
// Static sessions see no mutations; each activation or rescan classifies
// the same tree.
func OpenReader(cfg *Config, r io.Reader, pageURL string, opts ...Option) (*Session, error) {
	tree, err := dom.ParseTree(r)
	if err != nil {
		return nil, fmt.Errorf("chatwatch: parse: %w", err)
	}
	tree.URL = pageURL
	return NewSession(cfg, NewTreeSource(tree), opts...)
}

// OpenFile creates a session over a saved HTML page.
func OpenFile(cfg *Config, path string, opts ...Option) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chatwatch: open: %w", err)
	}
	defer f.Close()
	return OpenReader(cfg, f, "file://"+path, opts...)
}

// OpenURL fetches pageURL over plain HTTP and creates a session over the
// returned markup. Pages rendered by script usually carry no messages in
// their markup; a warning is logged when the content looks insufficient.
func OpenURL(ctx context.Context, cfg *Config, pageURL string, opts ...Option) (*Session, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	var fopts []fetcher.Option
	if o.logger != nil {
		fopts = append(fopts, fetcher.WithLogger(o.logger))
	}

	res, err := fetcher.New(fopts...).Fetch(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("chatwatch: %w", err)
	}
	s, err := NewSession(cfg, NewTreeSource(res.Tree), opts...)
	if err != nil {
		return nil, err
	}
	if !res.Sufficient {
		s.logger.Warn("chatwatch: fetched content looks script-rendered, a browser session may be needed",
			"url", pageURL, "size", len(res.HTML))
	}
	return s, nil
}
