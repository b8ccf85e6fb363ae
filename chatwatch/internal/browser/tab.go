package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is the page chatwatch observes.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string

	// owned tabs were opened by chatwatch and are closed with it.
	owned bool
}

// OpenTab creates a new tab, optionally with go-rod/stealth applied, and
// navigates it to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, useStealth bool) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if useStealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{Page: page, PageURL: pageURL, PageID: string(page.TargetID), owned: true}, nil
}

// AttachTab finds an open tab whose URL contains match. This is how
// chatwatch observes a chat the operator is already using.
func AttachTab(ctx context.Context, mgr *Manager, match string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if string(info.Type) != "page" {
			continue
		}
		if strings.Contains(info.URL, match) {
			return &Tab{Page: p, PageURL: info.URL, PageID: string(p.TargetID)}, nil
		}
	}
	return nil, fmt.Errorf("browser: no tab matching %q", match)
}

// URL returns the tab's current URL, falling back to the one it was
// opened or attached with.
func (t *Tab) URL() string {
	if info, err := t.Page.Info(); err == nil && info.URL != "" {
		return info.URL
	}
	return t.PageURL
}

// Close closes the tab if chatwatch opened it. Attached tabs stay open.
func (t *Tab) Close() error {
	if t.Page != nil && t.owned {
		return t.Page.Close()
	}
	return nil
}
