package fetcher

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// IsSufficient reports whether the markup carries enough visible text to
// classify without running the page's scripts.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}

	textLen, markupLen := textMarkupRatio(body)
	total := textLen + markupLen
	if total == 0 {
		return false
	}

	// Under 10% text is most likely a script shell.
	if float64(textLen)/float64(total) < 0.10 {
		return false
	}
	if textLen < 200 {
		return false
	}

	lower := bytes.ToLower(body)
	for _, ind := range shellIndicators {
		if bytes.Contains(lower, []byte(ind)) {
			return false
		}
	}
	return true
}

var shellIndicators = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	"<noscript>you need to enable javascript",
	"<noscript>enable javascript",
}

// textMarkupRatio counts visible text bytes against everything else.
// Script and style bodies count as markup.
func textMarkupRatio(body []byte) (text, markup int) {
	z := html.NewTokenizer(bytes.NewReader(body))
	raw := ""
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return text, markup
		}
		n := len(z.Raw())
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			raw = string(name)
			markup += n
		case html.EndTagToken:
			raw = ""
			markup += n
		case html.TextToken:
			if raw == "script" || raw == "style" {
				markup += n
				continue
			}
			t := len(strings.TrimSpace(string(z.Text())))
			text += t
			markup += n - t
		default:
			markup += n
		}
	}
}
