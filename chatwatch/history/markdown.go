package history

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
)

// markdowner sanitizes captured message markup and converts it to Markdown.
// Page markup is untrusted: scripts, handlers and styles are stripped
// before conversion.
type markdowner struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newMarkdowner() *markdowner {
	return &markdowner{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

func (m *markdowner) render(n *html.Node) string {
	clean := m.policy.Sanitize(dom.OuterHTML(n))
	md, err := m.conv.ConvertString(clean)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}
