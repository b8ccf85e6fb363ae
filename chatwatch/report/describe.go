package report

import (
	"fmt"
	"strings"
)

// NA is rendered in place of host detail that was not available.
const NA = "N/A"

// Selector renders tag#id.class1.class2.
func (d ElementDetail) Selector() string {
	var b strings.Builder
	b.WriteString(d.Tag)
	if d.ID != "" {
		b.WriteByte('#')
		b.WriteString(d.ID)
	}
	for _, c := range d.Classes {
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

// Describe renders the element as the indented multi-line block written
// to the site log. indent is prepended to every line.
func (d ElementDetail) Describe(indent string) []string {
	lines := []string{
		fmt.Sprintf("%sElement: <%s>", indent, d.Selector()),
		fmt.Sprintf("%s  Depth: %d", indent, d.Depth),
	}
	if d.Text != "" {
		lines = append(lines, fmt.Sprintf("%s  Text: %q", indent, d.Text))
	}
	if d.Title != "" {
		lines = append(lines, fmt.Sprintf("%s  Title: %q", indent, d.Title))
	}
	if len(d.Attrs) > 0 {
		lines = append(lines, fmt.Sprintf("%s  Attributes: %s", indent, FormatAttrs(d.Attrs)))
	}
	parent := d.Parent
	if parent == "" {
		parent = "none"
	}
	lines = append(lines, fmt.Sprintf("%s  Parent: %s", indent, parent))
	if len(d.Children) > 0 {
		lines = append(lines, fmt.Sprintf("%s  Children: %s", indent, strings.Join(d.Children, ", ")))
	}

	styles := NA
	if s := d.Styles; s != nil {
		styles = fmt.Sprintf("display=%s position=%s visibility=%s background=%s color=%s",
			s.Display, s.Position, s.Visibility, s.Background, s.Color)
	}
	bounds := NA
	if r := d.Bounds; r != nil {
		bounds = fmt.Sprintf("x=%.0f y=%.0f w=%.0f h=%.0f", r.X, r.Y, r.Width, r.Height)
	}
	events := NA
	if d.Events != nil {
		events = strings.Join(d.Events, ", ")
		if events == "" {
			events = "none"
		}
	}
	return append(lines,
		fmt.Sprintf("%s  Styles: %s", indent, styles),
		fmt.Sprintf("%s  Bounds: %s", indent, bounds),
		fmt.Sprintf("%s  Events: %s", indent, events),
	)
}

// FormatAttrs renders attributes as name="value" pairs.
func FormatAttrs(attrs []Attr) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = fmt.Sprintf("%s=%q", a.Name, a.Value)
	}
	return strings.Join(parts, " ")
}
