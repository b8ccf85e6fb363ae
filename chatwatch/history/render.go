package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// Format selects a Render output.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Render produces the copyable history block, oldest record first.
func Render(records []MessageRecord, f Format) (string, error) {
	switch f {
	case FormatText, "":
		return renderText(records), nil
	case FormatMarkdown:
		return renderMarkdown(records), nil
	case FormatJSON:
		if records == nil {
			records = []MessageRecord{}
		}
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", fmt.Errorf("history: render json: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("history: unknown format %q", f)
}

// RoleLabel is the display name of a role.
func RoleLabel(r Role) string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	}
	return "Unknown"
}

func stamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

func renderText(records []MessageRecord) string {
	blocks := make([]string, len(records))
	for i, m := range records {
		blocks[i] = strings.Join([]string{
			"---",
			"Timestamp: " + stamp(m.Timestamp),
			"Text: " + m.Text,
			fmt.Sprintf("Tag: %s, ID: %s, Classes: %s", m.Tag, m.ID, strings.Join(m.Classes, " ")),
			"Attributes: " + report.FormatAttrs(m.Attrs),
			fmt.Sprintf("Parent: %s, ID: %s, Classes: %s", m.ParentTag, m.ParentID, strings.Join(m.ParentClasses, " ")),
			"Role: " + RoleLabel(m.Role),
			fmt.Sprintf("Depth: %d", m.Depth),
		}, "\n")
	}
	return strings.Join(blocks, "\n")
}

func renderMarkdown(records []MessageRecord) string {
	var b strings.Builder
	for i, m := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**%s** · %s\n\n", RoleLabel(m.Role), stamp(m.Timestamp))
		body := m.Markdown
		if body == "" {
			body = m.Text
		}
		b.WriteString(body)
	}
	return b.String()
}
