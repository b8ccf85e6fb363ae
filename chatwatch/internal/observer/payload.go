package observer

import (
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/chatwatch/chatwatch/classify"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// payload is one binding call from observer.js.
type payload struct {
	Kind    string                `json:"kind"` // mutations | event
	Records []report.Record       `json:"records"`
	Type    string                `json:"type"`
	Text    string                `json:"text"`
	Target  *report.ElementDetail `json:"target"`
}

func decodePayload(raw string, lim classify.Limits) (payload, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("observer: decode payload: %w", err)
	}
	switch p.Kind {
	case "mutations":
		for i := range p.Records {
			r := &p.Records[i]
			r.OldValue = classify.Truncate(r.OldValue, lim.Attr)
			for j := range r.Added {
				limit(&r.Added[j], lim)
			}
			for j := range r.Removed {
				limit(&r.Removed[j], lim)
			}
		}
	case "event":
		if p.Target != nil {
			limit(p.Target, lim)
		}
	default:
		return p, fmt.Errorf("observer: unknown payload kind %q", p.Kind)
	}
	return p, nil
}

// limit applies the classifier's string limits to detail collected in the
// page, which only caps values coarsely.
func limit(d *report.ElementDetail, lim classify.Limits) {
	d.Text = classify.Truncate(classify.CollapseSpace(d.Text), lim.Text)
	for i := range d.Attrs {
		d.Attrs[i].Value = classify.Truncate(d.Attrs[i].Value, lim.Attr)
	}
}

// eventLines renders a page event for the site log.
func eventLines(p payload) []string {
	lines := []string{p.Text}
	if p.Target != nil {
		lines = append(lines, p.Target.Describe("  ")...)
	}
	return lines
}
