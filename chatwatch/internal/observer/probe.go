package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// ProbeField is one dotted path read from the probed global.
type ProbeField struct {
	Label string
	Path  string
}

// GlobalProbe reads fields of a page-global object after every pass and
// logs them under the trimmer category. It never writes to the page.
type GlobalProbe struct {
	page   *rod.Page
	global string
	fields []ProbeField
}

// NewGlobalProbe creates a probe of window[global].
func NewGlobalProbe(page *rod.Page, global string, fields []ProbeField) *GlobalProbe {
	return &GlobalProbe{page: page, global: global, fields: fields}
}

const probeJS = `(g, paths) => {
  const o = window[g];
  const values = paths.map(p => {
    let v = o;
    for (const k of p.split('.')) { if (v == null) break; v = v[k]; }
    if (v == null || v === '' || v === false) return null;
    if (v instanceof Element) return v.tagName.toLowerCase() + (v.id ? '#' + v.id : '');
    return String(v);
  });
  return { present: o != null, values };
}`

// Probe implements the engine's probe. Missing values, and every value
// when the page cannot be evaluated, are logged as N/A.
func (p *GlobalProbe) Probe(ctx context.Context, log report.Logger) {
	paths := make([]string, len(p.fields))
	for i, f := range p.fields {
		paths[i] = f.Path
	}
	values := make([]string, len(p.fields))
	present := false
	if res, err := p.page.Context(ctx).Eval(probeJS, p.global, paths); err == nil {
		present, values = decodeProbe(res.Value, len(p.fields))
	}
	now := time.Now()
	for _, line := range probeLines(p.global, present, p.fields, values) {
		log.Log(report.LogTrimmer, now, line)
	}
}

func decodeProbe(v gson.JSON, n int) (bool, []string) {
	out := make([]string, n)
	arr := v.Get("values").Arr()
	for i := 0; i < n && i < len(arr); i++ {
		if !arr[i].Nil() {
			out[i] = arr[i].Str()
		}
	}
	return v.Get("present").Bool(), out
}

func probeLines(global string, present bool, fields []ProbeField, values []string) []string {
	state := "absent"
	if present {
		state = "present"
	}
	lines := []string{fmt.Sprintf("--- %s State (Passive, %s) ---", global, state)}
	for i, f := range fields {
		v := report.NA
		if i < len(values) && values[i] != "" {
			v = values[i]
		}
		lines = append(lines, fmt.Sprintf("%s: %s", f.Label, v))
	}
	return lines
}
