package observer

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatwatch/chatwatch/dom"
	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// inspector fetches computed style, bounds and event listeners for an
// element by backend node ID. Each part degrades independently.
type inspector struct {
	page *rod.Page
	css  sync.Once
}

func (in *inspector) Inspect(ctx context.Context, k dom.Key) (report.Layout, error) {
	p := in.page.Context(ctx)
	id := proto.DOMBackendNodeID(k)
	var l report.Layout

	in.css.Do(func() { _ = proto.CSSEnable{}.Call(p) })

	if box, err := (proto.DOMGetBoxModel{BackendNodeID: id}).Call(p); err == nil && box.Model != nil {
		b := &report.Bounds{Width: float64(box.Model.Width), Height: float64(box.Model.Height)}
		if len(box.Model.Border) >= 2 {
			b.X, b.Y = box.Model.Border[0], box.Model.Border[1]
		}
		l.Bounds = b
	}

	if pushed, err := (proto.DOMPushNodesByBackendIDsToFrontend{BackendNodeIDs: []proto.DOMBackendNodeID{id}}).Call(p); err == nil && len(pushed.NodeIDs) == 1 {
		if cs, err := (proto.CSSGetComputedStyleForNode{NodeID: pushed.NodeIDs[0]}).Call(p); err == nil {
			l.Styles = styles(cs.ComputedStyle)
		}
	}

	if obj, err := (proto.DOMResolveNode{BackendNodeID: id}).Call(p); err == nil && obj.Object != nil && obj.Object.ObjectID != "" {
		if ls, err := (proto.DOMDebuggerGetEventListeners{ObjectID: obj.Object.ObjectID}).Call(p); err == nil {
			l.Events = listenerTypes(ls.Listeners)
		}
		_ = proto.RuntimeReleaseObject{ObjectID: obj.Object.ObjectID}.Call(p)
	}

	if l.Bounds == nil && l.Styles == nil && l.Events == nil {
		return l, dom.ErrUnavailable
	}
	return l, nil
}

func styles(props []*proto.CSSCSSComputedStyleProperty) *report.Styles {
	s := &report.Styles{}
	for _, p := range props {
		switch p.Name {
		case "display":
			s.Display = p.Value
		case "position":
			s.Position = p.Value
		case "visibility":
			s.Visibility = p.Value
		case "background-color":
			s.Background = p.Value
		case "color":
			s.Color = p.Value
		}
	}
	return s
}

// listenerTypes returns distinct event types in first-seen order. An
// element with no listeners yields an empty, non-nil slice.
func listenerTypes(ls []*proto.DOMDebuggerEventListener) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, l := range ls {
		if !seen[l.Type] {
			seen[l.Type] = true
			out = append(out, l.Type)
		}
	}
	return out
}
