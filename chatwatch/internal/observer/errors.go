package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// ErrorInstrument logs uncaught page exceptions under the plugin category.
type ErrorInstrument struct {
	page *rod.Page
}

// NewErrorInstrument creates a page error hook.
func NewErrorInstrument(page *rod.Page) *ErrorInstrument {
	return &ErrorInstrument{page: page}
}

func (e *ErrorInstrument) Name() string { return "errors" }

// Attach enables the Runtime domain and logs exceptions until detach.
func (e *ErrorInstrument) Attach(ctx context.Context, log report.Logger) (func(), error) {
	if err := (proto.RuntimeEnable{}).Call(e.page); err != nil {
		return nil, fmt.Errorf("observer: Runtime.enable: %w", err)
	}
	actx, cancel := context.WithCancel(ctx)
	wait := e.page.Context(actx).EachEvent(func(ev *proto.RuntimeExceptionThrown) {
		log.Log(report.LogPlugin, time.Now(), exceptionLine(ev.ExceptionDetails))
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func exceptionLine(d *proto.RuntimeExceptionDetails) string {
	if d == nil {
		return "Global error: " + report.NA
	}
	stack := report.NA
	if d.Exception != nil && d.Exception.Description != "" {
		stack = d.Exception.Description
	}
	return fmt.Sprintf("Global error: %s at %s:%d:%d, Stack: %s", d.Text, d.URL, d.LineNumber, d.ColumnNumber, stack)
}
