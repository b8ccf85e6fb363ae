package engine

import (
	"time"

	"github.com/hazyhaar/chatwatch/chatwatch/report"
)

// coalesceConfig controls how mutation batches are deferred.
type coalesceConfig struct {
	// Window is the quiet period after the last batch. Default: 100ms.
	Window time.Duration
	// MaxRecords triggers an immediate flush. Default: 1000.
	MaxRecords int
}

func (cc *coalesceConfig) defaults() {
	if cc.Window <= 0 {
		cc.Window = 100 * time.Millisecond
	}
	if cc.MaxRecords <= 0 {
		cc.MaxRecords = 1000
	}
}

// coalescer holds batches until the page goes quiet so that a burst of
// mutations costs one reclassification. Owned by the engine loop goroutine.
type coalescer struct {
	cfg     coalesceConfig
	batches []report.Batch
	records int
	timer   *time.Timer
	timerCh <-chan time.Time
}

func newCoalescer(cfg coalesceConfig) *coalescer {
	cfg.defaults()
	return &coalescer{cfg: cfg}
}

// add queues b and (re)starts the window. It returns true when the buffer
// is full and the caller should take() now.
func (c *coalescer) add(b report.Batch) bool {
	c.batches = append(c.batches, b)
	c.records += len(b.Records)
	if c.records >= c.cfg.MaxRecords {
		return true
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.NewTimer(c.cfg.Window)
	c.timerCh = c.timer.C
	return false
}

// timerC fires when the window expires. Nil (never fires) when idle.
func (c *coalescer) timerC() <-chan time.Time {
	return c.timerCh
}

// take returns the queued batches and resets.
func (c *coalescer) take() []report.Batch {
	out := c.batches
	c.batches = nil
	c.records = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.timerCh = nil
	}
	return out
}

// merge flattens batches into one record list and compresses it:
//   - consecutive attribute records on the same (target, attribute) keep
//     one record with the first old value
//   - consecutive characterData records on the same target keep one
//   - childList and docReset records are never merged
func merge(batches []report.Batch) []report.Record {
	var all []report.Record
	for _, b := range batches {
		all = append(all, b.Records...)
	}
	return compress(all)
}

func compress(records []report.Record) []report.Record {
	if len(records) <= 1 {
		return records
	}
	result := make([]report.Record, 0, len(records))
	for i := 0; i < len(records); i++ {
		rec := records[i]
		switch rec.Op {
		case report.OpAttributes, report.OpCharacterData:
			j := i + 1
			for j < len(records) &&
				records[j].Op == rec.Op &&
				records[j].Target == rec.Target &&
				records[j].Attribute == rec.Attribute {
				j++
			}
			result = append(result, rec)
			i = j - 1
		default:
			result = append(result, rec)
		}
	}
	return result
}
