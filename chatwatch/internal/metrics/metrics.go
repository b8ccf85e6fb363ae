// Package metrics buffers numeric observations from the engine and flushes
// them to a SQLite timeseries table in batches.
//
// Persistence is async: Observe never blocks on the database, and a flush
// failure drops the batch rather than applying backpressure to passes.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/chatwatch/dbopen"
)

// Schema creates the timeseries table.
const Schema = `
CREATE TABLE IF NOT EXISTS chatwatch_metrics (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT
);
CREATE INDEX IF NOT EXISTS idx_chatwatch_metrics_name_time
    ON chatwatch_metrics(metric_name, timestamp DESC);`

// Metric is a single datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Config tunes buffering.
type Config struct {
	BufferSize    int           // flush when this many are pending, default 100
	FlushInterval time.Duration // default 5s
	Logger        *slog.Logger
}

// Recorder buffers metrics and flushes them in batches.
type Recorder struct {
	db     *sql.DB
	cfg    Config
	mu     sync.Mutex
	buffer []Metric
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// New creates a Recorder, ensures the schema and starts the flush loop.
func New(db *sql.DB, cfg Config) (*Recorder, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("metrics: schema: %w", err)
	}
	r := &Recorder{
		db:     db,
		cfg:    cfg,
		buffer: make([]Metric, 0, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.flushLoop()
	return r, nil
}

// Observe queues a datapoint. Non-blocking.
func (r *Recorder) Observe(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = append(r.buffer, Metric{Name: name, Timestamp: time.Now(), Value: value, Labels: labels})
	if len(r.buffer) >= r.cfg.BufferSize {
		r.flushLocked()
	}
}

// Flush persists everything pending.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Query returns metrics by name (empty for all) newer than since, newest
// first. limit <= 0 means no limit.
func (r *Recorder) Query(ctx context.Context, name string, since time.Time, limit int) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels FROM chatwatch_metrics WHERE timestamp >= ?"
	args := []any{since.UnixMilli()}
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("metrics: query: %w", err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels); err != nil {
			return nil, fmt.Errorf("metrics: scan: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Cleanup deletes metrics older than before and returns the count removed.
func (r *Recorder) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, r.db, "DELETE FROM chatwatch_metrics WHERE timestamp < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("metrics: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes pending metrics and stops the flush loop.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.cfg.Logger.Error("metrics: begin tx", "error", err)
		r.buffer = r.buffer[:0]
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chatwatch_metrics (metric_name, timestamp, value, labels) VALUES (?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		r.cfg.Logger.Error("metrics: prepare", "error", err)
		r.buffer = r.buffer[:0]
		return
	}
	defer stmt.Close()

	for _, m := range r.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels); err != nil {
			r.cfg.Logger.Error("metrics: insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		r.cfg.Logger.Error("metrics: commit", "error", err)
	}
	r.buffer = r.buffer[:0]
}
