package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Attempts is how many times a busy write is tried before giving up.
const Attempts = 3

// retryStep is the backoff unit: attempt n waits n*retryStep.
const retryStep = 100 * time.Millisecond

// IsBusy reports whether err is SQLite lock contention
// (SQLITE_BUSY, a locked database or a locked table).
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retry runs op until it succeeds, fails with a non-busy error, or the
// attempts run out.
func retry[T any](ctx context.Context, what string, op func() (T, error)) (T, error) {
	var zero T
	for i := 1; ; i++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if !IsBusy(err) || i == Attempts {
			return zero, err
		}
		t := time.NewTimer(time.Duration(i) * retryStep)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("dbopen: %s: %w", what, ctx.Err())
		case <-t.C:
		}
	}
}

// RunTx runs fn in a transaction, retrying the whole transaction while the
// database is busy. fn's error rolls back and is returned unwrapped.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, "tx", func() (struct{}, error) {
		return struct{}{}, runTx(ctx, db, fn)
	})
	return err
}

func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs one statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}
