package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mattn/go-sqlite3"
)

const maxBusyAttempts = 4

type rowScanner interface {
	Scan(dest ...any) error
}

type retryRow struct {
	ctx     context.Context
	query   func() *sql.Row
	timeout time.Duration
	text    string
	caller  string
}

func (r retryRow) Scan(dest ...any) error {
	slog.Debug("sql query row", "query", r.text, "caller", r.caller)
	return retryBusy(r.ctx, r.timeout, "sql query row", r.text, func() error {
		return r.query().Scan(dest...)
	})
}

// retryBusy reruns op while SQLite reports the database as busy or locked,
// bounded by attempts, the lock timeout and the context.
func retryBusy(ctx context.Context, timeout time.Duration, op, query string, fn func() error) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isSQLiteBusy(err) {
			slog.Debug(op+" done", "duration_ms", time.Since(start).Milliseconds(), "attempts", attempt+1, "err", err)
			return err
		}
		slog.Debug(op+" busy", "query", query, "attempt", attempt+1, "err", err)
		if attempt+1 >= maxBusyAttempts {
			slog.Debug(op+" done", "attempts", attempt+1, "err", err, "reason", "max-retries")
			return err
		}
		if timeout <= 0 {
			slog.Debug(op+" done", "attempts", attempt+1, "err", err, "reason", "no-timeout")
			return err
		}
		if ctx.Err() != nil {
			slog.Debug(op+" done", "attempts", attempt+1, "err", ctx.Err(), "reason", "context")
			return ctx.Err()
		}
		if time.Since(start) >= timeout {
			slog.Debug(op+" done", "attempts", attempt+1, "err", err, "reason", "timeout")
			return err
		}
		time.Sleep(retryDelay(attempt))
	}
}

func (s *SQLite) queryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return retryRow{
		ctx:     ctx,
		query:   func() *sql.Row { return s.db.QueryRowContext(ctx, query, args...) },
		timeout: s.lockTimeout,
		text:    query,
		caller:  callerName(),
	}
}

func (s *SQLite) queryRowContextTx(ctx context.Context, tx *sql.Tx, query string, args ...any) rowScanner {
	return retryRow{
		ctx:     ctx,
		query:   func() *sql.Row { return tx.QueryRowContext(ctx, query, args...) },
		timeout: s.lockTimeout,
		text:    query,
		caller:  callerName(),
	}
}

func (s *SQLite) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	slog.Debug("sql exec", "query", query)
	var res sql.Result
	err := retryBusy(ctx, s.lockTimeout, "sql exec", query, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *SQLite) execContextTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	slog.Debug("sql exec tx", "query", query)
	var res sql.Result
	err := retryBusy(ctx, s.lockTimeout, "sql exec tx", query, func() error {
		var err error
		res, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (s *SQLite) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	slog.Debug("sql query", "query", query)
	var rows *sql.Rows
	err := retryBusy(ctx, s.lockTimeout, "sql query", query, func() error {
		var err error
		rows, err = s.db.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

func retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt+1) * 40 * time.Millisecond
	if delay > 300*time.Millisecond {
		delay = 300 * time.Millisecond
	}
	return delay
}

func (s *SQLite) beginTx(ctx context.Context, name string) (*sql.Tx, time.Time, error) {
	start := time.Now()
	slog.Debug("sql tx begin", "op", name)
	var tx *sql.Tx
	err := retryBusy(ctx, s.lockTimeout, "sql tx begin", name, func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		slog.Error("sql tx begin failed", "op", name, "err", err)
		return nil, start, err
	}
	return tx, start, nil
}

func (s *SQLite) commitTx(tx *sql.Tx, name string, start time.Time) error {
	if tx == nil {
		return sql.ErrTxDone
	}
	err := tx.Commit()
	slog.Debug("sql tx commit", "op", name, "duration_ms", time.Since(start).Milliseconds(), "err", err)
	return err
}

func (s *SQLite) rollbackTx(tx *sql.Tx, name string, start time.Time) {
	if tx == nil {
		return
	}
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Warn("sql tx rollback failed", "op", name, "duration_ms", time.Since(start).Milliseconds(), "err", err)
		return
	}
	slog.Debug("sql tx rollback", "op", name, "duration_ms", time.Since(start).Milliseconds())
}

func isSQLiteBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func callerName() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return file + ":" + fmt.Sprint(line)
}
