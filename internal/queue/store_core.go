package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/retry"
)

const sqliteBusyCode = 5

var busyRetryPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     200 * time.Millisecond,
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// isSQLiteBusy recognizes the transient-connection error class: lock
// contention that clears on its own and is safe to retry.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retry.Do(ctx, busyRetryPolicy, isSQLiteBusy, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retry.Do(ctx, busyRetryPolicy, isSQLiteBusy, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
