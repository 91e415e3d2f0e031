package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RetryPolicy governs writer transactions under contention: retry
// with exponential backoff, then surface the failure for the caller
// to classify as DB_ERROR. Under Serializable isolation the retryable
// conditions are a serialization failure (40001) or a deadlock
// (40P01).
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	Factor      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialWait: 150 * time.Millisecond, Factor: 2}
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// WithWriteTx runs fn inside a Serializable, ReadWrite transaction,
// retrying the whole transaction on a retryable error up to
// policy.MaxAttempts times with exponential backoff. On exhaustion the
// last error is returned for the caller to classify as DB_ERROR.
func WithWriteTx(ctx context.Context, pool *pgxpool.Pool, policy RetryPolicy, fn func(pgx.Tx) error) error {
	wait := policy.InitialWait
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait = time.Duration(float64(wait) * policy.Factor)
		}

		tx, err := pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.Serializable,
			AccessMode: pgx.ReadWrite,
		})
		if err != nil {
			if isRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		err = fn(tx)
		if err != nil {
			_ = tx.Rollback(ctx)
			if isRetryable(err) && attempt < policy.MaxAttempts {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isRetryable(err) && attempt < policy.MaxAttempts {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}
