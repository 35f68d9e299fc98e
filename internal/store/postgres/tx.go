package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const maxTxRetries = 3

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// withRetry runs fn in a transaction and replays it on serialization
// failures, deadlocks and lock timeouts.
func (s *Store) withRetry(ctx context.Context, isolation sql.IsolationLevel, fn func(*sql.Tx) error) error {
	backoff := 25 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runTx(ctx, isolation, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		jitter := time.Duration(rand.Int64N(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", maxTxRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, isolation sql.IsolationLevel, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
