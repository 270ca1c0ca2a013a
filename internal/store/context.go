package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// =============================================================================
// Context Helpers
// =============================================================================

// WithTimeout applies timeout, or Config.QueryTimeout when timeout is zero,
// unless ctx already carries an earlier deadline. The returned cancel must
// be called once the statement's rows are closed.
func (s *Store) WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = s.config.QueryTimeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// =============================================================================
// Transaction Support
// =============================================================================

// TransactionContext executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back. The context is
// checked before commit so a timed-out transaction never commits.
func (s *Store) TransactionContext(ctx context.Context, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", Classify(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return Classify(err)
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("context cancelled before commit: %w", Classify(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", Classify(err))
	}
	return nil
}

// Transaction runs fn in a transaction bounded by Config.QueryTimeout.
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	ctx, cancel := s.WithTimeout(context.Background(), 0)
	defer cancel()
	return s.TransactionContext(ctx, fn)
}
