package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Transact runs fn in a transaction, wrapped with RetryWithBackoff so
// SQLITE_BUSY/SQLITE_LOCKED contention on the same key is retried rather
// than surfaced to the caller as a transient failure.
func Transact(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return RetryWithBackoff(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}

		return nil
	})
}
