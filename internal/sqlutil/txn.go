package sqlutil

import (
	"context"
	"database/sql"
)

// Run executes fn inside a *sql.Tx.
// If fn returns an error the tx rolls back, else it commits.
func Run(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return runWithOptions(ctx, db, nil, fn)
}

// RunSerializable executes fn inside a SERIALIZABLE transaction. Round
// finalization uses this so the terminal state write and the purse debit
// cannot interleave with a concurrent finalize.
func RunSerializable(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return runWithOptions(ctx, db, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func runWithOptions(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
