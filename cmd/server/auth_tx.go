package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "grantd/pkg/domain-errors"
	txcontext "grantd/pkg/platform/tx"
)

const defaultAuthTxTimeout = 5 * time.Second

// authPostgresTx runs the service's multi-store writes in one database
// transaction. Stores find the transaction in the context.
type authPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newAuthPostgresTx(db *sql.DB) *authPostgresTx {
	return &authPostgresTx{db: db}
}

func (t *authPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultAuthTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
