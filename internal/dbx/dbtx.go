// Package dbx provides the small database helpers shared by repositories:
// the DBTX handle implemented by both *sql.DB and *sql.Tx, transaction
// runners and Postgres error classification.
package dbx

import (
	"context"
	"database/sql"
	"sync"
)

// DBTX is the subset of database/sql used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rollbackHooksKey struct{}

type rollbackHooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *rollbackHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// OnRollback registers fn to run if the transaction started by WithTx for
// ctx does not commit. Hooks run in reverse registration order. Outside
// WithTx nothing is registered and OnRollback reports false.
func OnRollback(ctx context.Context, fn func()) bool {
	h, ok := ctx.Value(rollbackHooksKey{}).(*rollbackHooks)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
	return true
}

// WithTx begins a transaction, runs fn with the transactional handle and
// commits when fn succeeds. Any error or panic rolls the transaction back;
// panics are rethrown. A failed commit counts as a rollback for OnRollback
// hooks.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	hooks := &rollbackHooks{}
	ctx = context.WithValue(ctx, rollbackHooksKey{}, hooks)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			hooks.run()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			hooks.run()
			return
		}
		if err = tx.Commit(); err != nil {
			hooks.run()
		}
	}()

	err = fn(ctx, tx)
	return err
}

// WithTxResult is WithTx for functions that produce a value. The value is
// returned only when the transaction commits.
func WithTxResult[T any](ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) (T, error)) (T, error) {
	var result T
	err := WithTx(ctx, db, opts, func(ctx context.Context, tx DBTX) error {
		var err error
		result, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
