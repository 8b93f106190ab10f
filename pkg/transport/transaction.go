package transport

import "context"

// Scope brackets one transaction against the queue engine, mirroring
// pkg/database/uow.UnitOfWork but split into explicit Open/Commit/Rollback
// steps (rather than a single closure) because the dispatcher must
// interleave business logic — pre-commit hooks, event-bus notifications —
// between opening the transaction and resolving it.
//
// If an ambient transaction already exists on the context (because this
// scope is opened from within a dispatch, e.g. by Send or Reply called from
// a subscriber), Scope reuses it and defers commit/rollback to whichever caller
// opened it — matching spec §5's "if an ambient distributed transaction
// exists, its isolation level wins".
type Scope struct {
	tx      Tx
	ambient bool
}

// Tx returns the underlying transaction handle.
func (s *Scope) Tx() Tx { return s.tx }

// Commit resolves the transaction, unless it is ambient, in which case the
// owning scope is responsible for the final commit/rollback.
func (s *Scope) Commit() error {
	if s.ambient {
		return nil
	}
	return s.tx.Commit()
}

// Rollback resolves the transaction, unless it is ambient.
func (s *Scope) Rollback() error {
	if s.ambient {
		return nil
	}
	return s.tx.Rollback()
}

type txContextKey struct{}

// OpenScope opens a transaction scope against qm, reusing an ambient
// transaction already present on ctx if one exists.
func OpenScope(ctx context.Context, qm QueueManager, opts TxOptions) (context.Context, *Scope, error) {
	if ambient, ok := ctx.Value(txContextKey{}).(Tx); ok {
		return ctx, &Scope{tx: ambient, ambient: true}, nil
	}

	tx, err := qm.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, &QueueError{Op: "begin_tx", Err: err}
	}

	return context.WithValue(ctx, txContextKey{}, tx), &Scope{tx: tx}, nil
}

// OpenIndependentScope always opens a brand new transaction, ignoring any
// ambient one on ctx. The logging module uses this for failure audit
// records, which spec §4.7 requires to survive even when the dispatch
// transaction that produced them rolls back.
func OpenIndependentScope(ctx context.Context, qm QueueManager, opts TxOptions) (context.Context, *Scope, error) {
	tx, err := qm.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, &QueueError{Op: "begin_tx", Err: err}
	}
	return context.WithValue(ctx, txContextKey{}, tx), &Scope{tx: tx}, nil
}

// TxFromContext retrieves the ambient transaction set up by OpenScope, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(Tx)
	return tx, ok
}
