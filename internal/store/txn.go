package store

import (
	"context"

	"github.com/basket/taskhold/internal/shared"
)

// Begin opens a transaction by snapshotting the full root. Only one
// transaction may be open at a time; concurrent writers are already
// serialized by the operation queue above the engine.
func (e *Engine) Begin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.txnSnapshot != nil {
		return ErrTransactionInProgress
	}
	e.txnSnapshot = e.root.Clone()
	e.txnHistory = nil
	e.txnEvents = nil
	e.log.Debug("transaction begun", "trace_id", shared.TraceID(ctx))
	return nil
}

// Commit makes the transaction's mutations durable: buffered undo entries
// join the ring, buffered events are published, and a flush is scheduled.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txnSnapshot == nil {
		return ErrNoActiveTransaction
	}
	e.txnSnapshot = nil
	for _, entry := range e.txnHistory {
		e.ring.Push(entry)
	}
	e.txnHistory = nil
	events := e.txnEvents
	e.txnEvents = nil
	for _, ev := range events {
		e.publish(ev.topic, ev.payload)
	}
	e.requestFlush()
	e.log.Debug("transaction committed", "trace_id", shared.TraceID(ctx))
	return nil
}

// Rollback restores the snapshot taken at Begin, discarding every mutation
// made since, including their buffered undo entries and events.
func (e *Engine) Rollback(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.txnSnapshot == nil {
		return ErrNoActiveTransaction
	}
	e.root = e.txnSnapshot
	e.txnSnapshot = nil
	e.txnHistory = nil
	e.txnEvents = nil
	e.log.Info("transaction rolled back", "trace_id", shared.TraceID(ctx))
	return nil
}

// InTransaction reports whether a transaction is open.
func (e *Engine) InTransaction() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txnSnapshot != nil
}

// WithTransaction runs fn inside a transaction, committing on nil and
// rolling back on error or panic.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.Begin(ctx); err != nil {
		return err
	}
	var done bool
	defer func() {
		if !done {
			_ = e.Rollback(ctx)
		}
	}()
	if err := fn(ctx); err != nil {
		done = true
		if rbErr := e.Rollback(ctx); rbErr != nil {
			e.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	done = true
	return e.Commit(ctx)
}
