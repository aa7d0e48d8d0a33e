package store

import (
	"context"

	"github.com/basket/taskhold/internal/bus"
	"github.com/basket/taskhold/internal/shared"
)

// Undo reverts the most recent mutation by restoring the deep copies the
// history entry captured: created tasks are removed, deleted tasks are
// restored, updated tasks revert to their prior state. The consumed entry
// leaves the ring; undo itself is not undoable.
func (e *Engine) Undo(ctx context.Context) (*HistoryEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.txnSnapshot != nil {
		return nil, ErrTransactionInProgress
	}
	entry := e.ring.Pop()
	if entry == nil {
		return nil, ErrEmptyHistory
	}

	for i, id := range entry.TaskIDs {
		before := entry.Before[i]
		if before == nil {
			delete(e.root.Tasks, id)
			continue
		}
		e.root.Tasks[id] = before.Clone()
	}
	e.repairDerived()
	e.root.Meta.LastUpdated = e.now().UTC()

	actor := shared.Actor(ctx)
	e.audit.Record("task.undo", entry.TaskIDs[0], "", actor, entry.Description)
	e.log.Info("undo applied",
		"op", string(entry.Op),
		"description", entry.Description,
		"tasks", len(entry.TaskIDs),
		"trace_id", shared.TraceID(ctx))
	e.publish(bus.TopicUndoApplied, bus.TaskEvent{
		TaskID: entry.TaskIDs[0],
		Actor:  actor,
	})
	e.requestFlush()
	return entry, nil
}

// UndoHistory returns the pending undo entries, oldest first.
func (e *Engine) UndoHistory() []*HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.ring.Snapshot()
	out := make([]*HistoryEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.clone()
	}
	return out
}
