package store

import (
	"context"
)

// BulkCreate creates all requests atomically inside a transaction. Any
// item failure rolls the whole batch back with a per-item error map.
func (e *Engine) BulkCreate(ctx context.Context, reqs []CreateRequest) ([]*Task, error) {
	var created []*Task
	failures := make(map[int]error)
	err := e.WithTransaction(ctx, func(ctx context.Context) error {
		for i, req := range reqs {
			t, err := e.Create(ctx, req)
			if err != nil {
				failures[i] = err
				return &BulkValidationError{Errors: failures}
			}
			created = append(created, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// BulkPatch pairs a task id with its patch.
type BulkPatch struct {
	ID    string
	Patch Patch
}

// BulkUpdate applies all patches atomically. Every referenced id is
// checked up front so a batch with unknown ids is rejected without side
// effects; failures mid-batch roll the whole transaction back.
func (e *Engine) BulkUpdate(ctx context.Context, patches []BulkPatch) ([]*Task, error) {
	ids := make([]string, len(patches))
	for i, bp := range patches {
		ids[i] = bp.ID
	}
	if err := e.precheckIDs(ids); err != nil {
		return nil, err
	}
	var updated []*Task
	failures := make(map[int]error)
	err := e.WithTransaction(ctx, func(ctx context.Context) error {
		for i, bp := range patches {
			t, err := e.Update(ctx, bp.ID, bp.Patch)
			if err != nil {
				failures[i] = err
				return &BulkValidationError{Errors: failures}
			}
			updated = append(updated, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// BulkDelete deletes all ids atomically under one policy. Before the
// transaction opens it verifies every id exists and, unless force is set,
// that no task outside the batch depends on a batch member.
func (e *Engine) BulkDelete(ctx context.Context, ids []string, policy DeletePolicy, force bool) error {
	if err := e.precheckIDs(ids); err != nil {
		return err
	}
	if !force {
		if err := e.precheckOutsideDependents(ids); err != nil {
			return err
		}
	}
	failures := make(map[int]error)
	return e.WithTransaction(ctx, func(ctx context.Context) error {
		for i, id := range ids {
			if err := e.Delete(ctx, id, policy); err != nil {
				// Cascade may have removed later batch members already.
				if policy == DeleteCascade && IsNotFound(err) {
					continue
				}
				failures[i] = err
				return &BulkValidationError{Errors: failures}
			}
		}
		return nil
	})
}

// precheckIDs rejects the batch when any referenced id is missing.
func (e *Engine) precheckIDs(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	failures := make(map[int]error)
	for i, id := range ids {
		if _, ok := e.root.Tasks[id]; !ok {
			failures[i] = &NotFoundError{ID: id}
		}
	}
	if len(failures) > 0 {
		return &BulkValidationError{Errors: failures}
	}
	return nil
}

// precheckOutsideDependents rejects a delete batch when a non-archived
// task outside the batch depends on a batch member.
func (e *Engine) precheckOutsideDependents(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inBatch := make(map[string]bool, len(ids))
	for _, id := range ids {
		inBatch[id] = true
	}
	failures := make(map[int]error)
	for i, id := range ids {
		var outside []string
		for _, dep := range e.root.dependents(id) {
			if !inBatch[dep] {
				outside = append(outside, dep)
			}
		}
		if len(outside) > 0 {
			failures[i] = &DependencyConflictError{TaskID: id, Dependents: outside}
		}
	}
	if len(failures) > 0 {
		return &BulkValidationError{Errors: failures}
	}
	return nil
}
