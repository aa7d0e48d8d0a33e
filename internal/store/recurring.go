package store

import (
	"context"
	"strings"
	"time"

	"github.com/basket/taskhold/internal/shared"
)

// AddRecurring registers a recurring definition. Cron expression syntax is
// the scheduler's concern; the store only owns storage and identity.
func (e *Engine) AddRecurring(ctx context.Context, def RecurringDef) (*RecurringDef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, &InvalidFieldValueError{Field: "name", Value: def.Name}
	}
	if strings.TrimSpace(def.Title) == "" {
		return nil, &InvalidFieldValueError{Field: "title", Value: def.Title}
	}
	if strings.TrimSpace(def.CronExpr) == "" {
		return nil, &InvalidFieldValueError{Field: "cron_expr", Value: def.CronExpr}
	}
	if def.Priority == "" {
		def.Priority = PriorityMedium
	}
	if !ValidPriority(def.Priority) {
		return nil, &InvalidFieldValueError{Field: "priority", Value: string(def.Priority), Allow: priorityNames()}
	}
	def.ID = e.newID()
	def.Tags = normalizeTags(def.Tags)
	stored := def
	e.root.Recurring = append(e.root.Recurring, &stored)
	e.audit.Record("recurring.add", def.ID, "", shared.Actor(ctx), def.Name)
	e.requestFlush()
	out := def
	return &out, nil
}

// ListRecurring returns copies of all recurring definitions.
func (e *Engine) ListRecurring() []*RecurringDef {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*RecurringDef, 0, len(e.root.Recurring))
	for _, def := range e.root.Recurring {
		d := *def
		d.Tags = append([]string(nil), def.Tags...)
		d.LastRunAt = cloneTime(def.LastRunAt)
		d.NextRunAt = cloneTime(def.NextRunAt)
		out = append(out, &d)
	}
	return out
}

// RemoveRecurring deletes a definition by id.
func (e *Engine) RemoveRecurring(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	for i, def := range e.root.Recurring {
		if def.ID == id {
			e.root.Recurring = append(e.root.Recurring[:i], e.root.Recurring[i+1:]...)
			e.audit.Record("recurring.remove", id, "", shared.Actor(ctx), def.Name)
			e.requestFlush()
			return nil
		}
	}
	return &NotFoundError{ID: id}
}

// MarkRecurringRun records a firing and the next scheduled time.
func (e *Engine) MarkRecurringRun(id string, ranAt, nextAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, def := range e.root.Recurring {
		if def.ID == id {
			def.LastRunAt = &ranAt
			def.NextRunAt = &nextAt
			e.requestFlush()
			return nil
		}
	}
	return &NotFoundError{ID: id}
}

// SetRecurringSchedule stamps the first NextRunAt after registration.
func (e *Engine) SetRecurringSchedule(id string, nextAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, def := range e.root.Recurring {
		if def.ID == id {
			def.NextRunAt = &nextAt
			e.requestFlush()
			return nil
		}
	}
	return &NotFoundError{ID: id}
}
