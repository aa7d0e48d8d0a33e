package store

import (
	"context"
	"fmt"

	"github.com/basket/taskhold/internal/bus"
)

// Inconsistency is one finding from a consistency check.
type Inconsistency struct {
	Code   string `json:"code"`
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail"`
}

// CheckConsistency scans the store for invariant violations. The quick
// pass checks version alignment and section membership; full additionally
// walks the dependency graph for dangling edges, cycles and stale
// BlockedBy lists.
func (e *Engine) CheckConsistency(ctx context.Context, full bool) []Inconsistency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.check(full)
}

// maybeCheck runs opportunistically after mutations: a quick structural
// scan each time the check interval has elapsed, escalating to a full
// check with auto-repair when the quick scan finds damage. Caller holds
// e.mu.
func (e *Engine) maybeCheck() {
	now := e.now()
	if now.Sub(e.lastCheck) < e.checkInterval {
		return
	}
	e.lastCheck = now
	if len(e.check(false)) == 0 {
		return
	}
	findings := e.check(true)
	e.repairDerived()
	for _, f := range findings {
		e.log.Warn("consistency auto-repair", "code", f.Code, "task_id", f.TaskID, "detail", f.Detail)
	}
}

// check is the scan body. Caller holds e.mu.
func (e *Engine) check(full bool) []Inconsistency {
	var out []Inconsistency

	for id, t := range e.root.Tasks {
		if int(t.Version) != len(t.ChangeLog) {
			out = append(out, Inconsistency{
				Code: "version_changelog_mismatch", TaskID: id,
				Detail: fmt.Sprintf("version %d but %d change log entries", t.Version, len(t.ChangeLog)),
			})
		}
		if !ValidStatus(t.Status) {
			out = append(out, Inconsistency{
				Code: "unknown_status", TaskID: id,
				Detail: string(t.Status),
			})
		}
		if t.Status == StatusCompleted && t.CompletedAt == nil {
			out = append(out, Inconsistency{
				Code: "missing_completed_at", TaskID: id,
				Detail: "completed task without completion timestamp",
			})
		}
	}

	// Section membership must partition the non-archived tasks by status.
	seen := make(map[string]string)
	for _, s := range e.root.Sections {
		for _, id := range s.TaskIDs {
			if prev, dup := seen[id]; dup {
				out = append(out, Inconsistency{
					Code: "duplicate_section_membership", TaskID: id,
					Detail: fmt.Sprintf("listed in %q and %q", prev, s.Name),
				})
			}
			seen[id] = s.Name
			t, ok := e.root.Tasks[id]
			if !ok {
				out = append(out, Inconsistency{
					Code: "orphan_section_entry", TaskID: id,
					Detail: fmt.Sprintf("section %q references missing task", s.Name),
				})
				continue
			}
			if string(t.Status) != s.Name {
				out = append(out, Inconsistency{
					Code: "section_status_mismatch", TaskID: id,
					Detail: fmt.Sprintf("in section %q but status %q", s.Name, t.Status),
				})
			}
			if t.Archived {
				out = append(out, Inconsistency{
					Code: "archived_in_section", TaskID: id,
					Detail: fmt.Sprintf("archived task listed in section %q", s.Name),
				})
			}
		}
	}
	for id, t := range e.root.Tasks {
		if t.Archived {
			continue
		}
		if _, ok := seen[id]; !ok {
			out = append(out, Inconsistency{
				Code: "missing_section_entry", TaskID: id,
				Detail: fmt.Sprintf("status %q task absent from its section", t.Status),
			})
		}
	}

	if full {
		for id, t := range e.root.Tasks {
			for _, dep := range t.Dependencies {
				if _, ok := e.root.Tasks[dep]; !ok {
					out = append(out, Inconsistency{
						Code: "dangling_dependency", TaskID: id,
						Detail: fmt.Sprintf("depends on missing task %s", dep),
					})
				}
			}
			if err := ValidateDependencies(id, t.Dependencies, e.depsOf); err != nil {
				out = append(out, Inconsistency{
					Code: "dependency_cycle", TaskID: id,
					Detail: err.Error(),
				})
			}
			want := map[string]bool{}
			for _, dep := range t.Dependencies {
				if d, ok := e.root.Tasks[dep]; ok && d.Status != StatusCompleted {
					want[dep] = true
				}
			}
			if len(want) != len(t.BlockedBy) {
				out = append(out, Inconsistency{
					Code: "stale_blocked_by", TaskID: id,
					Detail: fmt.Sprintf("blocked_by has %d entries, expected %d", len(t.BlockedBy), len(want)),
				})
			} else {
				for _, b := range t.BlockedBy {
					if !want[b] {
						out = append(out, Inconsistency{
							Code: "stale_blocked_by", TaskID: id,
							Detail: fmt.Sprintf("blocked_by lists %s which is not an incomplete dependency", b),
						})
						break
					}
				}
			}
		}
		wantTotal, wantDone := 0, 0
		for _, t := range e.root.Tasks {
			if t.Archived {
				continue
			}
			wantTotal++
			if t.Status == StatusCompleted {
				wantDone++
			}
		}
		if e.root.Meta.Total != wantTotal || e.root.Meta.Completed != wantDone {
			out = append(out, Inconsistency{
				Code:   "stale_meta_counts",
				Detail: fmt.Sprintf("meta says %d/%d, actual %d/%d", e.root.Meta.Completed, e.root.Meta.Total, wantDone, wantTotal),
			})
		}
	}

	if len(out) > 0 {
		e.log.Warn("consistency check found issues", "count", len(out), "full", full)
		e.publish(bus.TopicStoreInconsistent, bus.PersistEvent{
			Path:      e.path,
			Total:     e.root.Meta.Total,
			Completed: e.root.Meta.Completed,
		})
	}
	return out
}

// Repair rebuilds all derived state in place: section membership,
// BlockedBy lists and aggregate counts. Version/change-log mismatches are
// not repairable and are left for the caller to surface.
func (e *Engine) Repair(ctx context.Context) []Inconsistency {
	e.mu.Lock()
	defer e.mu.Unlock()
	findings := e.check(true)
	e.repairDerived()
	e.root.Meta.LastUpdated = e.now().UTC()
	e.requestFlush()
	return findings
}
