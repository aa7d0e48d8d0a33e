package store

import (
	"context"
	"testing"
)

func TestCheckConsistency_CleanStore(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, CreateRequest{Title: "a"})
	mustCreate(t, e, CreateRequest{Title: "b", Dependencies: []string{a.ID}})

	if findings := e.CheckConsistency(context.Background(), true); len(findings) != 0 {
		t.Fatalf("findings = %v, want none", findings)
	}
}

func TestCheckConsistency_DetectsDamage(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "a"})

	// Damage internal state directly.
	e.mu.Lock()
	live := e.root.Tasks[task.ID]
	live.Version = 7
	live.Dependencies = []string{"ghost"}
	live.BlockedBy = []string{"stale"}
	e.root.Section(string(StatusCompleted)).TaskIDs = append(
		e.root.Section(string(StatusCompleted)).TaskIDs, task.ID)
	e.root.Meta.Total = 99
	e.mu.Unlock()

	findings := e.CheckConsistency(context.Background(), true)
	codes := make(map[string]bool)
	for _, f := range findings {
		codes[f.Code] = true
	}
	for _, want := range []string{
		"version_changelog_mismatch",
		"duplicate_section_membership",
		"dangling_dependency",
		"stale_blocked_by",
		"stale_meta_counts",
	} {
		if !codes[want] {
			t.Fatalf("findings %v missing code %q", codes, want)
		}
	}
}

func TestRepair_RebuildsDerivedState(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "a"})

	e.mu.Lock()
	e.root.Tasks[task.ID].BlockedBy = []string{"stale"}
	e.root.Section(string(StatusPending)).TaskIDs = nil
	e.root.Meta.Total = 42
	e.mu.Unlock()

	e.Repair(context.Background())

	got, _ := e.Get(task.ID)
	if len(got.BlockedBy) != 0 {
		t.Fatalf("BlockedBy = %v, want empty after repair", got.BlockedBy)
	}
	e.mu.Lock()
	pending := len(e.root.Section(string(StatusPending)).TaskIDs)
	total := e.root.Meta.Total
	e.mu.Unlock()
	if pending != 1 {
		t.Fatalf("pending section = %d entries, want 1", pending)
	}
	if total != 1 {
		t.Fatalf("Meta.Total = %d, want 1", total)
	}
}
