package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustCreate(t *testing.T, e *Engine, req CreateRequest) *Task {
	t.Helper()
	task, err := e.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create(%q): %v", req.Title, err)
	}
	return task
}

func TestCreate_Defaults(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "  write docs  "})

	if task.Title != "write docs" {
		t.Fatalf("Title = %q, want %q", task.Title, "write docs")
	}
	if task.Status != StatusPending {
		t.Fatalf("Status = %q, want %q", task.Status, StatusPending)
	}
	if task.Priority != PriorityMedium {
		t.Fatalf("Priority = %q, want %q", task.Priority, PriorityMedium)
	}
	if task.Version != 1 {
		t.Fatalf("Version = %d, want 1", task.Version)
	}
	if len(task.ChangeLog) != 1 {
		t.Fatalf("len(ChangeLog) = %d, want 1", len(task.ChangeLog))
	}
	if task.ProgressPercentage() != 0 {
		t.Fatalf("ProgressPercentage = %d, want 0", task.ProgressPercentage())
	}
}

func TestCreate_Invalid(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Create(context.Background(), CreateRequest{Title: "   "}); err == nil {
		t.Fatal("expected error for blank title")
	}
	_, err := e.Create(context.Background(), CreateRequest{Title: "x", Priority: "urgent"})
	var inv *InvalidFieldValueError
	if !errors.As(err, &inv) {
		t.Fatalf("error = %v, want InvalidFieldValueError", err)
	}
	if inv.Field != "priority" {
		t.Fatalf("Field = %q, want %q", inv.Field, "priority")
	}
	_, err = e.Create(context.Background(), CreateRequest{Title: "x", Dependencies: []string{"missing"}})
	var conflict *DependencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want DependencyConflictError", err)
	}
}

func TestUpdate_VersionAndChangeLog(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "refactor parser"})

	title := "refactor lexer"
	prio := PriorityHigh
	got, err := e.Update(context.Background(), task.ID, Patch{Title: &title, Priority: &prio, Reason: "scope change"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2", got.Version)
	}
	if len(got.ChangeLog) != int(got.Version) {
		t.Fatalf("len(ChangeLog) = %d, want %d", len(got.ChangeLog), got.Version)
	}
	last := got.ChangeLog[len(got.ChangeLog)-1]
	if last.Reason != "scope change" {
		t.Fatalf("Reason = %q, want %q", last.Reason, "scope change")
	}
	if len(last.Changes) != 2 {
		t.Fatalf("len(Changes) = %d, want 2", len(last.Changes))
	}
}

func TestUpdate_NoOpSkipsVersionBump(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "same"})

	same := "same"
	got, err := e.Update(context.Background(), task.ID, Patch{Title: &same})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("Version = %d, want 1 after no-op patch", got.Version)
	}
	if got.UpdatedAt != task.UpdatedAt {
		t.Fatal("UpdatedAt changed on no-op patch")
	}
}

func TestUpdate_InvalidPatchLeavesTaskUntouched(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "stable"})

	title := "new title"
	bad := Status("paused")
	if _, err := e.Update(context.Background(), task.ID, Patch{Title: &title, Status: &bad}); err == nil {
		t.Fatal("expected error for unknown status")
	}
	got, err := e.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "stable" || got.Version != 1 {
		t.Fatalf("task mutated despite rejected patch: title=%q version=%d", got.Title, got.Version)
	}
}

func TestStatusChange_MovesSectionAndSetsCompletedAt(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "ship it"})

	done := StatusCompleted
	got, err := e.Update(context.Background(), task.ID, Patch{Status: &done})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set on completion")
	}
	if got.ProgressPercentage() != 100 {
		t.Fatalf("ProgressPercentage = %d, want 100", got.ProgressPercentage())
	}
	for _, s := range e.Sections() {
		switch s.Name {
		case string(StatusPending):
			if len(s.TaskIDs) != 0 {
				t.Fatalf("pending section still lists %v", s.TaskIDs)
			}
		case string(StatusCompleted):
			if len(s.TaskIDs) != 1 || s.TaskIDs[0] != task.ID {
				t.Fatalf("completed section = %v, want [%s]", s.TaskIDs, task.ID)
			}
		}
	}

	pending := StatusPending
	got, err = e.Update(context.Background(), task.ID, Patch{Status: &pending})
	if err != nil {
		t.Fatalf("Update back: %v", err)
	}
	if got.CompletedAt != nil {
		t.Fatal("CompletedAt not cleared after leaving completed")
	}
}

func TestCascade_UnblocksDependents(t *testing.T) {
	e := newTestEngine(t)
	dep := mustCreate(t, e, CreateRequest{Title: "build api"})
	blocked := mustCreate(t, e, CreateRequest{
		Title:        "build ui",
		Status:       StatusBlocked,
		Dependencies: []string{dep.ID},
	})
	if got, _ := e.Get(blocked.ID); len(got.BlockedBy) != 1 {
		t.Fatalf("BlockedBy = %v, want [%s]", got.BlockedBy, dep.ID)
	}

	done := StatusCompleted
	if _, err := e.Update(context.Background(), dep.ID, Patch{Status: &done}); err != nil {
		t.Fatalf("complete dep: %v", err)
	}
	got, err := e.Get(blocked.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("Status = %q, want %q after dependency completed", got.Status, StatusPending)
	}
	if len(got.BlockedBy) != 0 {
		t.Fatalf("BlockedBy = %v, want empty", got.BlockedBy)
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2 after promotion", got.Version)
	}
}

func TestDelete_Policies(t *testing.T) {
	ctx := context.Background()

	t.Run("block", func(t *testing.T) {
		e := newTestEngine(t)
		dep := mustCreate(t, e, CreateRequest{Title: "dep"})
		mustCreate(t, e, CreateRequest{Title: "user", Dependencies: []string{dep.ID}})

		err := e.Delete(ctx, dep.ID, DeleteBlock)
		var conflict *DependencyConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("error = %v, want DependencyConflictError", err)
		}
		if _, err := e.Get(dep.ID); err != nil {
			t.Fatalf("task removed despite blocked delete: %v", err)
		}
	})

	t.Run("reassign", func(t *testing.T) {
		e := newTestEngine(t)
		dep := mustCreate(t, e, CreateRequest{Title: "dep"})
		user := mustCreate(t, e, CreateRequest{Title: "user", Dependencies: []string{dep.ID}})

		if err := e.Delete(ctx, dep.ID, DeleteReassign); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, err := e.Get(user.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Dependencies) != 0 {
			t.Fatalf("Dependencies = %v, want empty", got.Dependencies)
		}
		if got.Version != 2 {
			t.Fatalf("Version = %d, want 2 after dependency strip", got.Version)
		}
	})

	t.Run("cascade", func(t *testing.T) {
		e := newTestEngine(t)
		a := mustCreate(t, e, CreateRequest{Title: "a"})
		b := mustCreate(t, e, CreateRequest{Title: "b", Dependencies: []string{a.ID}})
		c := mustCreate(t, e, CreateRequest{Title: "c", Dependencies: []string{b.ID}})
		other := mustCreate(t, e, CreateRequest{Title: "other"})

		if err := e.Delete(ctx, a.ID, DeleteCascade); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		for _, id := range []string{a.ID, b.ID, c.ID} {
			if _, err := e.Get(id); !IsNotFound(err) {
				t.Fatalf("Get(%s) err = %v, want not found", id, err)
			}
		}
		if _, err := e.Get(other.ID); err != nil {
			t.Fatalf("unrelated task deleted: %v", err)
		}
	})

	t.Run("archived dependents do not block", func(t *testing.T) {
		e := newTestEngine(t)
		dep := mustCreate(t, e, CreateRequest{Title: "dep"})
		user := mustCreate(t, e, CreateRequest{Title: "user", Dependencies: []string{dep.ID}})
		if _, err := e.Archive(ctx, user.ID); err != nil {
			t.Fatalf("Archive: %v", err)
		}
		if err := e.Delete(ctx, dep.ID, DeleteBlock); err != nil {
			t.Fatalf("Delete after archiving dependent: %v", err)
		}
	})
}

func TestArchive_HidesFromListings(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "old work"})

	got, err := e.Archive(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !got.Archived || got.ArchivedAt == nil {
		t.Fatal("archive flags not set")
	}
	if n := len(e.List(ListFilter{})); n != 0 {
		t.Fatalf("List returned %d tasks, want 0", n)
	}
	if n := len(e.List(ListFilter{IncludeArchived: true})); n != 1 {
		t.Fatalf("List(IncludeArchived) returned %d tasks, want 1", n)
	}
	// Archiving twice is a no-op.
	again, err := e.Archive(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if again.Version != got.Version {
		t.Fatalf("Version = %d, want %d on repeat archive", again.Version, got.Version)
	}
}

func TestList_Filters(t *testing.T) {
	e := newTestEngine(t)
	mustCreate(t, e, CreateRequest{Title: "a", Priority: PriorityHigh, Tags: []string{"infra"}})
	mustCreate(t, e, CreateRequest{Title: "b", Priority: PriorityLow, Tags: []string{"docs"}})
	mustCreate(t, e, CreateRequest{Title: "c", Status: StatusInProgress, Priority: PriorityHigh})

	if n := len(e.List(ListFilter{Priority: PriorityHigh})); n != 2 {
		t.Fatalf("high priority = %d tasks, want 2", n)
	}
	if n := len(e.List(ListFilter{Status: StatusInProgress})); n != 1 {
		t.Fatalf("in_progress = %d tasks, want 1", n)
	}
	if n := len(e.List(ListFilter{Tag: "infra"})); n != 1 {
		t.Fatalf("tag infra = %d tasks, want 1", n)
	}
}

func TestListPage_SortAndWindow(t *testing.T) {
	e := newTestEngine(t)
	soon := time.Now().Add(time.Hour)
	later := time.Now().Add(48 * time.Hour)
	mustCreate(t, e, CreateRequest{Title: "beta", Priority: PriorityLow, DueAt: &later})
	mustCreate(t, e, CreateRequest{Title: "alpha", Priority: PriorityCritical})
	mustCreate(t, e, CreateRequest{Title: "gamma", Priority: PriorityHigh, DueAt: &soon})

	page, err := e.ListPage(ListFilter{Sort: "priority"})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Total != 3 || len(page.Tasks) != 3 {
		t.Fatalf("page = %d/%d tasks, want 3/3", len(page.Tasks), page.Total)
	}
	if page.Tasks[0].Title != "alpha" || page.Tasks[2].Title != "beta" {
		t.Fatalf("priority order = [%s %s %s], want alpha first, beta last",
			page.Tasks[0].Title, page.Tasks[1].Title, page.Tasks[2].Title)
	}

	// Due dates sort ascending, undated tasks last.
	page, err = e.ListPage(ListFilter{Sort: "due"})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Tasks[0].Title != "gamma" || page.Tasks[2].Title != "alpha" {
		t.Fatalf("due order = [%s %s %s], want gamma first, alpha last",
			page.Tasks[0].Title, page.Tasks[1].Title, page.Tasks[2].Title)
	}

	// The window trims results but Total still reports every match.
	page, err = e.ListPage(ListFilter{Sort: "title", Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Total != 3 || len(page.Tasks) != 1 || page.Tasks[0].Title != "beta" {
		t.Fatalf("windowed page = %+v, want beta only with total 3", page)
	}

	// Offset past the end yields an empty window, not an error.
	page, err = e.ListPage(ListFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Total != 3 || len(page.Tasks) != 0 {
		t.Fatalf("past-end page = %d/%d tasks, want 0/3", len(page.Tasks), page.Total)
	}

	var invalid *InvalidFieldValueError
	if _, err := e.ListPage(ListFilter{Sort: "color"}); !errors.As(err, &invalid) {
		t.Fatalf("ListPage(sort=color) = %v, want InvalidFieldValueError", err)
	}
}

func TestListPage_ArchivedAppendedAfterSections(t *testing.T) {
	e := newTestEngine(t)
	keep := mustCreate(t, e, CreateRequest{Title: "live"})
	gone := mustCreate(t, e, CreateRequest{Title: "done with"})
	if _, err := e.Archive(context.Background(), gone.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	page, err := e.ListPage(ListFilter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("Total = %d, want 2", page.Total)
	}
	if page.Tasks[0].ID != keep.ID || page.Tasks[1].ID != gone.ID {
		t.Fatalf("order = [%s %s], want live then archived", page.Tasks[0].Title, page.Tasks[1].Title)
	}
	if !page.Tasks[1].Archived {
		t.Fatal("archived record lost its flag in listing")
	}
}

func TestAddComment(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "review"})

	got, err := e.AddComment(context.Background(), task.ID, "alex", "looks good")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("len(Comments) = %d, want 1", len(got.Comments))
	}
	if got.Comments[0].Author != "alex" || got.Comments[0].Text != "looks good" {
		t.Fatalf("comment = %+v", got.Comments[0])
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2", got.Version)
	}
	if _, err := e.AddComment(context.Background(), task.ID, "alex", "  "); err == nil {
		t.Fatal("expected error for blank comment")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	e := newTestEngine(t)
	task := mustCreate(t, e, CreateRequest{Title: "original", Tags: []string{"keep"}})

	got, _ := e.Get(task.ID)
	got.Title = "mutated"
	got.Tags[0] = "changed"

	fresh, _ := e.Get(task.ID)
	if fresh.Title != "original" || fresh.Tags[0] != "keep" {
		t.Fatalf("internal state leaked through Get: %+v", fresh)
	}
}

func TestDueDates(t *testing.T) {
	e := newTestEngine(t)
	due := time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC)
	task := mustCreate(t, e, CreateRequest{Title: "deadline", DueAt: &due})

	got, _ := e.Get(task.ID)
	if got.DueAt == nil || !got.DueAt.Equal(due) {
		t.Fatalf("DueAt = %v, want %v", got.DueAt, due)
	}
	got, err := e.Update(context.Background(), task.ID, Patch{ClearDueAt: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.DueAt != nil {
		t.Fatalf("DueAt = %v, want nil after clear", got.DueAt)
	}
}
