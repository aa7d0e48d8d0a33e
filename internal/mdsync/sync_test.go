package mdsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/taskhold/internal/store"
)

func newEngine(t *testing.T) *store.Engine {
	t.Helper()
	e, err := store.Open(store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func create(t *testing.T, e *store.Engine, req store.CreateRequest) *store.Task {
	t.Helper()
	task, err := e.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestCodec_RoundTrip(t *testing.T) {
	root := store.NewRoot()
	root.Tasks["a1"] = &store.Task{
		ID: "a1", Title: "Fix login", Status: store.StatusPending,
		Priority: store.PriorityHigh, Description: "expires early\nsecond line",
	}
	root.Tasks["b2"] = &store.Task{
		ID: "b2", Title: "Ship release", Status: store.StatusCompleted,
		Priority: store.PriorityMedium,
	}
	root.Section("pending").TaskIDs = []string{"a1"}
	root.Section("completed").TaskIDs = []string{"b2"}

	codec := MarkdownCodec()
	data, err := codec.Render(root)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(data), "- [ ] Fix login <!-- id:a1 priority:high -->") {
		t.Fatalf("render missing task line:\n%s", data)
	}
	if !strings.Contains(string(data), "- [x] Ship release") {
		t.Fatalf("completed task not checked:\n%s", data)
	}

	parsed, err := codec.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, ok := parsed.Tasks["a1"]
	if !ok {
		t.Fatalf("parsed tasks = %v, missing a1", parsed.Tasks)
	}
	if got.Title != "Fix login" || got.Status != store.StatusPending || got.Priority != store.PriorityHigh {
		t.Fatalf("parsed a1 = %+v", got)
	}
	if got.Description != "expires early\nsecond line" {
		t.Fatalf("Description = %q", got.Description)
	}
	if b2 := parsed.Tasks["b2"]; b2 == nil || b2.Status != store.StatusCompleted {
		t.Fatalf("parsed b2 = %+v", b2)
	}
}

func TestCodec_ParseHandAddedTask(t *testing.T) {
	doc := "# TASKS\n\n## pending\n\n- [ ] Added by hand\n"
	parsed, err := MarkdownCodec().Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Tasks) != 1 {
		t.Fatalf("parsed %d tasks, want 1", len(parsed.Tasks))
	}
	for key, task := range parsed.Tasks {
		if !strings.HasPrefix(key, "@") {
			t.Fatalf("hand-added task key = %q, want positional @ key", key)
		}
		if task.Title != "Added by hand" {
			t.Fatalf("Title = %q", task.Title)
		}
	}
}

func TestRender_WritesFile(t *testing.T) {
	e := newEngine(t)
	create(t, e, store.CreateRequest{Title: "render me"})
	path := filepath.Join(t.TempDir(), "TASKS.md")
	s := New(e, path, Codec{}, nil, nil)

	if err := s.Render(context.Background()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "render me") {
		t.Fatalf("rendered file missing task:\n%s", data)
	}
}

func TestDetectConflicts(t *testing.T) {
	e := newEngine(t)
	task := create(t, e, store.CreateRequest{Title: "original title"})
	path := filepath.Join(t.TempDir(), "TASKS.md")
	s := New(e, path, Codec{}, nil, nil)
	ctx := context.Background()

	if err := s.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Clean view: no conflicts.
	got, err := s.DetectConflicts(ctx)
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("conflicts = %v, want none", got)
	}

	// Hand-edit the title in the text view.
	data, _ := os.ReadFile(path)
	edited := strings.Replace(string(data), "original title", "edited title", 1)
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err = s.DetectConflicts(ctx)
	if err != nil {
		t.Fatalf("DetectConflicts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("conflicts = %v, want 1", got)
	}
	c := got[0]
	if c.TaskID != task.ID || c.Field != "title" || c.Store != "original title" || c.Text != "edited title" {
		t.Fatalf("conflict = %+v", c)
	}
}

func TestDetectConflicts_MissingFile(t *testing.T) {
	e := newEngine(t)
	s := New(e, filepath.Join(t.TempDir(), "TASKS.md"), Codec{}, nil, nil)
	got, err := s.DetectConflicts(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v; want no conflicts, nil error", got, err)
	}
}

func TestResolve_PreferStore(t *testing.T) {
	e := newEngine(t)
	create(t, e, store.CreateRequest{Title: "truth"})
	path := filepath.Join(t.TempDir(), "TASKS.md")
	s := New(e, path, Codec{}, nil, nil)
	ctx := context.Background()

	if err := s.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	data, _ := os.ReadFile(path)
	os.WriteFile(path, []byte(strings.Replace(string(data), "truth", "lies", 1)), 0o644)

	conflicts, err := s.Resolve(ctx, PreferStore)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %v, want 1", conflicts)
	}
	data, _ = os.ReadFile(path)
	if !strings.Contains(string(data), "truth") || strings.Contains(string(data), "lies") {
		t.Fatalf("text view not restored from store:\n%s", data)
	}
}

func TestResolve_PreferText(t *testing.T) {
	e := newEngine(t)
	task := create(t, e, store.CreateRequest{Title: "stale"})
	path := filepath.Join(t.TempDir(), "TASKS.md")
	s := New(e, path, Codec{}, nil, nil)
	ctx := context.Background()

	if err := s.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	data, _ := os.ReadFile(path)
	os.WriteFile(path, []byte(strings.Replace(string(data), "stale", "fresh", 1)), 0o644)

	if _, err := s.Resolve(ctx, PreferText); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err := e.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "fresh" {
		t.Fatalf("Title = %q, want %q", got.Title, "fresh")
	}
	if got.Version != 2 {
		t.Fatalf("Version = %d, want 2 (text edit recorded in change log)", got.Version)
	}
	last := got.ChangeLog[len(got.ChangeLog)-1]
	if last.Actor != "sync" {
		t.Fatalf("Actor = %q, want %q", last.Actor, "sync")
	}
}

func TestResolve_MergeKeepsStorePreferredFields(t *testing.T) {
	e := newEngine(t)
	task := create(t, e, store.CreateRequest{Title: "title"})
	path := filepath.Join(t.TempDir(), "TASKS.md")
	s := New(e, path, Codec{}, nil, nil)
	ctx := context.Background()

	if err := s.Render(ctx); err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Edit both title and checkbox; merge prefers the store for status.
	data, _ := os.ReadFile(path)
	edited := strings.Replace(string(data), "- [ ] title", "- [x] retitled", 1)
	os.WriteFile(path, []byte(edited), 0o644)

	if _, err := s.Resolve(ctx, Merge); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _ := e.Get(task.ID)
	if got.Title != "retitled" {
		t.Fatalf("Title = %q, want text value applied", got.Title)
	}
	if got.Status != store.StatusPending {
		t.Fatalf("Status = %q, want store value kept", got.Status)
	}
}

func TestResolve_UnknownStrategy(t *testing.T) {
	e := newEngine(t)
	s := New(e, filepath.Join(t.TempDir(), "TASKS.md"), Codec{}, nil, nil)
	if _, err := s.Resolve(context.Background(), Strategy("coin-flip")); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
