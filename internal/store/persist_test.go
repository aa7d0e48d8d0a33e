package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestPersist_ImmediateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	task := mustCreate(t, e, CreateRequest{Title: "persisted", Tags: []string{"io"}})
	done := StatusCompleted
	if _, err := e.Update(context.Background(), task.ID, Patch{Status: &done}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(task.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Title != "persisted" || got.Status != StatusCompleted || got.Version != 2 {
		t.Fatalf("reloaded task = %+v", got)
	}
	if len(got.ChangeLog) != 2 {
		t.Fatalf("len(ChangeLog) = %d, want 2", len(got.ChangeLog))
	}
	if n := len(reopened.UndoHistory()); n != 2 {
		t.Fatalf("UndoHistory = %d entries after reload, want 2", n)
	}
}

func TestPersist_DebounceCoalesces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, FlushDebounce: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	for i := 0; i < 5; i++ {
		mustCreate(t, e, CreateRequest{Title: "burst"})
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("store written before debounce window elapsed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("store never written after debounce window")
		}
		time.Sleep(5 * time.Millisecond)
	}
	var root Root
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("unmarshal store: %v", err)
	}
	if len(root.Tasks) != 5 {
		t.Fatalf("persisted %d tasks, want 5", len(root.Tasks))
	}
}

func TestPersist_ExplicitFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, FlushDebounce: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	mustCreate(t, e, CreateRequest{Title: "flush me"})
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store missing after explicit flush: %v", err)
	}
}

func TestPersist_CloseWritesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, FlushDebounce: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustCreate(t, e, CreateRequest{Title: "pending at close"})
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store missing after close: %v", err)
	}
}

func TestPersist_SetImmediateFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, FlushDebounce: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	mustCreate(t, e, CreateRequest{Title: "stuck in debounce"})

	if err := e.SetImmediatePersist(true); err != nil {
		t.Fatalf("SetImmediatePersist(true): %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("store missing after toggle: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal store: %v", err)
	}

	// Subsequent mutations hit disk without an explicit flush.
	task := mustCreate(t, e, CreateRequest{Title: "written inline"})
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !strings.Contains(string(data), task.ID) {
		t.Fatal("inline write missing new task")
	}

	// Toggle back restores the debounced flusher path.
	if err := e.SetImmediatePersist(false); err != nil {
		t.Fatalf("SetImmediatePersist(false): %v", err)
	}
	mustCreate(t, e, CreateRequest{Title: "debounced again"})
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestPersist_NoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustCreate(t, e, CreateRequest{Title: "clean"})
	e.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, ent := range entries {
		if ent.Name() != "store.json" {
			t.Fatalf("unexpected file left behind: %s", ent.Name())
		}
	}
}

func TestPersist_EmptySectionsSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// One create leaves the other canonical sections empty; they must
	// marshal as [] so the document still validates on reload.
	mustCreate(t, e, CreateRequest{Title: "solo"})
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), `"task_ids": null`) || strings.Contains(string(data), `"history": null`) {
		t.Fatalf("persisted document contains null arrays:\n%s", data)
	}

	reopened, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := os.Stat(path + ".corrupt"); !os.IsNotExist(err) {
		t.Fatal("valid store was quarantined on reload")
	}
	if n := len(reopened.List(ListFilter{})); n != 1 {
		t.Fatalf("List after reload = %d tasks, want 1", n)
	}
}

func TestPersist_ConcurrentCreatesAllReload(t *testing.T) {
	const n = 50
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, FlushDebounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Create(context.Background(), CreateRequest{Title: fmt.Sprintf("task %d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := len(reopened.List(ListFilter{})); got != n {
		t.Fatalf("List after reload = %d tasks, want %d", got, n)
	}
}

func TestLoad_CorruptJSONRebuildsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	if n := len(e.List(ListFilter{})); n != 0 {
		t.Fatalf("List = %d tasks, want 0 from rebuilt store", n)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt file not quarantined: %v", err)
	}
	// The rebuilt store works.
	mustCreate(t, e, CreateRequest{Title: "fresh start"})
}

func TestLoad_SchemaViolationRebuildsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	// Valid JSON, invalid shape: task with unknown status.
	doc := `{"tasks": {"t1": {"id": "t1", "title": "x", "status": "paused", "priority": "medium", "version": 1, "change_log": []}}, "sections": [], "meta": {}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	if n := len(e.List(ListFilter{IncludeArchived: true})); n != 0 {
		t.Fatalf("List = %d tasks, want 0 after schema rejection", n)
	}
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	mustCreate(t, e, CreateRequest{Title: "first"})
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store not created: %v", err)
	}
}

func TestLoad_MissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-such-dir", "store.json")
	_, err := Open(Options{Path: path})
	var notFound *StorePathNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Open = %v, want StorePathNotFoundError", err)
	}
	if notFound.Path != path {
		t.Fatalf("Path = %s, want %s", notFound.Path, path)
	}
}

func TestLoad_VersionMismatchQuarantines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	doc := `{"version": 99, "tasks": {}, "sections": [], "history": [], "meta": {}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	e, err := Open(Options{Path: path, Immediate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	if n := len(e.List(ListFilter{})); n != 0 {
		t.Fatalf("List = %d tasks, want 0 after version rejection", n)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("mismatched file not quarantined: %v", err)
	}
}

func TestHistoryRing(t *testing.T) {
	r := newHistoryRing(3)
	for i := 0; i < 5; i++ {
		r.Push(&HistoryEntry{ID: string(rune('a' + i))})
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	snap := r.Snapshot()
	if snap[0].ID != "c" || snap[2].ID != "e" {
		t.Fatalf("Snapshot order = [%s %s %s], want [c d e]", snap[0].ID, snap[1].ID, snap[2].ID)
	}
	if got := r.Pop(); got.ID != "e" {
		t.Fatalf("Pop = %s, want e", got.ID)
	}
	r.Pop()
	r.Pop()
	if got := r.Pop(); got != nil {
		t.Fatalf("Pop on empty ring = %v, want nil", got)
	}
}
