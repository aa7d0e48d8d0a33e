package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidateDependencies(t *testing.T) {
	graph := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
		"d": {"c"},
	}
	depsOf := func(id string) []string { return graph[id] }

	t.Run("acyclic chain", func(t *testing.T) {
		if err := ValidateDependencies("x", []string{"a"}, depsOf); err != nil {
			t.Fatalf("ValidateDependencies: %v", err)
		}
	})

	t.Run("self reference", func(t *testing.T) {
		err := ValidateDependencies("a", []string{"a"}, depsOf)
		var cyc *CircularDependencyError
		if !errors.As(err, &cyc) {
			t.Fatalf("error = %v, want CircularDependencyError", err)
		}
	})

	t.Run("closing edge", func(t *testing.T) {
		// c -> a would close c <- b <- a.
		err := ValidateDependencies("c", []string{"a"}, depsOf)
		var cyc *CircularDependencyError
		if !errors.As(err, &cyc) {
			t.Fatalf("error = %v, want CircularDependencyError", err)
		}
		path := strings.Join(cyc.Path, " ")
		for _, id := range []string{"a", "b", "c"} {
			if !strings.Contains(path, id) {
				t.Fatalf("cycle path %v missing %s", cyc.Path, id)
			}
		}
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		// x depends on both a and d, which share c.
		if err := ValidateDependencies("x", []string{"a", "d"}, depsOf); err != nil {
			t.Fatalf("ValidateDependencies: %v", err)
		}
	})
}

func TestUpdate_RejectsCycle(t *testing.T) {
	e := newTestEngine(t)
	a := mustCreate(t, e, CreateRequest{Title: "a"})
	b := mustCreate(t, e, CreateRequest{Title: "b", Dependencies: []string{a.ID}})

	deps := []string{b.ID}
	_, err := e.Update(context.Background(), a.ID, Patch{Dependencies: &deps})
	var cyc *CircularDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("error = %v, want CircularDependencyError", err)
	}
	got, _ := e.Get(a.ID)
	if len(got.Dependencies) != 0 || got.Version != 1 {
		t.Fatalf("task mutated despite rejected cycle: deps=%v version=%d", got.Dependencies, got.Version)
	}
}

func TestBlockedBy_TracksIncompleteDepsOnly(t *testing.T) {
	e := newTestEngine(t)
	done := mustCreate(t, e, CreateRequest{Title: "done", Status: StatusCompleted})
	open := mustCreate(t, e, CreateRequest{Title: "open"})
	task := mustCreate(t, e, CreateRequest{Title: "t", Dependencies: []string{done.ID, open.ID}})

	got, _ := e.Get(task.ID)
	if len(got.BlockedBy) != 1 || got.BlockedBy[0] != open.ID {
		t.Fatalf("BlockedBy = %v, want [%s]", got.BlockedBy, open.ID)
	}
}
