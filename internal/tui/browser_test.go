package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeActions struct {
	completed []string
	archived  []string
	undos     int
	err       error
}

func (f *fakeActions) Complete(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return f.err
}

func (f *fakeActions) Archive(_ context.Context, id string) error {
	f.archived = append(f.archived, id)
	return f.err
}

func (f *fakeActions) Undo(context.Context) error {
	f.undos++
	return f.err
}

func testSnapshot() Snapshot {
	return Snapshot{
		Sections: []Section{
			{Name: "In Progress", Rows: []Row{
				{ID: "t1", Title: "wire gateway", Status: "in_progress", Priority: "high", Version: 3},
			}},
			{Name: "Pending", Rows: []Row{
				{ID: "t2", Title: "write docs", Status: "pending", Priority: "low", Version: 1},
				{ID: "t3", Title: "ship release", Status: "blocked", Priority: "critical", Version: 2, Blocked: []string{"t1"}},
			}},
		},
		Total:     3,
		Completed: 0,
		Score:     0,
	}
}

func TestView_ShowsSectionsAndBlockedMarkers(t *testing.T) {
	m := browserModel{snap: testSnapshot()}
	view := m.View()

	for _, want := range []string{
		"In Progress",
		"Pending",
		"wire gateway",
		"blocked by t1",
		"0/3 done",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestUpdate_CursorNavigationAndComplete(t *testing.T) {
	actions := &fakeActions{}
	m := browserModel{
		provider: testSnapshot,
		actions:  actions,
		ctx:      context.Background(),
		snap:     testSnapshot(),
	}

	down := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
	updated, _ := m.Update(down)
	m = updated.(browserModel)
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}

	enter := tea.KeyMsg{Type: tea.KeyEnter}
	updated, _ = m.Update(enter)
	m = updated.(browserModel)
	if len(actions.completed) != 1 || actions.completed[0] != "t2" {
		t.Fatalf("completed = %v, want [t2]", actions.completed)
	}
}

func TestUpdate_ActionErrorShownInView(t *testing.T) {
	actions := &fakeActions{err: errors.New("dependents exist")}
	m := browserModel{
		provider: testSnapshot,
		actions:  actions,
		ctx:      context.Background(),
		snap:     testSnapshot(),
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	m = updated.(browserModel)
	if !strings.Contains(m.View(), "dependents exist") {
		t.Fatalf("view missing action error:\n%s", m.View())
	}
}

func TestUpdate_UndoKey(t *testing.T) {
	actions := &fakeActions{}
	m := browserModel{
		provider: testSnapshot,
		actions:  actions,
		ctx:      context.Background(),
		snap:     testSnapshot(),
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	m = updated.(browserModel)
	if actions.undos != 1 {
		t.Fatalf("undos = %d, want 1", actions.undos)
	}
}

func TestTUI_HeadlessNonTTY(t *testing.T) {
	provider := testSnapshot
	actions := &fakeActions{}
	m := browserModel{provider: provider, actions: actions, ctx: context.Background(), snap: provider()}

	if cmd := m.Init(); cmd == nil {
		t.Fatal("expected Init to return a cmd")
	}

	updated, quitCmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if updated == nil {
		t.Fatal("expected non-nil model after Update")
	}
	if quitCmd == nil {
		t.Fatal("expected quit command on 'q' key")
	}

	updated2, tick := m.Update(tickMsg(time.Now()))
	if tick == nil {
		t.Fatal("expected tick cmd after tick message")
	}
	if updated2.(browserModel).snap.Total != 3 {
		t.Fatal("expected snapshot refresh from provider")
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(cancelCtx, provider, actions)
	if err != nil && err != context.Canceled {
		t.Fatalf("expected clean exit or context.Canceled, got: %v", err)
	}
}
