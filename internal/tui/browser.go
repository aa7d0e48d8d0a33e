// Package tui is the interactive task browser. It keeps no store state of
// its own: a SnapshotProvider hands it the section layout on every tick
// and an Actions sink carries key-driven mutations back out.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Row is one rendered task line.
type Row struct {
	ID       string
	Title    string
	Status   string
	Priority string
	Blocked  []string
	Version  int64
}

// Section groups rows under a heading in store order.
type Section struct {
	Name string
	Rows []Row
}

// Snapshot is the browser's view of the store at one instant.
type Snapshot struct {
	Sections  []Section
	Total     int
	Completed int
	Score     float64
	LastError string
}

// SnapshotProvider refreshes the snapshot each tick.
type SnapshotProvider func() Snapshot

// Actions receives mutations triggered from the keyboard.
type Actions interface {
	Complete(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	Undo(ctx context.Context) error
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type browserModel struct {
	provider SnapshotProvider
	actions  Actions
	ctx      context.Context

	snap    Snapshot
	cursor  int
	lastErr string
}

// flatRows returns the row list in display order.
func (m browserModel) flatRows() []Row {
	var rows []Row
	for _, sec := range m.snap.Sections {
		rows = append(rows, sec.Rows...)
	}
	return rows
}

func (m browserModel) Init() tea.Cmd {
	return tickCmd()
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		rows := m.flatRows()
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(rows)-1 {
				m.cursor++
			}
		case "enter", "c":
			if m.cursor < len(rows) {
				m.lastErr = errText(m.actions.Complete(m.ctx, rows[m.cursor].ID))
				m.snap = m.provider()
			}
		case "a":
			if m.cursor < len(rows) {
				m.lastErr = errText(m.actions.Archive(m.ctx, rows[m.cursor].ID))
				m.snap = m.provider()
			}
		case "u":
			m.lastErr = errText(m.actions.Undo(m.ctx))
			m.snap = m.provider()
		}
		if n := len(m.flatRows()); m.cursor >= n && n > 0 {
			m.cursor = n - 1
		}
		return m, nil
	case tickMsg:
		m.snap = m.provider()
		if n := len(m.flatRows()); m.cursor >= n && n > 0 {
			m.cursor = n - 1
		}
		return m, tickCmd()
	}
	return m, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	rowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m browserModel) View() string {
	var out strings.Builder
	out.WriteString(headingStyle.Render("Taskhold") + "  " +
		dimStyle.Render(fmt.Sprintf("%d/%d done, score %.0f%%",
			m.snap.Completed, m.snap.Total, m.snap.Score*100)) + "\n\n")

	idx := 0
	for _, sec := range m.snap.Sections {
		out.WriteString(headingStyle.Render("## "+sec.Name) + "\n")
		if len(sec.Rows) == 0 {
			out.WriteString(dimStyle.Render("  (empty)") + "\n")
		}
		for _, row := range sec.Rows {
			cursor := "  "
			if idx == m.cursor {
				cursor = "> "
			}
			mark := " "
			if row.Status == "completed" {
				mark = "x"
			}
			line := fmt.Sprintf("%s[%s] %-40s %-9s v%d", cursor, mark, row.Title, row.Priority, row.Version)
			if len(row.Blocked) > 0 {
				line += dimStyle.Render(fmt.Sprintf("  blocked by %s", strings.Join(row.Blocked, ", ")))
			}
			out.WriteString(rowStyle.Render(line) + "\n")
			idx++
		}
		out.WriteString("\n")
	}

	if m.lastErr != "" {
		out.WriteString(errStyle.Render("error: "+m.lastErr) + "\n")
	} else if m.snap.LastError != "" {
		out.WriteString(errStyle.Render("error: "+m.snap.LastError) + "\n")
	}
	out.WriteString(dimStyle.Render("[Up/Down] Navigate  [Enter] Complete  [a] Archive  [u] Undo  [q] Quit") + "\n")
	return out.String()
}

// Run starts the browser and blocks until quit or ctx cancellation.
func Run(ctx context.Context, provider SnapshotProvider, actions Actions) error {
	defer restoreTerminal()

	m := browserModel{provider: provider, actions: actions, ctx: ctx, snap: provider()}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}
