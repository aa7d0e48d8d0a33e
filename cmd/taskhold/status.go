package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/store"
)

type statusReport struct {
	Home          string  `json:"home"`
	StorePath     string  `json:"store_path"`
	MarkdownPath  string  `json:"markdown_path"`
	ConfigHash    string  `json:"config_hash"`
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	InProgress    int     `json:"in_progress"`
	Blocked       int     `json:"blocked"`
	Archived      int     `json:"archived"`
	Critical      int     `json:"critical_remaining"`
	WeightedScore float64 `json:"weighted_score"`
	UndoDepth     int     `json:"undo_depth"`
	Findings      int     `json:"consistency_findings"`
}

func runStatusCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	return withService(ctx, func(svc *service.Service) int {
		tasks, err := svc.ListTasks(ctx, store.ListFilter{IncludeArchived: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			return 1
		}
		findings, err := svc.CheckConsistency(ctx, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			return 1
		}
		score := svc.Scorer.Recompute()

		rep := statusReport{
			Home:          svc.Cfg.HomeDir,
			StorePath:     svc.Cfg.StorePath,
			MarkdownPath:  svc.Cfg.MarkdownPath,
			ConfigHash:    svc.Cfg.Fingerprint(),
			Critical:      score.CriticalRemaining,
			WeightedScore: score.WeightedScore,
			UndoDepth:     len(svc.UndoHistory()),
			Findings:      len(findings),
		}
		for _, t := range tasks {
			if t.Archived {
				rep.Archived++
				continue
			}
			rep.Total++
			switch t.Status {
			case store.StatusCompleted:
				rep.Completed++
			case store.StatusInProgress:
				rep.InProgress++
			case store.StatusBlocked:
				rep.Blocked++
			}
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				fmt.Fprintf(os.Stderr, "status: %v\n", err)
				return 1
			}
			return 0
		}

		fmt.Print(renderStatus(rep, isatty.IsTerminal(os.Stdout.Fd())))
		if rep.Findings > 0 {
			return 1
		}
		return 0
	})
}

func renderStatus(rep statusReport, color bool) string {
	title := "Taskhold Status"
	health := fmt.Sprintf("consistency findings: %d", rep.Findings)
	if color {
		titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
		title = titleStyle.Render(title)
		healthStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		if rep.Findings > 0 {
			healthStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		}
		health = healthStyle.Render(health)
	}
	return fmt.Sprintf(`%s

Home:          %s
Store:         %s
Text view:     %s
Config:        %s

Tasks:         %d (%d completed, %d in progress, %d blocked, %d archived)
Critical left: %d
Score:         %.0f%%
Undo depth:    %d
%s
`,
		title, rep.Home, rep.StorePath, rep.MarkdownPath, rep.ConfigHash,
		rep.Total, rep.Completed, rep.InProgress, rep.Blocked, rep.Archived,
		rep.Critical, rep.WeightedScore*100, rep.UndoDepth, health)
}
