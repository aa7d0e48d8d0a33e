package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/taskhold/internal/config"
	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/store"
	"github.com/basket/taskhold/internal/tui"
)

func runBrowseCommand(ctx context.Context) int {
	return withService(ctx, func(svc *service.Service) int {
		provider := func() tui.Snapshot {
			return snapshotFromService(svc)
		}
		if err := tui.Run(ctx, provider, &serviceActions{svc: svc}); err != nil && err != context.Canceled {
			fmt.Fprintf(os.Stderr, "browse: %v\n", err)
			return 1
		}
		return 0
	})
}

// runMonitorCommand blocks watching TASKS.md for hand edits, persisting
// every mutation immediately so the text view never goes stale.
func runMonitorCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold monitor")
		return 2
	}
	svc, err := openService(ctx, false, service.Options{Monitoring: true})
	if err != nil {
		return 1
	}
	defer closeService(context.Background(), svc)

	watcher := config.NewWatcher(svc.Cfg.HomeDir, svc.Logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: config watch: %v\n", err)
		return 1
	}
	go func() {
		for range watcher.Events() {
			fmt.Println("config.yaml changed; restart monitor to apply")
		}
	}()

	fmt.Printf("watching %s (ctrl+c to stop)\n", svc.Cfg.MarkdownPath)
	<-ctx.Done()
	return 0
}

func snapshotFromService(svc *service.Service) tui.Snapshot {
	var snap tui.Snapshot
	sections := svc.Engine.Sections()
	tasks := svc.Engine.List(store.ListFilter{})
	byID := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, sec := range sections {
		out := tui.Section{Name: sec.Name}
		for _, id := range sec.TaskIDs {
			t, ok := byID[id]
			if !ok {
				continue
			}
			out.Rows = append(out.Rows, tui.Row{
				ID:       t.ID,
				Title:    t.Title,
				Status:   string(t.Status),
				Priority: string(t.Priority),
				Blocked:  t.BlockedBy,
				Version:  t.Version,
			})
		}
		snap.Sections = append(snap.Sections, out)
	}
	report := svc.Scorer.Recompute()
	snap.Total = report.Total
	snap.Completed = report.Completed
	snap.Score = report.WeightedScore
	return snap
}

type serviceActions struct {
	svc *service.Service
}

func (a *serviceActions) Complete(ctx context.Context, id string) error {
	completed := store.StatusCompleted
	_, err := a.svc.UpdateTask(ctx, id, store.Patch{Status: &completed})
	return err
}

func (a *serviceActions) Archive(ctx context.Context, id string) error {
	_, err := a.svc.ArchiveTask(ctx, id)
	return err
}

func (a *serviceActions) Undo(ctx context.Context) error {
	_, err := a.svc.Undo(ctx)
	return err
}
