package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/store"
)

func runAddCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	desc := fs.String("desc", "", "task description")
	priority := fs.String("priority", "medium", "low|medium|high|critical")
	status := fs.String("status", "", "initial status (default pending)")
	deps := fs.String("deps", "", "comma-separated dependency ids")
	tags := fs.String("tags", "", "comma-separated tags")
	due := fs.String("due", "", "due date (2006-01-02 or RFC3339)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskhold add <title> [options]")
		return 2
	}

	req := store.CreateRequest{
		Title:        fs.Arg(0),
		Description:  *desc,
		Priority:     store.Priority(*priority),
		Status:       store.Status(*status),
		Dependencies: splitCSV(*deps),
		Tags:         splitCSV(*tags),
	}
	if *due != "" {
		t, err := parseDue(*due)
		if err != nil {
			fmt.Fprintf(os.Stderr, "due: %v\n", err)
			return 2
		}
		req.DueAt = &t
	}

	return withService(ctx, func(svc *service.Service) int {
		task, err := svc.CreateTask(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add: %v\n", err)
			return 1
		}
		printTaskLine(task)
		return 0
	})
}

func runGetCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskhold get <id>")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		task, err := svc.GetTask(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "get: %v\n", err)
			return 1
		}
		printTaskDetail(task)
		return 0
	})
}

func runListCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	priority := fs.String("priority", "", "filter by priority")
	tag := fs.String("tag", "", "filter by tag")
	all := fs.Bool("all", false, "include archived tasks")
	sortKey := fs.String("sort", "", "sort by priority, due, updated, created or title")
	offset := fs.Int("offset", 0, "skip the first N matches")
	limit := fs.Int("limit", 0, "show at most N tasks (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	filter := store.ListFilter{
		Status:          store.Status(*status),
		Priority:        store.Priority(*priority),
		Tag:             *tag,
		IncludeArchived: *all,
		Sort:            *sortKey,
		Offset:          *offset,
		Limit:           *limit,
	}
	return withService(ctx, func(svc *service.Service) int {
		page, err := svc.ListTasksPage(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list: %v\n", err)
			return 1
		}
		for _, task := range page.Tasks {
			printTaskLine(task)
		}
		if len(page.Tasks) < page.Total {
			fmt.Printf("(%d of %d tasks)\n", len(page.Tasks), page.Total)
		}
		return 0
	})
}

func runUpdateCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	desc := fs.String("desc", "", "new description")
	priority := fs.String("priority", "", "new priority")
	status := fs.String("status", "", "new status")
	deps := fs.String("deps", "", "replace dependency ids (comma-separated, empty string clears)")
	tags := fs.String("tags", "", "replace tags (comma-separated)")
	due := fs.String("due", "", "new due date")
	clearDue := fs.Bool("clear-due", false, "remove the due date")
	reason := fs.String("reason", "", "change log reason")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskhold update <id> [options]")
		return 2
	}

	patch := store.Patch{Reason: *reason, ClearDueAt: *clearDue}
	seen := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			patch.Title = title
			seen = true
		case "desc":
			patch.Description = desc
			seen = true
		case "priority":
			p := store.Priority(*priority)
			patch.Priority = &p
			seen = true
		case "status":
			s := store.Status(*status)
			patch.Status = &s
			seen = true
		case "deps":
			d := splitCSV(*deps)
			patch.Dependencies = &d
			seen = true
		case "tags":
			tg := splitCSV(*tags)
			patch.Tags = &tg
			seen = true
		case "clear-due":
			seen = true
		}
	})
	if *due != "" {
		t, err := parseDue(*due)
		if err != nil {
			fmt.Fprintf(os.Stderr, "due: %v\n", err)
			return 2
		}
		patch.DueAt = &t
		seen = true
	}
	if !seen {
		fmt.Fprintln(os.Stderr, "update: no fields given")
		return 2
	}

	return withService(ctx, func(svc *service.Service) int {
		task, err := svc.UpdateTask(ctx, fs.Arg(0), patch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "update: %v\n", err)
			return 1
		}
		printTaskLine(task)
		return 0
	})
}

func runDoneCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold done <id>...")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		completed := store.StatusCompleted
		if len(args) == 1 {
			task, err := svc.UpdateTask(ctx, args[0], store.Patch{Status: &completed})
			if err != nil {
				fmt.Fprintf(os.Stderr, "done: %v\n", err)
				return 1
			}
			printTaskLine(task)
			return 0
		}
		patches := make([]store.BulkPatch, 0, len(args))
		for _, id := range args {
			patches = append(patches, store.BulkPatch{ID: id, Patch: store.Patch{Status: &completed}})
		}
		tasks, err := svc.BulkUpdateTasks(ctx, patches)
		if err != nil {
			fmt.Fprintf(os.Stderr, "done: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			printTaskLine(task)
		}
		return 0
	})
}

func runRemoveCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	policy := fs.String("policy", "block", "block|reassign|cascade")
	force := fs.Bool("force", false, "delete even when outside tasks depend on the batch")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold rm <id>... [options]")
		return 2
	}
	p := store.DeletePolicy(*policy)
	switch p {
	case store.DeleteBlock, store.DeleteReassign, store.DeleteCascade:
	default:
		fmt.Fprintf(os.Stderr, "rm: unknown policy %q\n", *policy)
		return 2
	}

	return withService(ctx, func(svc *service.Service) int {
		ids := fs.Args()
		var err error
		if len(ids) == 1 && !*force {
			err = svc.DeleteTask(ctx, ids[0], p)
		} else {
			err = svc.BulkDeleteTasks(ctx, ids, p, *force)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "rm: %v\n", err)
			return 1
		}
		fmt.Printf("deleted %d task(s)\n", len(ids))
		return 0
	})
}

func runArchiveCommand(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: taskhold archive <id>")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		task, err := svc.ArchiveTask(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "archive: %v\n", err)
			return 1
		}
		printTaskLine(task)
		return 0
	})
}

func runCommentCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("comment", flag.ContinueOnError)
	author := fs.String("author", "", "comment author (default current actor)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: taskhold comment <id> <text> [options]")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		task, err := svc.AddComment(ctx, fs.Arg(0), *author, fs.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "comment: %v\n", err)
			return 1
		}
		fmt.Printf("%s  comments=%d  v%d\n", task.ID, len(task.Comments), task.Version)
		return 0
	})
}

func runUndoCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold undo")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		entry, err := svc.Undo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "undo: %v\n", err)
			return 1
		}
		fmt.Printf("undid %s: %s\n", entry.Op, entry.Description)
		return 0
	})
}

func runHistoryCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold history")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		entries := svc.UndoHistory()
		if len(entries) == 0 {
			fmt.Println("(empty)")
			return 0
		}
		for _, e := range entries {
			fmt.Printf("%s  %-7s  %s  (%d task(s))\n",
				e.Timestamp.Format(time.RFC3339), e.Op, e.Description, len(e.TaskIDs))
		}
		return 0
	})
}

// withService opens the stack, runs fn, and shuts down cleanly.
func withService(ctx context.Context, fn func(svc *service.Service) int) int {
	svc, err := openService(ctx, true, service.Options{})
	if err != nil {
		return 1
	}
	defer closeService(ctx, svc)
	return fn(svc)
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseDue(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q (want 2006-01-02 or RFC3339)", raw)
}

func printTaskLine(t *store.Task) {
	line := fmt.Sprintf("%s  [%-11s]  %-8s  %s", t.ID, t.Status, t.Priority, t.Title)
	if len(t.BlockedBy) > 0 {
		line += fmt.Sprintf("  (blocked by %s)", strings.Join(t.BlockedBy, ", "))
	}
	if t.DueAt != nil {
		line += fmt.Sprintf("  due %s", t.DueAt.Format("2006-01-02"))
	}
	fmt.Println(line)
}

func printTaskDetail(t *store.Task) {
	printTaskLine(t)
	if t.Description != "" {
		fmt.Printf("  %s\n", t.Description)
	}
	if len(t.Tags) > 0 {
		fmt.Printf("  tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if len(t.Dependencies) > 0 {
		fmt.Printf("  deps: %s\n", strings.Join(t.Dependencies, ", "))
	}
	fmt.Printf("  progress: %d%%  version: %d\n", t.ProgressPercentage(), t.Version)
	for _, c := range t.Comments {
		fmt.Printf("  // %s (%s): %s\n", c.Author, c.CreatedAt.Format("2006-01-02 15:04"), c.Text)
	}
	for _, entry := range t.ChangeLog {
		fmt.Printf("  v%d %s %s", entry.Version, entry.Timestamp.Format("2006-01-02 15:04"), entry.Actor)
		if entry.Reason != "" {
			fmt.Printf(" (%s)", entry.Reason)
		}
		fmt.Println()
		for _, ch := range entry.Changes {
			fmt.Printf("      %s: %s -> %s\n", ch.Field, ch.From, ch.To)
		}
	}
}
