package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/basket/taskhold/internal/search"
	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/store"
)

func runSearchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	mode := fs.String("mode", "exact", "exact|boolean|regex|fuzzy")
	status := fs.String("status", "", "filter by status")
	priority := fs.String("priority", "", "filter by priority")
	tag := fs.String("tag", "", "filter by tag")
	limit := fs.Int("limit", 0, "cap result count (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: taskhold search <text> [options]")
		return 2
	}

	query := search.Query{
		Text:     fs.Arg(0),
		Mode:     search.Mode(*mode),
		Status:   store.Status(*status),
		Priority: store.Priority(*priority),
		Limit:    *limit,
	}
	if *tag != "" {
		query.Tags = []string{*tag}
	}
	switch query.Mode {
	case search.ModeExact, search.ModeBoolean, search.ModeRegex, search.ModeFuzzy:
	default:
		fmt.Fprintf(os.Stderr, "search: unknown mode %q\n", *mode)
		return 2
	}

	return withService(ctx, func(svc *service.Service) int {
		results, err := svc.SearchTasks(ctx, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "search: %v\n", err)
			return 1
		}
		for _, res := range results {
			fmt.Printf("%.2f  ", res.Score)
			printTaskLine(res.Task)
		}
		return 0
	})
}
