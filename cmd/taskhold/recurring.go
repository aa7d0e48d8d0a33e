package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/store"
)

func runRecurringCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold recurring <add|list|rm>")
		return 2
	}
	action := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	switch action {
	case "add":
		fs := flag.NewFlagSet("recurring add", flag.ContinueOnError)
		cron := fs.String("cron", "", "5-field cron expression, e.g. \"0 9 * * 1\"")
		priority := fs.String("priority", "medium", "priority for generated tasks")
		tags := fs.String("tags", "", "comma-separated tags for generated tasks")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		if fs.NArg() != 2 || *cron == "" {
			fmt.Fprintln(os.Stderr, "usage: taskhold recurring add <name> <title> -cron <expr> [options]")
			return 2
		}
		def := store.RecurringDef{
			Name:     fs.Arg(0),
			Title:    fs.Arg(1),
			CronExpr: *cron,
			Priority: store.Priority(*priority),
			Tags:     splitCSV(*tags),
		}
		return withService(ctx, func(svc *service.Service) int {
			stored, err := svc.Scheduler.Register(ctx, def)
			if err != nil {
				fmt.Fprintf(os.Stderr, "recurring add: %v\n", err)
				return 1
			}
			fmt.Printf("%s  %s  next run %s\n", stored.ID, stored.Name, stored.NextRunAt.Format("2006-01-02 15:04"))
			return 0
		})

	case "list":
		return withService(ctx, func(svc *service.Service) int {
			defs := svc.Engine.ListRecurring()
			if len(defs) == 0 {
				fmt.Println("(none)")
				return 0
			}
			for _, def := range defs {
				next := "-"
				if def.NextRunAt != nil {
					next = def.NextRunAt.Format("2006-01-02 15:04")
				}
				fmt.Printf("%s  %-20s  %-15q  next %s\n", def.ID, def.Name, def.CronExpr, next)
			}
			return 0
		})

	case "rm":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: taskhold recurring rm <id>")
			return 2
		}
		return withService(ctx, func(svc *service.Service) int {
			if err := svc.Engine.RemoveRecurring(ctx, rest[0]); err != nil {
				fmt.Fprintf(os.Stderr, "recurring rm: %v\n", err)
				return 1
			}
			fmt.Println("removed")
			return 0
		})

	default:
		fmt.Fprintf(os.Stderr, "recurring: unknown action %q\n", action)
		return 2
	}
}
