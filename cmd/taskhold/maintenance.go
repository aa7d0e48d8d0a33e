package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/taskhold/internal/mdsync"
	"github.com/basket/taskhold/internal/service"
)

func runSyncCommand(ctx context.Context, args []string) int {
	action := "resolve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		action = strings.ToLower(strings.TrimSpace(args[0]))
		args = args[1:]
	}
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	strategy := fs.String("strategy", "", "prefer-store|prefer-text|merge (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *strategy != "" && !mdsync.ValidStrategy(mdsync.Strategy(*strategy)) {
		fmt.Fprintf(os.Stderr, "sync: unknown strategy %q\n", *strategy)
		return 2
	}

	switch action {
	case "detect":
		return withService(ctx, func(svc *service.Service) int {
			conflicts, err := svc.DetectConflicts(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sync detect: %v\n", err)
				return 1
			}
			if len(conflicts) == 0 {
				fmt.Println("no conflicts")
				return 0
			}
			printConflicts(conflicts)
			return 1
		})
	case "resolve":
		return withService(ctx, func(svc *service.Service) int {
			conflicts, err := svc.ResolveConflicts(ctx, mdsync.Strategy(*strategy))
			if err != nil {
				fmt.Fprintf(os.Stderr, "sync resolve: %v\n", err)
				return 1
			}
			if len(conflicts) == 0 {
				fmt.Println("view rendered, no conflicts")
			} else {
				fmt.Printf("resolved %d conflict(s)\n", len(conflicts))
				printConflicts(conflicts)
			}
			return 0
		})
	default:
		fmt.Fprintln(os.Stderr, "usage: taskhold sync [detect|resolve] [-strategy ...]")
		return 2
	}
}

func printConflicts(conflicts []mdsync.Conflict) {
	for _, c := range conflicts {
		fmt.Printf("%s  %-11s  store=%q  text=%q\n", c.TaskID, c.Field, c.Store, c.Text)
	}
}

func runFlushCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold flush")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		if err := svc.Flush(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "flush: %v\n", err)
			return 1
		}
		fmt.Println("flushed")
		return 0
	})
}

func runCheckCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	full := fs.Bool("full", false, "include dependency graph and derived-state checks")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		findings, err := svc.CheckConsistency(ctx, *full)
		if err != nil {
			fmt.Fprintf(os.Stderr, "check: %v\n", err)
			return 1
		}
		if len(findings) == 0 {
			fmt.Println("store is consistent")
			return 0
		}
		for _, f := range findings {
			fmt.Printf("%-28s  %-36s  %s\n", f.Code, f.TaskID, f.Detail)
		}
		return 1
	})
}

func runRepairCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: taskhold repair")
		return 2
	}
	return withService(ctx, func(svc *service.Service) int {
		findings, err := svc.Repair(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "repair: %v\n", err)
			return 1
		}
		fmt.Printf("repaired, %d issue(s) found\n", len(findings))
		return 0
	})
}
