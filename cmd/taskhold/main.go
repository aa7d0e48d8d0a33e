package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/taskhold/internal/config"
	"github.com/basket/taskhold/internal/service"
	"github.com/basket/taskhold/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

INTERACTIVE MODE (default):
  %s                          Open the task browser TUI

TASKS:
  %s add <title> [options]    Create a task
                              Options: -desc, -priority, -status, -deps, -tags, -due
  %s get <id>                 Show one task with its change log
  %s list [options]           List tasks in section order
                              Options: -status, -priority, -tag, -all
  %s update <id> [options]    Patch a task
                              Options: -title, -desc, -priority, -status, -deps, -tags, -due, -clear-due, -reason
  %s done <id>...             Mark tasks completed
  %s rm <id>... [options]     Delete tasks
                              Options: -policy block|reassign|cascade, -force
  %s archive <id>             Archive a task (keeps history, hides from sections)
  %s comment <id> <text>      Append a comment
                              Options: -author

QUERY:
  %s search <text> [options]  Search tasks
                              Options: -mode exact|boolean|regex|fuzzy, -status, -priority, -tag, -limit
  %s history                  Show the undo ring
  %s undo                     Revert the most recent mutation

MAINTENANCE:
  %s sync [detect|resolve]    Reconcile the TASKS.md view
                              Options: -strategy prefer-store|prefer-text|merge
  %s flush                    Force pending writes to disk
  %s check [-full]            Run a consistency scan
  %s repair                   Rebuild derived state
  %s recurring <action>       Manage recurring definitions
                              Actions: add, list, rm
  %s status                   Show store statistics
  %s doctor [-json]           Run diagnostic checks
  %s monitor                  Watch TASKS.md for hand edits (blocks)

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TASKHOLD_HOME           Data directory (default: ~/.taskhold)
  TASKHOLD_STORE_PATH     Override store.json location
  TASKHOLD_MARKDOWN_PATH  Override TASKS.md location
  TASKHOLD_SYNC_DISABLED  Set to 1 to skip markdown rendering

EXAMPLES:
  Add a task:             %s add "fix login flow" -priority high
  Complete it:            %s done <id>
  Fuzzy search:           %s search lgoin -mode fuzzy
  Undo a mistake:         %s undo
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	interactive := isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("TASKHOLD_NO_TUI") == ""
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		if !interactive {
			printUsage()
			os.Exit(2)
		}
		os.Exit(runBrowseCommand(ctx))
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "add":
		os.Exit(runAddCommand(ctx, rest))
	case "get":
		os.Exit(runGetCommand(ctx, rest))
	case "list":
		os.Exit(runListCommand(ctx, rest))
	case "update":
		os.Exit(runUpdateCommand(ctx, rest))
	case "done":
		os.Exit(runDoneCommand(ctx, rest))
	case "rm":
		os.Exit(runRemoveCommand(ctx, rest))
	case "archive":
		os.Exit(runArchiveCommand(ctx, rest))
	case "comment":
		os.Exit(runCommentCommand(ctx, rest))
	case "search":
		os.Exit(runSearchCommand(ctx, rest))
	case "history":
		os.Exit(runHistoryCommand(ctx, rest))
	case "undo":
		os.Exit(runUndoCommand(ctx, rest))
	case "sync":
		os.Exit(runSyncCommand(ctx, rest))
	case "flush":
		os.Exit(runFlushCommand(ctx, rest))
	case "check":
		os.Exit(runCheckCommand(ctx, rest))
	case "repair":
		os.Exit(runRepairCommand(ctx, rest))
	case "recurring":
		os.Exit(runRecurringCommand(ctx, rest))
	case "status":
		os.Exit(runStatusCommand(ctx, rest))
	case "doctor":
		os.Exit(runDoctorCommand(ctx, rest))
	case "browse":
		os.Exit(runBrowseCommand(ctx))
	case "monitor":
		os.Exit(runMonitorCommand(ctx, rest))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

// openService loads config and assembles the full stack. quietLogs keeps
// structured logs file-only so command output stays clean.
func openService(ctx context.Context, quietLogs bool, opts service.Options) (*service.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	_ = closer // the log file stays open for the process lifetime
	slog.SetDefault(logger)

	opts.Logger = logger
	svc, err := service.Open(ctx, cfg, opts)
	if err != nil {
		fatalStartup(logger, "E_SERVICE_OPEN", err)
	}
	return svc, nil
}

func closeService(ctx context.Context, svc *service.Service) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := svc.Close(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// loadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. Missing file is fine.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
