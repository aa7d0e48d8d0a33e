package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports one on-disk change to config.yaml.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports edits to config.yaml. It watches the home directory
// rather than the file itself because editors and atomic writers replace
// the inode on save, which silently ends a file-level watch.
type Watcher struct {
	homeDir string
	log     *slog.Logger
	events  chan ReloadEvent
	settle  time.Duration
}

// NewWatcher builds a Watcher over homeDir. Events are dropped, not
// queued, when the receiver lags.
func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		homeDir: homeDir,
		log:     logger,
		events:  make(chan ReloadEvent, 16),
		settle:  200 * time.Millisecond,
	}
}

// Events is closed when the watch ends.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Start begins watching until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		fsw.Close()
		return err
	}
	go w.relay(ctx, fsw)
	return nil
}

func (w *Watcher) relay(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	defer close(w.events)
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "config.yaml" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors fire several events per save; collapse them.
			if time.Since(last) < w.settle {
				continue
			}
			last = time.Now()
			select {
			case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
			default:
			}
			w.log.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}
