package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/taskhold/internal/bus"
)

const defaultFlushDebounce = 100 * time.Millisecond

// writeRoot persists the root atomically: marshal, write a sibling temp
// file, fsync, rename over the target. A crash mid-write leaves the old
// file intact.
func writeRoot(path string, root *Root) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// loadRoot reads and validates the store file. A missing file inside an
// existing directory yields a fresh default root; a missing directory is
// a StorePathNotFoundError so a mistyped home is not silently created. A
// corrupt file is set aside with a .corrupt suffix and replaced by a
// default root; the non-empty second return names the recovery reason.
func loadRoot(path string) (*Root, string, error) {
	if path == "" {
		return NewRoot(), "", nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if _, dirErr := os.Stat(filepath.Dir(path)); os.IsNotExist(dirErr) {
			return nil, "", &StorePathNotFoundError{Path: path}
		}
		return NewRoot(), "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("read store: %w", err)
	}
	if err := validateStoreDocument(data); err != nil {
		quarantine(path, data)
		return NewRoot(), err.Error(), nil
	}
	var root Root
	if err := json.Unmarshal(data, &root); err != nil {
		quarantine(path, data)
		return NewRoot(), (&CorruptStoreError{Path: path, Detail: err.Error()}).Error(), nil
	}
	if root.Version != StoreVersion {
		quarantine(path, data)
		detail := fmt.Sprintf("unsupported envelope version %d, want %d", root.Version, StoreVersion)
		return NewRoot(), (&CorruptStoreError{Path: path, Detail: detail}).Error(), nil
	}
	if root.Tasks == nil {
		root.Tasks = make(map[string]*Task)
	}
	for _, s := range KnownStatuses {
		root.EnsureSection(string(s))
	}
	return &root, "", nil
}

// quarantine preserves a corrupt file next to the original for inspection.
func quarantine(path string, data []byte) {
	_ = os.WriteFile(path+".corrupt", data, 0o644)
}

// flusher batches persistence. Mutations call MarkDirty; a single goroutine
// debounces and writes, so concurrent mutation bursts coalesce into one
// disk write.
type flusher struct {
	path     string
	debounce time.Duration
	snapshot func() *Root
	log      *slog.Logger
	bus      *bus.Bus

	dirty  chan struct{}
	flush  chan chan error
	closed chan struct{}
	done   chan struct{}

	writes int64
}

func newFlusher(path string, debounce time.Duration, snapshot func() *Root, log *slog.Logger, b *bus.Bus) *flusher {
	if debounce <= 0 {
		debounce = defaultFlushDebounce
	}
	f := &flusher{
		path:     path,
		debounce: debounce,
		snapshot: snapshot,
		log:      log,
		bus:      b,
		dirty:    make(chan struct{}, 1),
		flush:    make(chan chan error),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// MarkDirty schedules a debounced write. Safe to call from any goroutine.
func (f *flusher) MarkDirty() {
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

// Flush writes immediately, bypassing the debounce window.
func (f *flusher) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case f.flush <- reply:
	case <-f.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close performs a final write if dirty and stops the goroutine.
func (f *flusher) Close() error {
	close(f.closed)
	<-f.done
	return nil
}

func (f *flusher) run() {
	defer close(f.done)
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-f.dirty:
			pending = true
			if timer == nil {
				timer = time.NewTimer(f.debounce)
				timerC = timer.C
			}
		case <-timerC:
			timer = nil
			timerC = nil
			pending = false
			f.write()
		case reply := <-f.flush:
			stopTimer()
			pending = false
			reply <- f.write()
		case <-f.closed:
			stopTimer()
			// Drain a dirty signal that raced with close.
			select {
			case <-f.dirty:
				pending = true
			default:
			}
			if pending || timerC != nil {
				f.write()
			}
			return
		}
	}
}

func (f *flusher) write() error {
	root := f.snapshot()
	err := writeRoot(f.path, root)
	if err != nil {
		f.log.Error("store persist failed", "path", f.path, "error", err)
		return err
	}
	f.writes++
	f.log.Debug("store persisted", "path", f.path, "tasks", len(root.Tasks), "writes", f.writes)
	if f.bus != nil {
		f.bus.Publish(bus.TopicStorePersisted, bus.PersistEvent{
			Path:      f.path,
			Total:     root.Meta.Total,
			Completed: root.Meta.Completed,
		})
	}
	return nil
}
