package mdsync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/basket/taskhold/internal/bus"
	"github.com/basket/taskhold/internal/shared"
	"github.com/basket/taskhold/internal/store"
)

// Strategy selects how Resolve reconciles a divergent text view.
type Strategy string

const (
	// PreferStore re-renders the text view from the store.
	PreferStore Strategy = "prefer-store"
	// PreferText applies the text view's values back into the store.
	PreferText Strategy = "prefer-text"
	// Merge applies text values for fields the store side has not
	// declared preference over, then re-renders.
	Merge Strategy = "merge"
)

// ValidStrategy reports whether s is a known strategy.
func ValidStrategy(s Strategy) bool {
	return s == PreferStore || s == PreferText || s == Merge
}

// Conflict is one field-level divergence between store and text view.
type Conflict struct {
	TaskID string `json:"task_id"`
	Field  string `json:"field"`
	Store  string `json:"store"`
	Text   string `json:"text"`
}

// Syncer owns the markdown view of the store: rendering after persists,
// parsing hand edits back, and reconciling the two when they diverge.
type Syncer struct {
	engine *store.Engine
	path   string
	codec  Codec
	log    *slog.Logger
	bus    *bus.Bus

	// MergeFields declares the store-preferred fields under the merge
	// strategy. Fields not listed take the text side's value.
	MergeFields []string

	mu           sync.Mutex
	lastRendered [32]byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New builds a Syncer over the engine and markdown path. A zero Codec
// falls back to the default markdown format.
func New(engine *store.Engine, path string, codec Codec, logger *slog.Logger, b *bus.Bus) *Syncer {
	if codec.Render == nil || codec.Parse == nil {
		codec = MarkdownCodec()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Syncer{
		engine:      engine,
		path:        path,
		codec:       codec,
		log:         logger,
		bus:         b,
		MergeFields: []string{"status"},
	}
}

// Render writes the current store state to the markdown path atomically.
func (s *Syncer) Render(ctx context.Context) error {
	root := rootFromEngine(s.engine)
	data, err := s.codec.Render(root)
	if err != nil {
		return fmt.Errorf("render text view: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastRendered = sha256.Sum256(data)
	s.mu.Unlock()
	s.log.Debug("text view rendered", "path", s.path, "bytes", len(data), "trace_id", shared.TraceID(ctx))
	return nil
}

// DetectConflicts parses the current text view and diffs it field by
// field against the live store. A missing text file reports no conflicts.
func (s *Syncer) DetectConflicts(ctx context.Context) ([]Conflict, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read text view: %w", err)
	}
	parsed, err := s.codec.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse text view: %w", err)
	}

	var out []Conflict
	for id, textTask := range parsed.Tasks {
		if strings.HasPrefix(id, "@") {
			continue // hand-added task, not a conflict
		}
		liveTask, err := s.engine.Get(id)
		if err != nil {
			continue // deleted in store, render will drop it
		}
		out = append(out, diffTask(liveTask, textTask)...)
	}
	for _, c := range out {
		s.log.Warn("sync conflict",
			"task_id", c.TaskID, "field", c.Field,
			"store", c.Store, "text", c.Text,
			"trace_id", shared.TraceID(ctx))
		if s.bus != nil {
			s.bus.Publish(bus.TopicSyncConflict, bus.ConflictEvent{
				TaskID: c.TaskID, Field: c.Field, Store: c.Store, Text: c.Text,
			})
		}
	}
	return out, nil
}

func diffTask(live, text *store.Task) []Conflict {
	var out []Conflict
	if live.Title != text.Title {
		out = append(out, Conflict{TaskID: live.ID, Field: "title", Store: live.Title, Text: text.Title})
	}
	if live.Status != text.Status {
		out = append(out, Conflict{TaskID: live.ID, Field: "status", Store: string(live.Status), Text: string(text.Status)})
	}
	if text.Description != "" && live.Description != text.Description {
		out = append(out, Conflict{TaskID: live.ID, Field: "description", Store: live.Description, Text: text.Description})
	}
	return out
}

// Resolve reconciles detected conflicts under the given strategy, then
// re-renders so both views agree afterwards.
func (s *Syncer) Resolve(ctx context.Context, strategy Strategy) ([]Conflict, error) {
	if !ValidStrategy(strategy) {
		return nil, fmt.Errorf("unknown conflict strategy %q", strategy)
	}
	conflicts, err := s.DetectConflicts(ctx)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, s.Render(ctx)
	}

	switch strategy {
	case PreferStore:
		// Nothing to apply, the render below overwrites the text side.
	case PreferText:
		if err := s.applyTextValues(ctx, conflicts, nil); err != nil {
			return conflicts, err
		}
	case Merge:
		storePreferred := make(map[string]bool, len(s.MergeFields))
		for _, f := range s.MergeFields {
			storePreferred[f] = true
		}
		if err := s.applyTextValues(ctx, conflicts, storePreferred); err != nil {
			return conflicts, err
		}
	}
	if err := s.engine.Flush(ctx); err != nil {
		return conflicts, err
	}
	return conflicts, s.Render(ctx)
}

// applyTextValues patches the store with text-side values, skipping fields
// the caller declared store-preferred.
func (s *Syncer) applyTextValues(ctx context.Context, conflicts []Conflict, storePreferred map[string]bool) error {
	byTask := make(map[string]store.Patch)
	for _, c := range conflicts {
		if storePreferred[c.Field] {
			continue
		}
		p := byTask[c.TaskID]
		switch c.Field {
		case "title":
			v := c.Text
			p.Title = &v
		case "status":
			v := store.Status(c.Text)
			p.Status = &v
		case "description":
			v := c.Text
			p.Description = &v
		}
		p.Reason = "sync: applied text view edit"
		byTask[c.TaskID] = p
	}
	ctx = shared.WithActor(ctx, "sync")
	for id, patch := range byTask {
		if _, err := s.engine.Update(ctx, id, patch); err != nil {
			return fmt.Errorf("apply text edit to %s: %w", id, err)
		}
	}
	return nil
}

// Start subscribes to persisted-store events and re-renders after each
// one. It returns immediately; Close stops the goroutine.
func (s *Syncer) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe(bus.TopicStorePersisted)
	s.done = make(chan struct{})
	done := s.done
	go func() {
		defer s.bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case _, ok := <-sub.Ch():
				if !ok {
					return
				}
				if err := s.Render(ctx); err != nil {
					s.log.Error("re-render after persist failed", "error", err)
				}
			}
		}
	}()
}

// EnableMonitoring watches the markdown file for hand edits and reports
// conflicts as they appear. Self-triggered render writes are recognized by
// content hash and skipped.
func (s *Syncer) EnableMonitoring(ctx context.Context) error {
	if s.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = w
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if s.selfWrite() {
					continue
				}
				if _, err := s.DetectConflicts(ctx); err != nil {
					s.log.Error("conflict detection failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Error("markdown watcher error", "error", err)
			}
		}
	}()
	s.log.Info("sync monitoring enabled", "path", s.path)
	return nil
}

// selfWrite reports whether the file currently matches the last render.
func (s *Syncer) selfWrite() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sha256.Sum256(data) == s.lastRendered
}

// Close stops the persister subscription and the file watcher.
func (s *Syncer) Close() error {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// rootFromEngine rebuilds a render-ready root from the engine's public
// surface.
func rootFromEngine(e *store.Engine) *store.Root {
	root := store.NewRoot()
	for _, t := range e.List(store.ListFilter{IncludeArchived: true}) {
		root.Tasks[t.ID] = t
	}
	for _, sec := range e.Sections() {
		if existing := root.Section(sec.Name); existing != nil {
			existing.TaskIDs = sec.TaskIDs
		} else {
			root.Sections = append(root.Sections, sec)
		}
	}
	root.RecomputeMeta()
	return root
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp view: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp view: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp view: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return fmt.Errorf("chmod temp view: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replace view: %w", err)
	}
	return nil
}
