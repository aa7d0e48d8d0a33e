package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskhold/internal/audit"
	"github.com/basket/taskhold/internal/bus"
	"github.com/basket/taskhold/internal/shared"
)

// Options configures a store engine.
type Options struct {
	// Path is the JSON store file. Empty means in-memory only.
	Path string
	// HistorySize bounds the undo ring. Zero means the default of 10.
	HistorySize int
	// FlushDebounce batches persistence. Zero means the default of 100ms.
	FlushDebounce time.Duration
	// Immediate persists synchronously after every mutation, for tests and
	// monitoring mode.
	Immediate bool
	// CheckInterval spaces opportunistic consistency scans. Zero means the
	// default of 5s.
	CheckInterval time.Duration

	Logger *slog.Logger
	Bus    *bus.Bus
	Audit  *audit.Log

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Engine is the task store. All mutations go through it; callers that need
// admission control submit through an opqueue.Queue above it, but the
// engine is also safe for direct concurrent use.
type Engine struct {
	mu     sync.Mutex
	root   *Root
	ring   *historyRing
	log    *slog.Logger
	bus    *bus.Bus
	audit  *audit.Log
	now    func() time.Time
	newID  func() string
	closed bool

	flusher   *flusher
	immediate bool
	path      string
	debounce  time.Duration

	txnSnapshot *Root
	txnHistory  []*HistoryEntry
	txnEvents   []pendingEvent

	checkInterval time.Duration
	lastCheck     time.Time

	executed int64
}

type pendingEvent struct {
	topic   string
	payload any
}

// Open loads the store file (or builds a default root) and starts the
// persistence flusher.
func Open(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 5 * time.Second
	}
	e := &Engine{
		log:           opts.Logger,
		bus:           opts.Bus,
		audit:         opts.Audit,
		now:           opts.Now,
		newID:         opts.NewID,
		ring:          newHistoryRing(opts.HistorySize),
		immediate:     opts.Immediate,
		path:          opts.Path,
		debounce:      opts.FlushDebounce,
		checkInterval: opts.CheckInterval,
	}
	e.lastCheck = opts.Now()

	root, recovered, err := loadRoot(opts.Path)
	if err != nil {
		return nil, err
	}
	e.root = root
	e.ring.Replace(root.History)
	root.History = nil
	e.repairDerived()
	if recovered != "" {
		e.log.Warn("store rebuilt from default", "reason", recovered, "path", opts.Path)
		e.publish(bus.TopicStoreInconsistent, bus.PersistEvent{Path: opts.Path})
	}

	if opts.Path != "" && !opts.Immediate {
		e.flusher = newFlusher(opts.Path, opts.FlushDebounce, e.snapshotForPersist, opts.Logger, opts.Bus)
	}
	return e, nil
}

// SetImmediatePersist toggles between debounced batching and writing every
// mutation to disk synchronously. Turning it on flushes pending state first
// so nothing sits in the debounce window.
func (e *Engine) SetImmediatePersist(on bool) error {
	e.mu.Lock()
	if e.closed || on == e.immediate || e.path == "" {
		e.mu.Unlock()
		return nil
	}
	if on {
		f := e.flusher
		e.flusher = nil
		e.immediate = true
		root := e.persistRoot()
		e.mu.Unlock()
		if f != nil {
			if err := f.Close(); err != nil {
				return err
			}
		}
		return writeRoot(e.path, root)
	}
	e.immediate = false
	e.flusher = newFlusher(e.path, e.debounce, e.snapshotForPersist, e.log, e.bus)
	e.mu.Unlock()
	return nil
}

// Close flushes pending writes and stops the flusher.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	f := e.flusher
	e.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

// CreateRequest carries the caller-supplied fields of a new task.
type CreateRequest struct {
	Title        string
	Description  string
	Priority     Priority
	Status       Status
	Dependencies []string
	Tags         []string
	DueAt        *time.Time
	Meta         Metadata
}

// Create validates, assigns an id and version 1, and stores a new task.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	if strings.TrimSpace(req.Title) == "" {
		return nil, &InvalidFieldValueError{Field: "title", Value: req.Title}
	}
	if req.Priority == "" {
		req.Priority = PriorityMedium
	}
	if !ValidPriority(req.Priority) {
		return nil, &InvalidFieldValueError{Field: "priority", Value: string(req.Priority), Allow: priorityNames()}
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if !ValidStatus(req.Status) {
		return nil, &InvalidFieldValueError{Field: "status", Value: string(req.Status), Allow: statusNames()}
	}
	if missing := e.missingDeps(req.Dependencies); len(missing) > 0 {
		return nil, &DependencyConflictError{TaskID: "", Missing: missing}
	}

	id := e.newID()
	if err := ValidateDependencies(id, req.Dependencies, e.depsOf); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	actor := shared.Actor(ctx)
	t := &Task{
		ID:           id,
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Status:       req.Status,
		Priority:     req.Priority,
		CreatedAt:    now,
		UpdatedAt:    now,
		DueAt:        cloneTime(req.DueAt),
		Dependencies: append([]string(nil), req.Dependencies...),
		Tags:         normalizeTags(req.Tags),
		Version:      1,
		Meta:         req.Meta,
		ChangeLog: []ChangeEntry{{
			Version:   1,
			Timestamp: now,
			Actor:     actor,
			Reason:    "created",
		}},
	}
	if t.Status == StatusCompleted {
		t.CompletedAt = &now
	}
	e.root.Tasks[id] = t
	e.root.recomputeBlockedBy(t)
	e.root.EnsureSection(string(t.Status)).TaskIDs = append(e.root.Section(string(t.Status)).TaskIDs, id)
	e.root.RecomputeMeta()
	e.root.Meta.LastUpdated = now

	e.recordHistory(OpCreate, fmt.Sprintf("create %q", t.Title), []string{id}, []*Task{nil}, []*Task{t.Clone()})
	e.afterMutation(ctx, "task.create", t, "", t.Status, actor)
	return t.Clone(), nil
}

// Get returns a deep copy of a task.
func (e *Engine) Get(id string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.root.Tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return t.Clone(), nil
}

// ListFilter narrows and orders List results. Zero values match
// everything and keep section order.
type ListFilter struct {
	Status          Status
	Priority        Priority
	Tag             string
	IncludeArchived bool

	// Sort orders results by one of KnownSortKeys. Empty keeps section
	// order.
	Sort string
	// Offset and Limit window the sorted results. Limit zero means no
	// limit.
	Offset int
	Limit  int
}

// KnownSortKeys are the accepted ListFilter.Sort values.
var KnownSortKeys = []string{"priority", "due", "updated", "created", "title"}

func validSortKey(key string) bool {
	for _, k := range KnownSortKeys {
		if key == k {
			return true
		}
	}
	return false
}

// Page is one window of list results plus the pre-window match count.
type Page struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

// List returns all tasks matching the filter. It is ListPage without the
// window bookkeeping; an invalid sort key yields nil.
func (e *Engine) List(f ListFilter) []*Task {
	f.Offset, f.Limit = 0, 0
	p, err := e.ListPage(f)
	if err != nil {
		return nil
	}
	return p.Tasks
}

// ListPage returns tasks matching the filter, ordered by section then
// section position unless a sort key is set, windowed by offset and
// limit. Archived tasks leave the section index, so when the filter asks
// for them they are collected from the task map and appended after the
// sectioned results, oldest first.
func (e *Engine) ListPage(f ListFilter) (Page, error) {
	if f.Sort != "" && !validSortKey(f.Sort) {
		allow := make([]string, len(KnownSortKeys))
		copy(allow, KnownSortKeys)
		return Page{}, &InvalidFieldValueError{Field: "sort", Value: f.Sort, Allow: allow}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []*Task
	seen := map[string]bool{}
	for _, s := range e.root.Sections {
		for _, id := range s.TaskIDs {
			t, ok := e.root.Tasks[id]
			if !ok || !matchesFilter(t, f) {
				continue
			}
			matched = append(matched, t)
			seen[id] = true
		}
	}
	if f.IncludeArchived {
		var archived []*Task
		for id, t := range e.root.Tasks {
			if seen[id] || !t.Archived || !matchesFilter(t, f) {
				continue
			}
			archived = append(archived, t)
		}
		sort.Slice(archived, func(i, j int) bool {
			if archived[i].CreatedAt.Equal(archived[j].CreatedAt) {
				return archived[i].ID < archived[j].ID
			}
			return archived[i].CreatedAt.Before(archived[j].CreatedAt)
		})
		matched = append(matched, archived...)
	}
	sortTasks(matched, f.Sort)

	total := len(matched)
	start := f.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	out := make([]*Task, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, t.Clone())
	}
	return Page{Tasks: out, Total: total}, nil
}

func matchesFilter(t *Task, f ListFilter) bool {
	if !f.IncludeArchived && t.Archived {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Tag != "" && !containsString(t.Tags, f.Tag) {
		return false
	}
	return true
}

func priorityRank(p Priority) int {
	for i, k := range KnownPriorities {
		if p == k {
			return i
		}
	}
	return -1
}

func sortTasks(tasks []*Task, key string) {
	switch key {
	case "priority":
		sort.SliceStable(tasks, func(i, j int) bool {
			return priorityRank(tasks[i].Priority) > priorityRank(tasks[j].Priority)
		})
	case "due":
		// Tasks without a due date sort last.
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i].DueAt, tasks[j].DueAt
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return a.Before(*b)
		})
	case "updated":
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
		})
	case "created":
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
	case "title":
		sort.SliceStable(tasks, func(i, j int) bool {
			return strings.ToLower(tasks[i].Title) < strings.ToLower(tasks[j].Title)
		})
	}
}

// Sections returns deep copies of the section index.
func (e *Engine) Sections() []*Section {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Section, 0, len(e.root.Sections))
	for _, s := range e.root.Sections {
		out = append(out, s.clone())
	}
	return out
}

// Patch is a partial update. Nil pointer fields are left untouched.
type Patch struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	Dependencies *[]string
	Tags         *[]string
	DueAt        *time.Time
	ClearDueAt   bool
	Reason       string
	Meta         *Metadata
}

// Update applies a patch to a task. A patch that changes nothing returns
// the task unchanged with no version bump.
func (e *Engine) Update(ctx context.Context, id string, p Patch) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t, ok := e.root.Tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	before := t.Clone()
	changes, err := e.applyPatch(t, p)
	if err != nil {
		e.root.Tasks[id] = before
		return nil, err
	}
	if len(changes) == 0 {
		return t.Clone(), nil
	}

	now := e.now().UTC()
	actor := shared.Actor(ctx)
	t.UpdatedAt = now
	t.Version++
	t.ChangeLog = append(t.ChangeLog, ChangeEntry{
		Version:   t.Version,
		Timestamp: now,
		Actor:     actor,
		Reason:    p.Reason,
		Changes:   changes,
	})

	ids := []string{id}
	befores := []*Task{before}
	afters := []*Task{t.Clone()}

	if before.Status != t.Status {
		e.moveSection(id, before.Status, t.Status)
		if t.Status == StatusCompleted {
			promoted := e.cascadeCompletion(ctx, t.ID, now, actor)
			for _, pr := range promoted {
				ids = append(ids, pr.id)
				befores = append(befores, pr.before)
				afters = append(afters, pr.after)
			}
		}
	}
	e.root.RecomputeMeta()
	e.root.Meta.LastUpdated = now

	e.recordHistory(OpUpdate, fmt.Sprintf("update %q", t.Title), ids, befores, afters)
	e.afterMutation(ctx, "task.update", t, before.Status, t.Status, actor)
	return t.Clone(), nil
}

// applyPatch mutates t in place and returns the field diffs. On a
// validation error the caller restores the pre-patch clone.
func (e *Engine) applyPatch(t *Task, p Patch) ([]FieldChange, error) {
	var changes []FieldChange
	record := func(field, from, to string) {
		if from != to {
			changes = append(changes, FieldChange{Field: field, From: from, To: to})
		}
	}

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, &InvalidFieldValueError{Field: "title", Value: *p.Title}
		}
		record("title", t.Title, title)
		t.Title = title
	}
	if p.Description != nil {
		record("description", t.Description, *p.Description)
		t.Description = *p.Description
	}
	if p.Priority != nil {
		if !ValidPriority(*p.Priority) {
			return nil, &InvalidFieldValueError{Field: "priority", Value: string(*p.Priority), Allow: priorityNames()}
		}
		record("priority", string(t.Priority), string(*p.Priority))
		t.Priority = *p.Priority
	}
	if p.Dependencies != nil {
		deps := append([]string(nil), *p.Dependencies...)
		if missing := e.missingDeps(deps); len(missing) > 0 {
			return nil, &DependencyConflictError{TaskID: t.ID, Missing: missing}
		}
		if err := ValidateDependencies(t.ID, deps, e.depsOf); err != nil {
			return nil, err
		}
		record("dependencies", strings.Join(t.Dependencies, ","), strings.Join(deps, ","))
		t.Dependencies = deps
		e.root.recomputeBlockedBy(t)
	}
	if p.Tags != nil {
		tags := normalizeTags(*p.Tags)
		record("tags", strings.Join(t.Tags, ","), strings.Join(tags, ","))
		t.Tags = tags
	}
	if p.ClearDueAt {
		if t.DueAt != nil {
			record("due_at", t.DueAt.Format(time.RFC3339), "")
			t.DueAt = nil
		}
	} else if p.DueAt != nil {
		from := ""
		if t.DueAt != nil {
			from = t.DueAt.Format(time.RFC3339)
		}
		record("due_at", from, p.DueAt.Format(time.RFC3339))
		t.DueAt = cloneTime(p.DueAt)
	}
	if p.Meta != nil {
		record("meta", fmt.Sprintf("%.1fh/%.1fh w=%.1f", t.Meta.EstimatedHours, t.Meta.ActualHours, t.Meta.Weight),
			fmt.Sprintf("%.1fh/%.1fh w=%.1f", p.Meta.EstimatedHours, p.Meta.ActualHours, p.Meta.Weight))
		t.Meta = *p.Meta
		t.Meta.ExternalIDs = append([]string(nil), p.Meta.ExternalIDs...)
	}
	if p.Status != nil {
		if !ValidStatus(*p.Status) {
			return nil, &InvalidFieldValueError{Field: "status", Value: string(*p.Status), Allow: statusNames()}
		}
		if t.Status != *p.Status {
			record("status", string(t.Status), string(*p.Status))
			t.Status = *p.Status
			now := e.now().UTC()
			if t.Status == StatusCompleted {
				t.CompletedAt = &now
			} else {
				t.CompletedAt = nil
			}
		}
	}
	return changes, nil
}

type promotion struct {
	id     string
	before *Task
	after  *Task
}

// cascadeCompletion promotes blocked dependents of a newly completed task
// back to pending once none of their dependencies remain incomplete.
func (e *Engine) cascadeCompletion(ctx context.Context, completedID string, now time.Time, actor string) []promotion {
	var out []promotion
	for _, depID := range e.root.dependents(completedID) {
		d := e.root.Tasks[depID]
		e.root.recomputeBlockedBy(d)
		if d.Status != StatusBlocked || len(d.BlockedBy) > 0 {
			continue
		}
		before := d.Clone()
		d.Status = StatusPending
		d.UpdatedAt = now
		d.Version++
		d.ChangeLog = append(d.ChangeLog, ChangeEntry{
			Version:   d.Version,
			Timestamp: now,
			Actor:     actor,
			Reason:    fmt.Sprintf("unblocked by completion of %s", completedID),
			Changes:   []FieldChange{{Field: "status", From: string(StatusBlocked), To: string(StatusPending)}},
		})
		e.moveSection(depID, StatusBlocked, StatusPending)
		e.publish(bus.TopicTaskUpdated, bus.TaskEvent{
			TaskID: depID, Title: d.Title,
			OldStatus: string(StatusBlocked), NewStatus: string(StatusPending),
			Version: d.Version, Actor: actor,
		})
		out = append(out, promotion{id: depID, before: before, after: d.Clone()})
	}
	return out
}

// DeletePolicy controls how Delete treats dependents of the target.
type DeletePolicy string

const (
	// DeleteBlock rejects the delete while non-archived dependents exist.
	DeleteBlock DeletePolicy = "block"
	// DeleteReassign strips the target from dependents' dependency lists.
	DeleteReassign DeletePolicy = "reassign"
	// DeleteCascade deletes the target and all transitive dependents.
	DeleteCascade DeletePolicy = "cascade"
)

// Delete removes a task under the given policy.
func (e *Engine) Delete(ctx context.Context, id string, policy DeletePolicy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	t, ok := e.root.Tasks[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if policy == "" {
		policy = DeleteBlock
	}

	now := e.now().UTC()
	actor := shared.Actor(ctx)
	var ids []string
	var befores, afters []*Task

	switch policy {
	case DeleteBlock:
		if deps := e.root.dependents(id); len(deps) > 0 {
			sort.Strings(deps)
			return &DependencyConflictError{TaskID: id, Dependents: deps}
		}
		ids, befores, afters = []string{id}, []*Task{t.Clone()}, []*Task{nil}
		e.removeTask(id)
	case DeleteReassign:
		ids, befores, afters = []string{id}, []*Task{t.Clone()}, []*Task{nil}
		for _, depID := range e.root.dependents(id) {
			d := e.root.Tasks[depID]
			before := d.Clone()
			d.Dependencies = removeString(d.Dependencies, id)
			d.UpdatedAt = now
			d.Version++
			d.ChangeLog = append(d.ChangeLog, ChangeEntry{
				Version: d.Version, Timestamp: now, Actor: actor,
				Reason:  fmt.Sprintf("dependency %s deleted", id),
				Changes: []FieldChange{{Field: "dependencies", From: strings.Join(before.Dependencies, ","), To: strings.Join(d.Dependencies, ",")}},
			})
			e.root.recomputeBlockedBy(d)
			ids = append(ids, depID)
			befores = append(befores, before)
			afters = append(afters, d.Clone())
		}
		e.removeTask(id)
	case DeleteCascade:
		for _, victim := range e.cascadeSet(id) {
			v := e.root.Tasks[victim]
			ids = append(ids, victim)
			befores = append(befores, v.Clone())
			afters = append(afters, nil)
			e.removeTask(victim)
		}
	default:
		return &InvalidFieldValueError{Field: "policy", Value: string(policy), Allow: []string{"block", "reassign", "cascade"}}
	}

	for _, rem := range e.root.Tasks {
		e.root.recomputeBlockedBy(rem)
	}
	e.root.RecomputeMeta()
	e.root.Meta.LastUpdated = now

	e.recordHistory(OpDelete, fmt.Sprintf("delete %q (%s)", t.Title, policy), ids, befores, afters)
	e.afterMutation(ctx, "task.delete", t, t.Status, "", actor)
	return nil
}

// cascadeSet returns id plus its transitive dependents, target first.
func (e *Engine) cascadeSet(id string) []string {
	seen := map[string]bool{id: true}
	order := []string{id}
	for i := 0; i < len(order); i++ {
		for _, dep := range e.root.dependents(order[i]) {
			if !seen[dep] {
				seen[dep] = true
				order = append(order, dep)
			}
		}
	}
	return order
}

func (e *Engine) removeTask(id string) {
	t := e.root.Tasks[id]
	delete(e.root.Tasks, id)
	if t != nil {
		e.removeFromSection(id, t.Status)
	}
}

// Archive soft-deletes a task: hidden from listings and sections, excluded
// from dependency constraints, restorable via undo.
func (e *Engine) Archive(ctx context.Context, id string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t, ok := e.root.Tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if t.Archived {
		return t.Clone(), nil
	}
	before := t.Clone()
	now := e.now().UTC()
	actor := shared.Actor(ctx)
	t.Archived = true
	t.ArchivedAt = &now
	t.UpdatedAt = now
	t.Version++
	t.ChangeLog = append(t.ChangeLog, ChangeEntry{
		Version: t.Version, Timestamp: now, Actor: actor, Reason: "archived",
		Changes: []FieldChange{{Field: "archived", From: "false", To: "true"}},
	})
	e.removeFromSection(id, t.Status)
	for _, rem := range e.root.Tasks {
		e.root.recomputeBlockedBy(rem)
	}
	e.root.RecomputeMeta()
	e.root.Meta.LastUpdated = now

	e.recordHistory(OpArchive, fmt.Sprintf("archive %q", t.Title), []string{id}, []*Task{before}, []*Task{t.Clone()})
	e.afterMutation(ctx, "task.archive", t, t.Status, t.Status, actor)
	return t.Clone(), nil
}

// AddComment appends a comment and bumps the task version.
func (e *Engine) AddComment(ctx context.Context, id, author, text string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	t, ok := e.root.Tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &InvalidFieldValueError{Field: "comment", Value: text}
	}
	if author == "" {
		author = shared.Actor(ctx)
	}
	before := t.Clone()
	now := e.now().UTC()
	t.Comments = append(t.Comments, Comment{
		ID: e.newID(), Author: author, Text: text, CreatedAt: now,
	})
	t.UpdatedAt = now
	t.Version++
	t.ChangeLog = append(t.ChangeLog, ChangeEntry{
		Version: t.Version, Timestamp: now, Actor: author, Reason: "comment added",
		Changes: []FieldChange{{Field: "comments", From: fmt.Sprint(len(before.Comments)), To: fmt.Sprint(len(t.Comments))}},
	})
	e.root.Meta.LastUpdated = now

	e.recordHistory(OpUpdate, fmt.Sprintf("comment on %q", t.Title), []string{id}, []*Task{before}, []*Task{t.Clone()})
	e.afterMutation(ctx, "task.comment", t, t.Status, t.Status, author)
	return t.Clone(), nil
}

// ExecutedCount reports accepted mutations since open.
func (e *Engine) ExecutedCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// recordHistory pushes an undo entry. Inside a transaction the entry is
// held aside and only joins the ring on commit.
func (e *Engine) recordHistory(op OpKind, desc string, ids []string, before, after []*Task) {
	entry := &HistoryEntry{
		ID:          e.newID(),
		Timestamp:   e.now().UTC(),
		Op:          op,
		Description: desc,
		TaskIDs:     ids,
		Before:      before,
		After:       after,
	}
	if e.txnSnapshot != nil {
		e.txnHistory = append(e.txnHistory, entry)
		return
	}
	e.ring.Push(entry)
}

// afterMutation handles the shared tail of every accepted mutation: audit,
// bus event, persistence scheduling.
func (e *Engine) afterMutation(ctx context.Context, action string, t *Task, oldStatus, newStatus Status, actor string) {
	e.executed++
	e.audit.Record(action, t.ID, string(newStatus), actor, t.Title)
	e.log.LogAttrs(ctx, slog.LevelInfo, action,
		slog.String("task_id", t.ID),
		slog.Int64("version", t.Version),
		slog.String("status", string(newStatus)),
		slog.String("trace_id", shared.TraceID(ctx)))

	topic := bus.TopicTaskUpdated
	switch action {
	case "task.create":
		topic = bus.TopicTaskCreated
	case "task.delete":
		topic = bus.TopicTaskDeleted
	case "task.archive":
		topic = bus.TopicTaskArchived
	}
	if newStatus == StatusCompleted && oldStatus != StatusCompleted {
		topic = bus.TopicTaskCompleted
	}
	e.publish(topic, bus.TaskEvent{
		TaskID: t.ID, Title: t.Title,
		OldStatus: string(oldStatus), NewStatus: string(newStatus),
		Version: t.Version, Actor: actor,
	})
	e.maybeCheck()
	e.requestFlush()
}

// publish emits now, or buffers until commit inside a transaction.
func (e *Engine) publish(topic string, payload any) {
	if e.bus == nil {
		return
	}
	if e.txnSnapshot != nil {
		e.txnEvents = append(e.txnEvents, pendingEvent{topic: topic, payload: payload})
		return
	}
	e.bus.Publish(topic, payload)
}

func (e *Engine) requestFlush() {
	if e.txnSnapshot != nil {
		return
	}
	if e.immediate && e.path != "" {
		root := e.persistRoot()
		if err := writeRoot(e.path, root); err != nil {
			e.log.Error("immediate persist failed", "error", err)
			return
		}
		e.publish(bus.TopicStorePersisted, bus.PersistEvent{
			Path:      e.path,
			Mutations: 1,
			Total:     root.Meta.Total,
			Completed: root.Meta.Completed,
		})
		return
	}
	if e.flusher != nil {
		e.flusher.MarkDirty()
	}
}

// Flush forces any pending state to disk and blocks until written.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.path == "" {
		e.mu.Unlock()
		return nil
	}
	if e.immediate || e.flusher == nil {
		root := e.persistRoot()
		e.mu.Unlock()
		return writeRoot(e.path, root)
	}
	f := e.flusher
	e.mu.Unlock()
	return f.Flush(ctx)
}

// section bookkeeping

func (e *Engine) moveSection(id string, from, to Status) {
	e.removeFromSection(id, from)
	s := e.root.EnsureSection(string(to))
	s.TaskIDs = append(s.TaskIDs, id)
}

func (e *Engine) removeFromSection(id string, from Status) {
	if s := e.root.Section(string(from)); s != nil {
		s.TaskIDs = removeString(s.TaskIDs, id)
	}
	// Guard against stale membership elsewhere.
	for _, s := range e.root.Sections {
		if s.Name != string(from) {
			s.TaskIDs = removeString(s.TaskIDs, id)
		}
	}
}

// repairDerived rebuilds everything recomputable: section membership,
// BlockedBy lists, aggregate counts. Called after load, undo and rollback.
func (e *Engine) repairDerived() {
	for _, s := range e.root.Sections {
		kept := s.TaskIDs[:0]
		for _, id := range s.TaskIDs {
			t, ok := e.root.Tasks[id]
			if ok && !t.Archived && string(t.Status) == s.Name {
				kept = append(kept, id)
			}
		}
		s.TaskIDs = kept
	}
	for id, t := range e.root.Tasks {
		if t.Archived {
			continue
		}
		sec := e.root.EnsureSection(string(t.Status))
		if !containsString(sec.TaskIDs, id) {
			sec.TaskIDs = append(sec.TaskIDs, id)
		}
	}
	for _, t := range e.root.Tasks {
		e.root.recomputeBlockedBy(t)
	}
	e.root.RecomputeMeta()
}

func (e *Engine) depsOf(id string) []string {
	if t, ok := e.root.Tasks[id]; ok {
		return t.Dependencies
	}
	return nil
}

func (e *Engine) missingDeps(deps []string) []string {
	var missing []string
	for _, dep := range deps {
		if _, ok := e.root.Tasks[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}

// snapshotForPersist is the flusher's view of current state.
func (e *Engine) snapshotForPersist() *Root {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persistRoot()
}

// persistRoot clones the root with the history ring folded back in.
// Callers must hold e.mu.
func (e *Engine) persistRoot() *Root {
	c := e.root.Clone()
	// Marshal empty collections as [], never null; the document schema
	// rejects null arrays on reload.
	c.History = []*HistoryEntry{}
	for _, entry := range e.ring.Snapshot() {
		c.History = append(c.History, entry.clone())
	}
	for _, s := range c.Sections {
		if s.TaskIDs == nil {
			s.TaskIDs = []string{}
		}
	}
	return c
}

func normalizeTags(tags []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func statusNames() []string {
	out := make([]string, len(KnownStatuses))
	for i, s := range KnownStatuses {
		out[i] = string(s)
	}
	return out
}

func priorityNames() []string {
	out := make([]string, len(KnownPriorities))
	for i, p := range KnownPriorities {
		out[i] = string(p)
	}
	return out
}
