package store

import (
	"time"
)

// Status is a task's lifecycle bucket. Each status has a matching Section.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// KnownStatuses is the valid set, in canonical section order.
var KnownStatuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusBlocked}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	for _, k := range KnownStatuses {
		if s == k {
			return true
		}
	}
	return false
}

// Priority orders tasks for display and scoring.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// KnownPriorities is the valid set.
var KnownPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	for _, k := range KnownPriorities {
		if p == k {
			return true
		}
	}
	return false
}

// FieldChange records one field-level diff inside a change-log entry.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// ChangeEntry is one change-log record. A task has exactly one entry per
// version.
type ChangeEntry struct {
	Version   int64         `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     string        `json:"actor"`
	Reason    string        `json:"reason,omitempty"`
	Changes   []FieldChange `json:"changes,omitempty"`
}

// Comment is a free-form note attached to a task.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Metadata carries effort, scoring and external-link fields.
type Metadata struct {
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	ActualHours    float64  `json:"actual_hours,omitempty"`
	Weight         float64  `json:"weight,omitempty"`
	ExternalIDs    []string `json:"external_ids,omitempty"`
}

// Task is the atomic unit of stored work.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`

	// Dependencies are task ids this task waits on.
	Dependencies []string `json:"dependencies,omitempty"`
	// BlockedBy is derived: the subset of Dependencies not yet completed.
	BlockedBy []string `json:"blocked_by,omitempty"`

	Tags     []string `json:"tags,omitempty"`
	Archived bool     `json:"archived,omitempty"`

	// Version starts at 1 and increments exactly once per accepted
	// mutation. It always equals len(ChangeLog).
	Version   int64         `json:"version"`
	ChangeLog []ChangeEntry `json:"change_log"`
	Comments  []Comment     `json:"comments,omitempty"`
	Meta      Metadata      `json:"meta,omitempty"`
}

// ProgressPercentage derives completion progress from status.
func (t *Task) ProgressPercentage() int {
	switch t.Status {
	case StatusCompleted:
		return 100
	case StatusInProgress:
		return 50
	default:
		return 0
	}
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.ArchivedAt = cloneTime(t.ArchivedAt)
	c.DueAt = cloneTime(t.DueAt)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.Tags = append([]string(nil), t.Tags...)
	c.ChangeLog = make([]ChangeEntry, len(t.ChangeLog))
	for i, e := range t.ChangeLog {
		c.ChangeLog[i] = e
		c.ChangeLog[i].Changes = append([]FieldChange(nil), e.Changes...)
	}
	c.Comments = append([]Comment(nil), t.Comments...)
	c.Meta.ExternalIDs = append([]string(nil), t.Meta.ExternalIDs...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Section is a denormalized per-status index of task ids, in display order.
type Section struct {
	Name    string   `json:"name"`
	TaskIDs []string `json:"task_ids"`
}

func (s *Section) clone() *Section {
	return &Section{Name: s.Name, TaskIDs: append([]string{}, s.TaskIDs...)}
}

// OpKind names the mutation class recorded in an undo history entry.
type OpKind string

const (
	OpCreate  OpKind = "create"
	OpUpdate  OpKind = "update"
	OpDelete  OpKind = "delete"
	OpArchive OpKind = "archive"
)

// HistoryEntry captures one accepted mutation with deep copies of the
// affected records immediately before and after. Undo replays the inverse.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Op          OpKind    `json:"op"`
	Description string    `json:"description"`
	TaskIDs     []string  `json:"task_ids"`
	// Before and After are parallel to TaskIDs; a nil element means the
	// task did not exist on that side of the operation.
	Before []*Task `json:"before"`
	After  []*Task `json:"after"`
}

func (e *HistoryEntry) clone() *HistoryEntry {
	c := &HistoryEntry{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		Op:          e.Op,
		Description: e.Description,
		TaskIDs:     append([]string(nil), e.TaskIDs...),
	}
	for _, t := range e.Before {
		c.Before = append(c.Before, t.Clone())
	}
	for _, t := range e.After {
		c.After = append(c.After, t.Clone())
	}
	return c
}

// RecurringDef creates a fresh task each time its cron expression fires.
type RecurringDef struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CronExpr  string     `json:"cron_expr"`
	Title     string     `json:"title"`
	Priority  Priority   `json:"priority"`
	Tags      []string   `json:"tags,omitempty"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Template is a named set of defaults for new tasks.
type Template struct {
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority"`
	Tags        []string `json:"tags,omitempty"`
}

// RootMeta is aggregate metadata, always recomputable from the task map.
type RootMeta struct {
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	LastUpdated time.Time `json:"last_updated"`
	AutoSync    bool      `json:"auto_sync"`
}

// StoreVersion is the envelope version written to and expected from the
// persisted document.
const StoreVersion = 1

// Root is the aggregate store state.
type Root struct {
	// Version is the document envelope version, bumped when the persisted
	// layout changes incompatibly.
	Version   int              `json:"version"`
	Tasks     map[string]*Task `json:"tasks"`
	Sections  []*Section       `json:"sections"`
	History   []*HistoryEntry  `json:"history"`
	Meta      RootMeta         `json:"meta"`
	Recurring []*RecurringDef  `json:"recurring,omitempty"`
	Templates []*Template      `json:"templates,omitempty"`
}

// NewRoot returns an empty Root with the canonical sections.
func NewRoot() *Root {
	r := &Root{
		Version: StoreVersion,
		Tasks:   make(map[string]*Task),
		Meta:    RootMeta{AutoSync: true},
	}
	for _, s := range KnownStatuses {
		r.Sections = append(r.Sections, &Section{Name: string(s), TaskIDs: []string{}})
	}
	return r
}

// Clone returns a deep copy of the entire root. Transactions and undo work
// on clones so rollback can restore byte-for-byte state.
func (r *Root) Clone() *Root {
	c := &Root{
		Version: r.Version,
		Tasks:   make(map[string]*Task, len(r.Tasks)),
		Meta:    r.Meta,
	}
	for id, t := range r.Tasks {
		c.Tasks[id] = t.Clone()
	}
	for _, s := range r.Sections {
		c.Sections = append(c.Sections, s.clone())
	}
	for _, e := range r.History {
		c.History = append(c.History, e.clone())
	}
	for _, def := range r.Recurring {
		d := *def
		d.Tags = append([]string(nil), def.Tags...)
		d.LastRunAt = cloneTime(def.LastRunAt)
		d.NextRunAt = cloneTime(def.NextRunAt)
		c.Recurring = append(c.Recurring, &d)
	}
	for _, tpl := range r.Templates {
		tp := *tpl
		tp.Tags = append([]string(nil), tpl.Tags...)
		c.Templates = append(c.Templates, &tp)
	}
	return c
}

// Section returns the section with the given name, or nil.
func (r *Root) Section(name string) *Section {
	for _, s := range r.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// EnsureSection returns the named section, appending a new one if needed.
func (r *Root) EnsureSection(name string) *Section {
	if s := r.Section(name); s != nil {
		return s
	}
	s := &Section{Name: name, TaskIDs: []string{}}
	r.Sections = append(r.Sections, s)
	return s
}

// RecomputeMeta recalculates aggregate counts from the task map.
func (r *Root) RecomputeMeta() {
	total, completed := 0, 0
	for _, t := range r.Tasks {
		if t.Archived {
			continue
		}
		total++
		if t.Status == StatusCompleted {
			completed++
		}
	}
	r.Meta.Total = total
	r.Meta.Completed = completed
}
