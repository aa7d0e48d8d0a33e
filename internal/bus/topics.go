package bus

// Task lifecycle topics published by the store after an accepted mutation.
const (
	TopicTaskCreated   = "task.created"
	TopicTaskUpdated   = "task.updated"
	TopicTaskDeleted   = "task.deleted"
	TopicTaskArchived  = "task.archived"
	TopicTaskCompleted = "task.completed"
)

// Store-level topics.
const (
	TopicStorePersisted    = "store.persisted"
	TopicStoreInconsistent = "store.inconsistent"
	TopicSyncConflict      = "sync.conflict"
	TopicQueueTimeout      = "queue.timeout"
	TopicUndoApplied       = "undo.applied"
)

// TaskEvent is published on the task.* topics.
type TaskEvent struct {
	TaskID    string // Task ID
	Title     string // Title at event time
	OldStatus string // Previous status (empty on create)
	NewStatus string // Status after the mutation
	Version   int64  // Record version after the mutation
	Actor     string // Acting identity (cli, scheduler, ...)
}

// PersistEvent is published on store.persisted after each flushed batch.
type PersistEvent struct {
	Path      string // Canonical store path
	Mutations int    // Mutations coalesced into this flush
	Total     int    // Total records after the flush
	Completed int    // Completed records after the flush
}

// ConflictEvent is published on sync.conflict when the text view diverges
// from the store for a record.
type ConflictEvent struct {
	TaskID string // Task ID (empty when matched by position only)
	Field  string // title, status or description
	Store  string // Value held by the store
	Text   string // Value found in the text view
}
