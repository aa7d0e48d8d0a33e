// Package service assembles the task store stack: operation queue in
// front, engine underneath, with markdown sync, scoring, recurring
// scheduling and telemetry wired to the event bus. Every public operation
// is submitted through the queue so writes serialize and reads share a
// bounded pool.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/taskhold/internal/audit"
	"github.com/basket/taskhold/internal/bus"
	"github.com/basket/taskhold/internal/config"
	"github.com/basket/taskhold/internal/mdsync"
	"github.com/basket/taskhold/internal/opqueue"
	otelPkg "github.com/basket/taskhold/internal/otel"
	"github.com/basket/taskhold/internal/recurring"
	"github.com/basket/taskhold/internal/scoring"
	"github.com/basket/taskhold/internal/search"
	"github.com/basket/taskhold/internal/store"
)

// Default submission priorities. Callers needing ordering control pass
// their own through SubmitWrite/SubmitRead.
const (
	DefaultPriority = 5
	UndoPriority    = 8
)

// Service is the assembled task store.
type Service struct {
	Cfg    config.Config
	Logger *slog.Logger

	Bus       *bus.Bus
	Audit     *audit.Log
	Engine    *store.Engine
	Queue     *opqueue.Queue
	Syncer    *mdsync.Syncer
	Scorer    *scoring.Scorer
	Scheduler *recurring.Scheduler

	Provider *otelPkg.Provider
	Metrics  *otelPkg.Metrics

	cancel context.CancelFunc
}

// Options tweaks assembly beyond the config file.
type Options struct {
	// Monitoring forces synchronous persist and render on every mutation
	// and watches the markdown file for hand edits.
	Monitoring bool
	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Open builds and starts the full stack from config.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	eventBus := bus.New()

	auditLog, err := audit.Open(cfg.HomeDir)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	provider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	engine, err := store.Open(store.Options{
		Path:          cfg.StorePath,
		HistorySize:   cfg.HistorySize,
		FlushDebounce: cfg.FlushDebounce(),
		Immediate:     opts.Monitoring,
		CheckInterval: cfg.CheckInterval(),
		Logger:        logger.With("component", "store"),
		Bus:           eventBus,
		Audit:         auditLog,
	})
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	queue := opqueue.New(opqueue.Config{
		ReadConcurrency: cfg.ReadConcurrency,
		Timeout:         cfg.OpTimeout(),
		BurstWindow:     cfg.BurstWindow(),
		Logger:          logger.With("component", "opqueue"),
	})

	runCtx, cancel := context.WithCancel(ctx)

	syncer := mdsync.New(engine, cfg.MarkdownPath, mdsync.Codec{}, logger.With("component", "mdsync"), eventBus)
	if cfg.SyncEnabled() {
		syncer.Start(runCtx)
		if opts.Monitoring {
			if err := syncer.EnableMonitoring(runCtx); err != nil {
				logger.Warn("sync monitoring unavailable", "error", err)
			}
		}
	}

	scorer := scoring.New(engine, eventBus, logger.With("component", "scoring"))
	scorer.Start(runCtx)

	scheduler := recurring.NewScheduler(recurring.Config{
		Engine:   engine,
		Logger:   logger.With("component", "recurring"),
		Interval: time.Duration(cfg.RecurringIntervalSeconds) * time.Second,
	})
	scheduler.Start(runCtx)

	s := &Service{
		Cfg:       cfg,
		Logger:    logger,
		Bus:       eventBus,
		Audit:     auditLog,
		Engine:    engine,
		Queue:     queue,
		Syncer:    syncer,
		Scorer:    scorer,
		Scheduler: scheduler,
		Provider:  provider,
		Metrics:   metrics,
		cancel:    cancel,
	}
	s.watchTelemetry(runCtx)
	return s, nil
}

// Close shuts the stack down back to front: stop feeding the queue, drain
// it, flush the store, stop collaborators.
func (s *Service) Close(ctx context.Context) error {
	s.Scheduler.Stop()
	s.Scorer.Stop()
	var first error
	if err := s.Queue.Close(ctx); err != nil && first == nil {
		first = err
	}
	if err := s.Engine.Flush(ctx); err != nil && first == nil {
		first = err
	}
	if s.Cfg.SyncEnabled() {
		if err := s.Syncer.Render(ctx); err != nil && first == nil {
			first = err
		}
	}
	s.cancel()
	if err := s.Syncer.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.Engine.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.Audit.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.Provider.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	return first
}

// SubmitWrite runs fn under the queue's exclusive write lane.
func (s *Service) SubmitWrite(ctx context.Context, priority int, name string, fn func(ctx context.Context) error) error {
	return s.submit(ctx, opqueue.Write, priority, name, fn)
}

// SubmitRead runs fn under the queue's shared read lane.
func (s *Service) SubmitRead(ctx context.Context, priority int, name string, fn func(ctx context.Context) error) error {
	return s.submit(ctx, opqueue.Read, priority, name, fn)
}

func (s *Service) submit(ctx context.Context, kind opqueue.Kind, priority int, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	s.Metrics.QueueDepth.Add(ctx, 1)
	err := s.Queue.Submit(ctx, kind, priority, fn)
	s.Metrics.QueueDepth.Add(ctx, -1)
	s.Metrics.OpDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(otelPkg.AttrOp.String(name)))
	if errors.Is(err, opqueue.ErrTimeout) {
		s.Metrics.QueueTimeouts.Add(ctx, 1)
		s.Bus.Publish(bus.TopicQueueTimeout, name)
	}
	return err
}

// CreateTask queues a task creation.
func (s *Service) CreateTask(ctx context.Context, req store.CreateRequest) (*store.Task, error) {
	var task *store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.create", func(ctx context.Context) error {
		var err error
		task, err = s.Engine.Create(ctx, req)
		return err
	})
	return task, err
}

// GetTask queues a single-task read.
func (s *Service) GetTask(ctx context.Context, id string) (*store.Task, error) {
	var task *store.Task
	err := s.SubmitRead(ctx, DefaultPriority, "task.get", func(context.Context) error {
		var err error
		task, err = s.Engine.Get(id)
		return err
	})
	return task, err
}

// ListTasks queues a filtered listing.
func (s *Service) ListTasks(ctx context.Context, f store.ListFilter) ([]*store.Task, error) {
	var tasks []*store.Task
	err := s.SubmitRead(ctx, DefaultPriority, "task.list", func(context.Context) error {
		tasks = s.Engine.List(f)
		return nil
	})
	return tasks, err
}

// ListTasksPage queues a sorted, windowed listing.
func (s *Service) ListTasksPage(ctx context.Context, f store.ListFilter) (store.Page, error) {
	var page store.Page
	err := s.SubmitRead(ctx, DefaultPriority, "task.list", func(context.Context) error {
		var err error
		page, err = s.Engine.ListPage(f)
		return err
	})
	return page, err
}

// UpdateTask queues a patch.
func (s *Service) UpdateTask(ctx context.Context, id string, p store.Patch) (*store.Task, error) {
	var task *store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.update", func(ctx context.Context) error {
		var err error
		task, err = s.Engine.Update(ctx, id, p)
		return err
	})
	return task, err
}

// DeleteTask queues a delete under the given policy.
func (s *Service) DeleteTask(ctx context.Context, id string, policy store.DeletePolicy) error {
	return s.SubmitWrite(ctx, DefaultPriority, "task.delete", func(ctx context.Context) error {
		return s.Engine.Delete(ctx, id, policy)
	})
}

// ArchiveTask queues an archive.
func (s *Service) ArchiveTask(ctx context.Context, id string) (*store.Task, error) {
	var task *store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.archive", func(ctx context.Context) error {
		var err error
		task, err = s.Engine.Archive(ctx, id)
		return err
	})
	return task, err
}

// AddComment queues a comment append.
func (s *Service) AddComment(ctx context.Context, id, author, text string) (*store.Task, error) {
	var task *store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.comment", func(ctx context.Context) error {
		var err error
		task, err = s.Engine.AddComment(ctx, id, author, text)
		return err
	})
	return task, err
}

// BulkCreateTasks queues an all-or-nothing creation batch.
func (s *Service) BulkCreateTasks(ctx context.Context, reqs []store.CreateRequest) ([]*store.Task, error) {
	var tasks []*store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.bulk_create", func(ctx context.Context) error {
		var err error
		tasks, err = s.Engine.BulkCreate(ctx, reqs)
		return err
	})
	return tasks, err
}

// BulkUpdateTasks queues an all-or-nothing patch batch.
func (s *Service) BulkUpdateTasks(ctx context.Context, patches []store.BulkPatch) ([]*store.Task, error) {
	var tasks []*store.Task
	err := s.SubmitWrite(ctx, DefaultPriority, "task.bulk_update", func(ctx context.Context) error {
		var err error
		tasks, err = s.Engine.BulkUpdate(ctx, patches)
		return err
	})
	return tasks, err
}

// BulkDeleteTasks queues an all-or-nothing delete batch.
func (s *Service) BulkDeleteTasks(ctx context.Context, ids []string, policy store.DeletePolicy, force bool) error {
	return s.SubmitWrite(ctx, DefaultPriority, "task.bulk_delete", func(ctx context.Context) error {
		return s.Engine.BulkDelete(ctx, ids, policy, force)
	})
}

// SearchTasks queues a snapshot search.
func (s *Service) SearchTasks(ctx context.Context, q search.Query) ([]search.Result, error) {
	var results []search.Result
	err := s.SubmitRead(ctx, DefaultPriority, "task.search", func(ctx context.Context) error {
		start := time.Now()
		snapshot := s.Engine.List(store.ListFilter{})
		results = search.Run(snapshot, q)
		s.Metrics.SearchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(otelPkg.AttrMode.String(string(q.Mode))))
		return nil
	})
	return results, err
}

// Undo queues an inverse replay of the latest mutation. It outranks
// ordinary writes so a mistake can be pulled back ahead of queued work.
func (s *Service) Undo(ctx context.Context) (*store.HistoryEntry, error) {
	var entry *store.HistoryEntry
	err := s.SubmitWrite(ctx, UndoPriority, "task.undo", func(ctx context.Context) error {
		var err error
		entry, err = s.Engine.Undo(ctx)
		return err
	})
	if err == nil {
		s.Metrics.UndoTotal.Add(ctx, 1)
	}
	return entry, err
}

// UndoHistory returns pending undo entries without queueing: the engine
// copies under its own lock and history reads must not contend with bulk
// writes.
func (s *Service) UndoHistory() []*store.HistoryEntry {
	return s.Engine.UndoHistory()
}

// WithTransaction queues fn as one exclusive write: Begin, fn against the
// engine, Commit, with Rollback on error or panic.
func (s *Service) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.SubmitWrite(ctx, DefaultPriority, "task.transaction", func(ctx context.Context) error {
		return s.Engine.WithTransaction(ctx, fn)
	})
}

// DetectConflicts diffs the markdown view against the store.
func (s *Service) DetectConflicts(ctx context.Context) ([]mdsync.Conflict, error) {
	var conflicts []mdsync.Conflict
	err := s.SubmitRead(ctx, DefaultPriority, "sync.detect", func(ctx context.Context) error {
		var err error
		conflicts, err = s.Syncer.DetectConflicts(ctx)
		return err
	})
	if len(conflicts) > 0 {
		s.Metrics.SyncConflicts.Add(ctx, int64(len(conflicts)))
	}
	return conflicts, err
}

// ResolveConflicts reconciles the markdown view under the given strategy.
// An empty strategy takes the configured default.
func (s *Service) ResolveConflicts(ctx context.Context, strategy mdsync.Strategy) ([]mdsync.Conflict, error) {
	if strategy == "" {
		strategy = mdsync.Strategy(s.Cfg.Sync.ConflictStrategy)
	}
	var conflicts []mdsync.Conflict
	err := s.SubmitWrite(ctx, DefaultPriority, "sync.resolve", func(ctx context.Context) error {
		var err error
		conflicts, err = s.Syncer.Resolve(ctx, strategy)
		return err
	})
	return conflicts, err
}

// Flush forces pending batched writes to disk.
func (s *Service) Flush(ctx context.Context) error {
	return s.SubmitWrite(ctx, DefaultPriority, "store.flush", func(ctx context.Context) error {
		start := time.Now()
		err := s.Engine.Flush(ctx)
		s.Metrics.FlushDuration.Record(ctx, time.Since(start).Seconds())
		return err
	})
}

// SetImmediatePersist switches the engine between debounced batching and
// synchronous per-mutation writes.
func (s *Service) SetImmediatePersist(ctx context.Context, on bool) error {
	return s.SubmitWrite(ctx, DefaultPriority, "store.persist_mode", func(context.Context) error {
		return s.Engine.SetImmediatePersist(on)
	})
}

// CheckConsistency runs a scan without mutating anything.
func (s *Service) CheckConsistency(ctx context.Context, full bool) ([]store.Inconsistency, error) {
	var findings []store.Inconsistency
	err := s.SubmitRead(ctx, DefaultPriority, "store.check", func(ctx context.Context) error {
		findings = s.Engine.CheckConsistency(ctx, full)
		return nil
	})
	if len(findings) > 0 {
		s.Metrics.ConsistencyFails.Add(ctx, int64(len(findings)))
	}
	return findings, err
}

// Repair rebuilds derived state after reporting what was wrong.
func (s *Service) Repair(ctx context.Context) ([]store.Inconsistency, error) {
	var findings []store.Inconsistency
	err := s.SubmitWrite(ctx, DefaultPriority, "store.repair", func(ctx context.Context) error {
		findings = s.Engine.Repair(ctx)
		return nil
	})
	return findings, err
}

// watchTelemetry mirrors task lifecycle and persistence events into metric
// instruments.
func (s *Service) watchTelemetry(ctx context.Context) {
	taskSub := s.Bus.Subscribe("task.")
	persistSub := s.Bus.Subscribe(bus.TopicStorePersisted)
	go func() {
		defer s.Bus.Unsubscribe(taskSub)
		defer s.Bus.Unsubscribe(persistSub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-taskSub.Ch():
				if !ok {
					return
				}
				switch ev.Topic {
				case bus.TopicTaskCreated:
					s.Metrics.TasksTotal.Add(ctx, 1)
				case bus.TopicTaskDeleted, bus.TopicTaskArchived:
					s.Metrics.TasksTotal.Add(ctx, -1)
				}
			case _, ok := <-persistSub.Ch():
				if !ok {
					return
				}
				s.Metrics.FlushesTotal.Add(ctx, 1)
			}
		}
	}()
}
