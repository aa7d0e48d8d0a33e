package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all Taskhold metric instruments.
type Metrics struct {
	OpDuration       metric.Float64Histogram
	QueueDepth       metric.Int64UpDownCounter
	QueueTimeouts    metric.Int64Counter
	FlushDuration    metric.Float64Histogram
	FlushesTotal     metric.Int64Counter
	SyncConflicts    metric.Int64Counter
	UndoTotal        metric.Int64Counter
	TasksTotal       metric.Int64UpDownCounter
	SearchDuration   metric.Float64Histogram
	ConsistencyFails metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OpDuration, err = meter.Float64Histogram("taskhold.op.duration",
		metric.WithDescription("Store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("taskhold.queue.depth",
		metric.WithDescription("Operations waiting in the queue"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueTimeouts, err = meter.Int64Counter("taskhold.queue.timeouts",
		metric.WithDescription("Operations abandoned after the queue timeout"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushDuration, err = meter.Float64Histogram("taskhold.flush.duration",
		metric.WithDescription("Store persistence duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.FlushesTotal, err = meter.Int64Counter("taskhold.flush.total",
		metric.WithDescription("Store files written"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncConflicts, err = meter.Int64Counter("taskhold.sync.conflicts",
		metric.WithDescription("Field conflicts detected between store and text view"),
	)
	if err != nil {
		return nil, err
	}

	m.UndoTotal, err = meter.Int64Counter("taskhold.undo.total",
		metric.WithDescription("Undo operations applied"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksTotal, err = meter.Int64UpDownCounter("taskhold.tasks.total",
		metric.WithDescription("Live non-archived tasks"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("taskhold.search.duration",
		metric.WithDescription("Search evaluation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ConsistencyFails, err = meter.Int64Counter("taskhold.consistency.findings",
		metric.WithDescription("Inconsistencies reported by store checks"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
