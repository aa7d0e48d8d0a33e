package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.OpDuration == nil {
		t.Error("OpDuration is nil")
	}
	if m.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if m.QueueTimeouts == nil {
		t.Error("QueueTimeouts is nil")
	}
	if m.FlushDuration == nil {
		t.Error("FlushDuration is nil")
	}
	if m.FlushesTotal == nil {
		t.Error("FlushesTotal is nil")
	}
	if m.SyncConflicts == nil {
		t.Error("SyncConflicts is nil")
	}
	if m.UndoTotal == nil {
		t.Error("UndoTotal is nil")
	}
	if m.TasksTotal == nil {
		t.Error("TasksTotal is nil")
	}
	if m.SearchDuration == nil {
		t.Error("SearchDuration is nil")
	}
	if m.ConsistencyFails == nil {
		t.Error("ConsistencyFails is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
