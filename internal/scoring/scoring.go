// Package scoring is a read-only consumer of the store's metrics. It
// recomputes aggregate completion figures after each persisted batch and
// keeps the latest report available for status output.
package scoring

import (
	"context"
	"log/slog"
	"sync"

	"github.com/basket/taskhold/internal/bus"
	"github.com/basket/taskhold/internal/store"
)

// Priority weights used when a task carries no explicit weight.
var priorityWeights = map[store.Priority]float64{
	store.PriorityLow:      1,
	store.PriorityMedium:   2,
	store.PriorityHigh:     3,
	store.PriorityCritical: 4,
}

// Report is one aggregate snapshot.
type Report struct {
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	CriticalRemaining int     `json:"critical_remaining"`
	WeightedScore     float64 `json:"weighted_score"`
}

// Scorer subscribes to persisted-store events and recomputes the report.
type Scorer struct {
	engine *store.Engine
	bus    *bus.Bus
	log    *slog.Logger

	mu     sync.Mutex
	latest Report

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scorer over the engine.
func New(engine *store.Engine, b *bus.Bus, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scorer{engine: engine, bus: b, log: logger}
}

// Start subscribes and recomputes on every persisted batch. Failures stay
// inside the scorer; the store never waits on it.
func (s *Scorer) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}
	sub := s.bus.Subscribe(bus.TopicStorePersisted)
	s.done = make(chan struct{})
	done := s.done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
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
				s.Recompute()
			}
		}
	}()
}

// Stop ends the subscription goroutine.
func (s *Scorer) Stop() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.wg.Wait()
}

// Recompute scans the live tasks and refreshes the report.
func (s *Scorer) Recompute() Report {
	var r Report
	var totalWeight, doneWeight float64
	for _, t := range s.engine.List(store.ListFilter{}) {
		r.Total++
		w := t.Meta.Weight
		if w <= 0 {
			w = priorityWeights[t.Priority]
		}
		totalWeight += w
		if t.Status == store.StatusCompleted {
			r.Completed++
			doneWeight += w
		} else if t.Priority == store.PriorityCritical {
			r.CriticalRemaining++
		}
	}
	if totalWeight > 0 {
		r.WeightedScore = doneWeight / totalWeight
	}

	s.mu.Lock()
	s.latest = r
	s.mu.Unlock()
	s.log.Debug("score recomputed",
		"total", r.Total,
		"completed", r.Completed,
		"critical_remaining", r.CriticalRemaining,
		"weighted_score", r.WeightedScore)
	return r
}

// Latest returns the most recent report.
func (s *Scorer) Latest() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
