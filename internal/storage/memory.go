package storage

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryBackend is an in-process Backend for development and tests. Events
// are kept in insertion order.
type MemoryBackend struct {
	mu     sync.RWMutex
	events []*DecisionEvent
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) SaveDecisionEvent(ctx context.Context, event *DecisionEvent) error {
	return m.SaveDecisionEventsBatch(ctx, []*DecisionEvent{event})
}

func (m *MemoryBackend) SaveDecisionEventsBatch(ctx context.Context, events []*DecisionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryBackend) GetDecisionEvents(ctx context.Context, filter EventFilter) ([]*DecisionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DecisionEvent
	for _, event := range m.events {
		if filter.Department != nil && (event.Department == nil || *event.Department != *filter.Department) {
			continue
		}
		if filter.Stage != nil && event.Stage != *filter.Stage {
			continue
		}
		if filter.Outcome != nil && event.Outcome != *filter.Outcome {
			continue
		}
		out = append(out, event)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) GetDecisionStats(ctx context.Context) (*DecisionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &DecisionStats{OutcomeCounts: make(map[string]int64)}
	totalCost := decimal.Zero
	totalAvoided := decimal.Zero

	for _, event := range m.events {
		stats.TotalEvents++
		stats.OutcomeCounts[event.Outcome]++
		if event.CostUSD != nil {
			if d, err := decimal.NewFromString(*event.CostUSD); err == nil {
				totalCost = totalCost.Add(d)
			}
		}
		if event.CostAvoidedUSD != nil {
			if d, err := decimal.NewFromString(*event.CostAvoidedUSD); err == nil {
				totalAvoided = totalAvoided.Add(d)
			}
		}
	}

	stats.TotalCostUSD = totalCost.String()
	stats.TotalAvoidedUSD = totalAvoided.String()
	return stats, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// Events returns a snapshot of all stored events.
func (m *MemoryBackend) Events() []*DecisionEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DecisionEvent, len(m.events))
	copy(out, m.events)
	return out
}
