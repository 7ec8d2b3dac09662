package memory

import (
	"context"
	"sync"

	"callsplit/domain/core"
	"callsplit/domain/metrics"
	"callsplit/ports"
)

// CallLogRepository keeps the append-only call log per test in memory.
type CallLogRepository struct {
	mu   sync.RWMutex
	logs map[core.TestID][]metrics.CallMetric
	seen map[core.CallID]bool
}

// NewCallLogRepository creates an empty in-memory call log.
func NewCallLogRepository() *CallLogRepository {
	return &CallLogRepository{
		logs: make(map[core.TestID][]metrics.CallMetric),
		seen: make(map[core.CallID]bool),
	}
}

var _ ports.CallLogRepository = (*CallLogRepository)(nil)

// AppendCallMetric records one call attempt; duplicate call IDs are dropped.
func (r *CallLogRepository) AppendCallMetric(ctx context.Context, m metrics.CallMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[m.CallID] {
		return nil
	}
	r.seen[m.CallID] = true
	r.logs[m.TestID] = append(r.logs[m.TestID], m)
	return nil
}

// ListCallMetrics returns a copy of the log in append order.
func (r *CallLogRepository) ListCallMetrics(ctx context.Context, testID core.TestID) ([]metrics.CallMetric, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]metrics.CallMetric(nil), r.logs[testID]...), nil
}
