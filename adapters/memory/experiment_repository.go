// Package memory provides in-process implementations of the storage ports,
// used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
	"callsplit/ports"
)

// ExperimentRepository keeps test states in a map.
type ExperimentRepository struct {
	mu    sync.RWMutex
	tests map[core.TestID]*experiment.TestState
}

// NewExperimentRepository creates an empty in-memory experiment store.
func NewExperimentRepository() *ExperimentRepository {
	return &ExperimentRepository{tests: make(map[core.TestID]*experiment.TestState)}
}

var _ ports.ExperimentRepository = (*ExperimentRepository)(nil)

func (r *ExperimentRepository) SaveTest(ctx context.Context, state *experiment.TestState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	cp.Assignments = append([]experiment.Assignment(nil), state.Assignments...)
	r.tests[state.ID] = &cp
	return nil
}

func (r *ExperimentRepository) GetTest(ctx context.Context, id core.TestID) (*experiment.TestState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.tests[id]
	if !ok {
		return nil, core.ErrTestNotFound
	}
	cp := *state
	return &cp, nil
}

func (r *ExperimentRepository) ListTests(ctx context.Context) ([]*experiment.TestState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*experiment.TestState, 0, len(r.tests))
	for _, state := range r.tests {
		cp := *state
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ExperimentRepository) DeleteTest(ctx context.Context, id core.TestID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tests[id]; !ok {
		return core.ErrTestNotFound
	}
	delete(r.tests, id)
	return nil
}

func (r *ExperimentRepository) SaveMetricsSnapshot(ctx context.Context, testID core.TestID, agg metrics.Aggregated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.tests[testID]
	if !ok {
		return core.ErrTestNotFound
	}
	state.CurrentMetrics = agg
	return nil
}
