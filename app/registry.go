// Package app ties the domain components into the test-lifecycle runner.
package app

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"callsplit/domain/assignment"
	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
	"callsplit/domain/quality"
	"callsplit/domain/schedule"
	"callsplit/domain/stoprules"
	"callsplit/internal/ratelimit"
	"callsplit/ports"
)

// Options tunes the execution loop.
type Options struct {
	TickInterval time.Duration
	BatchSize    int
	MaxInFlight  int64
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.BatchSize < 1 {
		o.BatchSize = 10
	}
	if o.MaxInFlight < 1 {
		o.MaxInFlight = 8
	}
	return o
}

// Deps are the collaborators the registry hands to every test runtime.
type Deps struct {
	Carrier     ports.VoiceCarrier
	Messenger   ports.Messenger
	SpamSource  quality.SpamSource
	CallLogs    ports.CallLogRepository
	Experiments ports.ExperimentRepository
	Metrics     *metrics.Service
	Limiter     *ratelimit.MultiLevel
	Clock       core.Clock
}

// Registry owns every active experiment and its execution loop. It is
// constructed once at startup and passed by handle; there is no ambient
// process-wide state.
type Registry struct {
	mu    sync.RWMutex
	tests map[core.TestID]*runtime

	carrier     ports.VoiceCarrier
	messenger   ports.Messenger
	spam        quality.SpamSource
	callLogs    ports.CallLogRepository
	experiments ports.ExperimentRepository
	metrics     *metrics.Service
	limiter     *ratelimit.MultiLevel
	clock       core.Clock
	opts        Options
}

// runtime is the per-test mutable aggregate plus the loop plumbing that is
// rebuilt on every (re)start.
type runtime struct {
	// lifecycleMu serializes create/start/pause/stop/delete per test.
	lifecycleMu sync.Mutex

	state *experiment.TestState

	scheduler *schedule.Scheduler
	gate      *quality.Gate
	rules     *stoprules.Evaluator
	// lineCap enforces the compliance cap (max calls/hour per origin line).
	lineCap *ratelimit.Limiter
	// waveCap paces dispatch per wave when the wave plan sets a target rate.
	waveCap *ratelimit.Limiter

	cancel      context.CancelFunc
	done        chan struct{}
	completions chan completion
	sem         *semaphore.Weighted
	// inFlight and pausedLines are touched only from the loop goroutine.
	inFlight    map[core.CallID]schedule.Call
	pausedLines map[string]bool
}

// NewRegistry builds the process-wide experiment registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	clock := deps.Clock
	if clock == nil {
		clock = core.SystemClock()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewService(clock)
	}
	return &Registry{
		tests:       make(map[core.TestID]*runtime),
		carrier:     deps.Carrier,
		messenger:   deps.Messenger,
		spam:        deps.SpamSource,
		callLogs:    deps.CallLogs,
		experiments: deps.Experiments,
		metrics:     m,
		limiter:     deps.Limiter,
		clock:       clock,
		opts:        opts.withDefaults(),
	}
}

// Metrics exposes the shared metrics service for reporting surfaces.
func (r *Registry) Metrics() *metrics.Service { return r.metrics }

// CreateTest validates the configuration, assigns leads and registers the
// test in draft state. Invalid configuration never reaches draft.
func (r *Registry) CreateTest(ctx context.Context, cfg *experiment.TestConfig) (*experiment.TestState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	assignments, err := assignment.Assign(cfg.Leads, cfg.Assignment)
	if err != nil {
		return nil, err
	}

	state := &experiment.TestState{
		ID:          core.TestID(core.NewID()),
		Status:      experiment.StatusDraft,
		Config:      *cfg,
		Assignments: assignments,
		CreatedAt:   r.clock.Now(),
	}

	if r.experiments != nil {
		if err := r.experiments.SaveTest(ctx, state); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.tests[state.ID] = &runtime{state: state}
	r.mu.Unlock()

	a, b := state.GroupCounts()
	log.Printf("[Runner] created test %s (%s): %d leads, A=%d B=%d", state.ID, cfg.Name, len(cfg.Leads), a, b)
	return snapshotState(state), nil
}

// StartTest builds the gate, stop rules, rate caps and scheduler, generates
// the full call set and launches the execution loop. Allowed from draft and
// paused only; resuming rebuilds the sub-components, with stop-rule edge
// history re-armed from the ledger.
func (r *Registry) StartTest(ctx context.Context, id core.TestID) error {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return err
	}
	rt.lifecycleMu.Lock()
	defer rt.lifecycleMu.Unlock()

	r.mu.RLock()
	status := rt.state.Status
	prevDone := rt.done
	r.mu.RUnlock()

	if status != experiment.StatusDraft && status != experiment.StatusPaused {
		return core.NewTransitionError(string(status), string(experiment.StatusRunning))
	}
	if prevDone != nil {
		// Let the previous loop finish draining in-flight calls.
		<-prevDone
	}

	cfg := &rt.state.Config

	spamCfg := quality.Config{}
	if cfg.SpamControl != nil {
		spamCfg = *cfg.SpamControl
	}
	gate := quality.New(spamCfg, r.spam)

	rulesCfg := stoprules.Config{}
	if cfg.StopRules != nil {
		rulesCfg = *cfg.StopRules
	}
	rules := stoprules.NewEvaluator(rulesCfg)
	// Arm edge detection at the ledger's current level. Flags that already
	// fired before a pause must not fire again on resume.
	rules.Seed(id, r.metrics.Aggregate(id))

	scheduler := schedule.New()
	stats, err := scheduler.Build(ctx, cfg, rt.state.Assignments, gate, r.clock.Now())
	if err != nil {
		return err
	}
	log.Printf("[Runner] test %s scheduled %d calls (%d waves, %d window drops, %d gate drops)",
		id, stats.Scheduled, stats.Waves, stats.DroppedWindow, stats.DroppedGate)

	var lineCap *ratelimit.Limiter
	if cfg.MaxCallsPerHourPerLine > 0 {
		lineCap = ratelimit.New(ratelimit.Config{
			BurstCapacity: cfg.MaxCallsPerHourPerLine,
			RefillRate:    float64(cfg.MaxCallsPerHourPerLine) / 3600.0,
		}, r.clock)
	}

	var waveCap *ratelimit.Limiter
	if cfg.Waves != nil && cfg.Waves.Enabled && cfg.Waves.TargetRate > 0 {
		burst := int(cfg.Waves.TargetRate)
		if burst < 1 {
			burst = 1
		}
		waveCap = ratelimit.New(ratelimit.Config{
			BurstCapacity: burst,
			RefillRate:    cfg.Waves.TargetRate,
		}, r.clock)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if !rt.state.Status.CanTransitionTo(experiment.StatusScheduled) {
		// Paused tests skip the scheduled hop and go straight back to running.
		if !rt.state.Status.CanTransitionTo(experiment.StatusRunning) {
			r.mu.Unlock()
			cancel()
			return core.NewTransitionError(string(rt.state.Status), string(experiment.StatusRunning))
		}
	} else {
		rt.state.Status = experiment.StatusScheduled
	}
	rt.state.Status = experiment.StatusRunning
	rt.state.PausedAt = nil
	now := r.clock.Now()
	if rt.state.StartedAt == nil {
		rt.state.StartedAt = &now
	}
	rt.state.ScheduledTotal = stats.Scheduled
	rt.state.LastError = ""

	rt.scheduler = scheduler
	rt.gate = gate
	rt.rules = rules
	rt.lineCap = lineCap
	rt.waveCap = waveCap
	rt.cancel = cancel
	rt.done = make(chan struct{})
	rt.completions = make(chan completion, r.opts.MaxInFlight)
	rt.sem = semaphore.NewWeighted(r.opts.MaxInFlight)
	rt.inFlight = make(map[core.CallID]schedule.Call)
	rt.pausedLines = make(map[string]bool)
	r.mu.Unlock()

	r.persistState(rt)
	go r.loop(loopCtx, rt)
	log.Printf("[Runner] test %s running", id)
	return nil
}

// PauseTest halts dispatch before the next tick; in-flight calls complete
// and still record their outcome.
func (r *Registry) PauseTest(ctx context.Context, id core.TestID, reason string) error {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return err
	}
	rt.lifecycleMu.Lock()
	defer rt.lifecycleMu.Unlock()

	if err := r.transition(rt, experiment.StatusPaused, reason); err != nil {
		return err
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	log.Printf("[Runner] test %s paused: %s", id, reason)
	return nil
}

// ResumeTest restarts a paused test. Gate, limiter caps and scheduler are
// recreated; their in-memory state does not survive a pause. Stop rules are
// the exception: their snapshot is seeded from the ledger so crossings that
// already fired stay fired.
func (r *Registry) ResumeTest(ctx context.Context, id core.TestID) error {
	return r.StartTest(ctx, id)
}

// StopTest ends the experiment. Terminal: a stopped test cannot restart.
func (r *Registry) StopTest(ctx context.Context, id core.TestID, reason string) error {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return err
	}
	rt.lifecycleMu.Lock()
	defer rt.lifecycleMu.Unlock()

	if err := r.transition(rt, experiment.StatusStopped, reason); err != nil {
		return err
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	log.Printf("[Runner] test %s stopped: %s", id, reason)
	return nil
}

// DeleteTest removes a test. Refused while the test is running or paused.
func (r *Registry) DeleteTest(ctx context.Context, id core.TestID) error {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return err
	}
	rt.lifecycleMu.Lock()
	defer rt.lifecycleMu.Unlock()

	r.mu.Lock()
	status := rt.state.Status
	if status == experiment.StatusRunning || status == experiment.StatusPaused {
		r.mu.Unlock()
		return core.ErrTestActive
	}
	delete(r.tests, id)
	r.mu.Unlock()

	if r.experiments != nil {
		if err := r.experiments.DeleteTest(ctx, id); err != nil {
			log.Printf("[Runner] delete test %s from repository: %v", id, err)
		}
	}
	return nil
}

// GetTest returns a point-in-time copy of a test's state.
func (r *Registry) GetTest(id core.TestID) (*experiment.TestState, error) {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotState(rt.state), nil
}

// ListTests returns copies of all registered tests, newest first.
func (r *Registry) ListTests() []*experiment.TestState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*experiment.TestState, 0, len(r.tests))
	for _, rt := range r.tests {
		out = append(out, snapshotState(rt.state))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Results bundles the overall and per-group rollups of a test.
type Results struct {
	Overall metrics.Aggregated `json:"overall"`
	GroupA  metrics.Aggregated `json:"group_a"`
	GroupB  metrics.Aggregated `json:"group_b"`
}

// Results returns all three rollup scopes.
func (r *Registry) Results(id core.TestID) (*Results, error) {
	if _, err := r.runtimeFor(id); err != nil {
		return nil, err
	}
	return &Results{
		Overall: r.metrics.Aggregate(id),
		GroupA:  r.metrics.AggregateGroup(id, core.GroupA),
		GroupB:  r.metrics.AggregateGroup(id, core.GroupB),
	}, nil
}

// Compare returns the A-vs-B comparison.
func (r *Registry) Compare(id core.TestID) (metrics.Comparison, error) {
	if _, err := r.runtimeFor(id); err != nil {
		return metrics.Comparison{}, err
	}
	return r.metrics.Compare(id), nil
}

// PendingCalls lists the calls still queued for a test.
func (r *Registry) PendingCalls(id core.TestID) ([]schedule.Call, error) {
	rt, err := r.runtimeFor(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	scheduler := rt.scheduler
	r.mu.RUnlock()
	if scheduler == nil {
		return nil, nil
	}
	return scheduler.Pending(), nil
}

// Shutdown cancels every loop and waits for in-flight calls to settle or the
// context to expire.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	var dones []chan struct{}
	for _, rt := range r.tests {
		if rt.cancel != nil {
			rt.cancel()
		}
		if rt.done != nil {
			dones = append(dones, rt.done)
		}
	}
	r.mu.RUnlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) runtimeFor(id core.TestID) (*runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tests[id]
	if !ok {
		return nil, core.ErrTestNotFound
	}
	return rt, nil
}

// transition applies a lifecycle move under the registry lock and persists
// the new state best-effort.
func (r *Registry) transition(rt *runtime, next experiment.Status, reason string) error {
	r.mu.Lock()
	cur := rt.state.Status
	if !cur.CanTransitionTo(next) {
		r.mu.Unlock()
		return core.NewTransitionError(string(cur), string(next))
	}
	rt.state.Status = next
	now := r.clock.Now()
	switch next {
	case experiment.StatusPaused:
		rt.state.PausedAt = &now
	case experiment.StatusStopped:
		rt.state.StoppedAt = &now
	case experiment.StatusCompleted:
		rt.state.CompletedAt = &now
	case experiment.StatusRunning:
		rt.state.PausedAt = nil
		if rt.state.StartedAt == nil {
			rt.state.StartedAt = &now
		}
	}
	if reason != "" {
		rt.state.LastError = reason
	}
	r.mu.Unlock()

	r.persistState(rt)
	return nil
}

// persistState saves the current test state; persistence failures are logged,
// never fatal to the run.
func (r *Registry) persistState(rt *runtime) {
	if r.experiments == nil {
		return
	}
	r.mu.RLock()
	state := snapshotState(rt.state)
	r.mu.RUnlock()
	if err := r.experiments.SaveTest(context.Background(), state); err != nil {
		log.Printf("[Runner] persist test %s: %v", state.ID, err)
	}
}

func snapshotState(s *experiment.TestState) *experiment.TestState {
	cp := *s
	cp.Assignments = append([]experiment.Assignment(nil), s.Assignments...)
	return &cp
}
