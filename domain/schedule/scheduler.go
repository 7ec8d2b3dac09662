// Package schedule turns assignments and the attempts policy into a
// time-ordered, priority-ranked call queue.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
)

// Scheduler holds the flat scheduled-call set for one test run. It never
// expires calls on its own; only Ack removes them.
type Scheduler struct {
	mu    sync.Mutex
	calls map[core.CallID]Call
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{calls: make(map[core.CallID]Call)}
}

// Build generates the full scheduled-call set from assignments. Calls whose
// computed time falls outside the workday window are dropped, not deferred;
// re-invoke Build for the next eligible window. Gate blocks drop single
// attempts (or whole waves under a wave policy) silently.
func (s *Scheduler) Build(
	ctx context.Context,
	cfg *experiment.TestConfig,
	assignments []experiment.Assignment,
	gate AdmissionGate,
	base time.Time,
) (BuildStats, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return BuildStats{}, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	waves := partitionWaves(assignments, cfg.Waves)

	var stats BuildStats
	stats.Waves = len(waves)

	s.mu.Lock()
	defer s.mu.Unlock()

	for waveIdx, wave := range waves {
		waveID := core.WaveID("")
		window := cfg.Workday
		waveBase := base
		if cfg.Waves != nil && cfg.Waves.Enabled {
			waveID = core.WaveID(fmt.Sprintf("wave-%d", waveIdx+1))
			waveBase = base.Add(time.Duration(waveIdx) * cfg.Waves.Stagger)
			if cfg.Waves.Window != nil {
				window = *cfg.Waves.Window
			}
			if gate != nil {
				if res := gate.EvaluateWave(ctx, string(waveID)); !res.Allowed {
					log.Printf("[Scheduler] wave %s blocked by quality gate: %s", waveID, res.Reason)
					stats.DroppedWaves++
					continue
				}
			}
		}

		for _, asg := range wave {
			lead, ok := cfg.LeadByID(asg.LeadID)
			if !ok {
				return stats, fmt.Errorf("%w: assignment references lead %s", core.ErrLeadNotFound, asg.LeadID)
			}
			group := cfg.GroupFor(asg.Group)

			for attempt := 1; attempt <= cfg.Attempts.MaxAttempts; attempt++ {
				at := waveBase.Add(cfg.Attempts.GapBefore(attempt))
				if !window.Contains(at, loc) {
					log.Printf("[Scheduler] dropping lead %s attempt %d: %s outside workday window",
						lead.ID, attempt, at.In(loc).Format("15:04"))
					stats.DroppedWindow++
					continue
				}
				if gate != nil {
					if res := gate.EvaluateCall(ctx, lead.ID.String()); !res.Allowed {
						log.Printf("[Scheduler] dropping lead %s attempt %d: quality gate %s (%s)",
							lead.ID, attempt, res.Action, res.Reason)
						stats.DroppedGate++
						continue
					}
				}

				call := Call{
					CallID:      core.CallID(core.NewID()),
					LeadID:      lead.ID,
					Destination: lead.Phone,
					Group:       asg.Group,
					OriginLine:  group.OriginLine,
					Attempt:     attempt,
					ScheduledAt: at,
					WaveID:      waveID,
					Priority:    priority(cfg.Attempts.MaxAttempts, attempt, asg.Group),
					RingTimeout: cfg.Attempts.RingTimeout,
				}
				s.calls[call.CallID] = call
				stats.Scheduled++
			}
		}
	}
	return stats, nil
}

// NextCalls returns up to limit calls whose scheduled time has arrived,
// ordered by descending priority (earlier schedule breaks ties). Calls stay
// queued until acknowledged.
func (s *Scheduler) NextCalls(now time.Time, limit int) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []Call
	for _, c := range s.calls {
		if !c.ScheduledAt.After(now) {
			eligible = append(eligible, c)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ScheduledAt.Before(eligible[j].ScheduledAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible
}

// Ack removes a call after the runner recorded its completion or failure.
func (s *Scheduler) Ack(callID core.CallID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[callID]; !ok {
		return false
	}
	delete(s.calls, callID)
	return true
}

// Len returns the number of calls still queued.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Pending returns a copy of all queued calls ordered by scheduled time.
func (s *Scheduler) Pending() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// partitionWaves splits assignments into fixed-size waves; without a wave
// plan everything lands in one implicit wave.
func partitionWaves(assignments []experiment.Assignment, plan *experiment.WavePlan) [][]experiment.Assignment {
	if plan == nil || !plan.Enabled || plan.WaveSize < 1 {
		return [][]experiment.Assignment{assignments}
	}
	var waves [][]experiment.Assignment
	for lo := 0; lo < len(assignments); lo += plan.WaveSize {
		hi := lo + plan.WaveSize
		if hi > len(assignments) {
			hi = len(assignments)
		}
		waves = append(waves, assignments[lo:hi])
	}
	return waves
}
