package schedule

import (
	"context"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/quality"
)

// Call is one scheduled call attempt. Ephemeral and in-memory only: created
// by Build, removed by the runner's acknowledgement.
type Call struct {
	CallID      core.CallID   `json:"call_id"`
	LeadID      core.LeadID   `json:"lead_id"`
	Destination string        `json:"destination"`
	Group       core.Group    `json:"group"`
	OriginLine  string        `json:"origin_line"`
	Attempt     int           `json:"attempt"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	WaveID      core.WaveID   `json:"wave_id,omitempty"`
	Priority    int           `json:"priority"`
	RingTimeout time.Duration `json:"ring_timeout"`
}

// AdmissionGate is the quality-gate view the scheduler needs while building
// the call set.
type AdmissionGate interface {
	EvaluateCall(ctx context.Context, key string) quality.Result
	EvaluateWave(ctx context.Context, key string) quality.Result
}

// BuildStats summarizes one Build run.
type BuildStats struct {
	Scheduled     int `json:"scheduled"`
	DroppedWindow int `json:"dropped_window"`
	DroppedGate   int `json:"dropped_gate"`
	DroppedWaves  int `json:"dropped_waves"`
	Waves         int `json:"waves"`
}

// priority implements the dispatch preference: earlier attempts beat later
// ones and group A beats group B when both are eligible.
func priority(maxAttempts, attempt int, group core.Group) int {
	p := (maxAttempts - attempt + 1) * 10
	if group == core.GroupA {
		p += 5
	}
	return p
}
