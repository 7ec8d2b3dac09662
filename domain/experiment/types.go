package experiment

import (
	"time"

	"callsplit/domain/core"
	"callsplit/domain/metrics"
	"callsplit/domain/quality"
	"callsplit/domain/stoprules"
)

// Status is the lifecycle state of a test.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Active reports whether the test still owns scheduled work.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusRunning || s == StatusPaused
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// failed is reachable from any active state.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusFailed {
		return s.Active()
	}
	switch s {
	case StatusDraft:
		return next == StatusScheduled || next == StatusRunning
	case StatusScheduled:
		return next == StatusRunning || next == StatusStopped
	case StatusRunning:
		return next == StatusPaused || next == StatusStopped || next == StatusCompleted
	case StatusPaused:
		return next == StatusRunning || next == StatusStopped
	default:
		return false
	}
}

// Lead is one immutable input record of the lead list.
type Lead struct {
	ID    core.LeadID `json:"id" yaml:"id"`
	Phone string      `json:"phone" yaml:"phone"`
	// Optional stratification attributes.
	Sector string `json:"sector,omitempty" yaml:"sector,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// StratumKey is the composite stratification key.
func (l Lead) StratumKey() string {
	return l.Sector + "|" + l.Region
}

// Assignment maps one lead to its treatment group. Created once at test
// creation, never mutated.
type Assignment struct {
	LeadID   core.LeadID       `json:"lead_id"`
	Group    core.Group        `json:"group"`
	Reason   string            `json:"assignment_reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// GroupConfig names one treatment group and binds its origin line.
type GroupConfig struct {
	Label      string `json:"label" yaml:"label"`
	OriginLine string `json:"origin_line" yaml:"origin_line"`
	Script     string `json:"script,omitempty" yaml:"script,omitempty"`
}

// AssignmentMode selects the lead assignment strategy.
type AssignmentMode string

const (
	ModeRandomOneToOne AssignmentMode = "random_1_to_1"
	ModeStratified     AssignmentMode = "stratified"
)

// AssignmentConfig controls lead splitting.
type AssignmentConfig struct {
	Mode AssignmentMode `json:"mode" yaml:"mode"`
	// BlockSize applies to stratified mode; must be even and >= 2.
	BlockSize int `json:"block_size,omitempty" yaml:"block_size,omitempty"`
	// Seed makes assignment deterministic; 0 means time-seeded.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// AttemptsPolicy drives the multi-attempt call sequence per lead.
type AttemptsPolicy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	RingTimeout time.Duration `json:"ring_timeout" yaml:"ring_timeout"`
	// Gaps[k] is the minimum gap between attempt k+1 and attempt k+2. When
	// fewer gaps than attempts are configured the last gap repeats.
	Gaps []time.Duration `json:"gaps" yaml:"gaps"`
}

// GapBefore returns the cumulative offset of the given attempt (1-based)
// from the base schedule time.
func (p AttemptsPolicy) GapBefore(attempt int) time.Duration {
	var total time.Duration
	for k := 1; k < attempt; k++ {
		total += p.gapAt(k - 1)
	}
	return total
}

func (p AttemptsPolicy) gapAt(i int) time.Duration {
	if len(p.Gaps) == 0 {
		return 0
	}
	if i >= len(p.Gaps) {
		return p.Gaps[len(p.Gaps)-1]
	}
	return p.Gaps[i]
}

// WorkdayWindow bounds call times within a day, in the test's timezone.
type WorkdayWindow struct {
	Start string `json:"start" yaml:"start"` // "09:00"
	End   string `json:"end" yaml:"end"`     // "17:00"
}

// WavePlan releases leads in fixed-size batches with their own policy.
type WavePlan struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	WaveSize int  `json:"wave_size" yaml:"wave_size"`
	// TargetRate is the wave's target calls per second (0 = inherit).
	TargetRate float64 `json:"target_rate,omitempty" yaml:"target_rate,omitempty"`
	// Window overrides the test workday window for all waves when set.
	Window *WorkdayWindow `json:"window,omitempty" yaml:"window,omitempty"`
	// Stagger delays each subsequent wave's base time.
	Stagger time.Duration `json:"stagger,omitempty" yaml:"stagger,omitempty"`
}

// NudgeChannel is the secondary messaging channel for a nudge.
type NudgeChannel string

const (
	ChannelChat  NudgeChannel = "chat"
	ChannelEmail NudgeChannel = "email"
)

// NudgeTrigger is the closed set of nudge conditions.
type NudgeTrigger string

const (
	// TriggerFailedAfterAttempt sends a nudge once a lead's attempt N (or
	// later) ends unsuccessfully.
	TriggerFailedAfterAttempt NudgeTrigger = "failed_after_attempt"
)

// NudgeRule sends a best-effort message to a lead after unsuccessful calls.
type NudgeRule struct {
	Trigger      NudgeTrigger `json:"trigger" yaml:"trigger"`
	AfterAttempt int          `json:"after_attempt" yaml:"after_attempt"`
	Channel      NudgeChannel `json:"channel" yaml:"channel"`
	Template     string       `json:"template" yaml:"template"`
}

// TestConfig is the full configuration surface of one experiment.
type TestConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Timezone string        `json:"timezone" yaml:"timezone"`
	Workday  WorkdayWindow `json:"workday" yaml:"workday"`

	GroupA GroupConfig `json:"group_a" yaml:"group_a"`
	GroupB GroupConfig `json:"group_b" yaml:"group_b"`

	Leads      []Lead           `json:"leads" yaml:"leads"`
	Assignment AssignmentConfig `json:"assignment" yaml:"assignment"`
	Attempts   AttemptsPolicy   `json:"attempts" yaml:"attempts"`

	Waves  *WavePlan   `json:"waves,omitempty" yaml:"waves,omitempty"`
	Nudges []NudgeRule `json:"nudges,omitempty" yaml:"nudges,omitempty"`

	SpamControl *quality.Config   `json:"spam_control,omitempty" yaml:"spam_control,omitempty"`
	StopRules   *stoprules.Config `json:"stop_rules,omitempty" yaml:"stop_rules,omitempty"`

	// MaxCallsPerHourPerLine is the compliance cap feeding the rate limiter
	// (0 = no per-line cap).
	MaxCallsPerHourPerLine int `json:"max_calls_per_hour_per_line,omitempty" yaml:"max_calls_per_hour_per_line,omitempty"`
}

// GroupFor returns the group config for a label.
func (c *TestConfig) GroupFor(g core.Group) GroupConfig {
	if g == core.GroupA {
		return c.GroupA
	}
	return c.GroupB
}

// LeadByID finds a lead in the configured list.
func (c *TestConfig) LeadByID(id core.LeadID) (Lead, bool) {
	for _, l := range c.Leads {
		if l.ID == id {
			return l, true
		}
	}
	return Lead{}, false
}

// TestState is the long-lived mutable aggregate for one experiment, held in
// memory for the lifetime of the run.
type TestState struct {
	ID     core.TestID `json:"id"`
	Status Status      `json:"status"`

	Config      TestConfig   `json:"config"`
	Assignments []Assignment `json:"assignments"`

	CurrentMetrics metrics.Aggregated `json:"current_metrics"`

	// ScheduledTotal is the size of the generated call set at the last
	// (re)start; the live queue is owned by the runner's scheduler.
	ScheduledTotal int `json:"scheduled_total"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastError carries the human-readable reason for rule-triggered
	// transitions and unrecoverable failures.
	LastError string `json:"last_error,omitempty"`
}

// GroupCounts tallies assignments per group.
func (s *TestState) GroupCounts() (a, b int) {
	for _, asg := range s.Assignments {
		if asg.Group == core.GroupA {
			a++
		} else {
			b++
		}
	}
	return a, b
}
