package quality

import (
	"context"
	"fmt"
	"time"
)

// Policy controls when spam evaluation applies.
type Policy string

const (
	// PolicyPreCall evaluates per lead/line before each call.
	PolicyPreCall Policy = "pre_call_gate"
	// PolicyPreWave evaluates per wave only.
	PolicyPreWave Policy = "pre_wave_gate"
	// PolicyPostEvent never gates admission; signals are evaluated after the fact.
	PolicyPostEvent Policy = "post_event_eval"
	// PolicyMixed always evaluates.
	PolicyMixed Policy = "mixed"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyPreCall, PolicyPreWave, PolicyPostEvent, PolicyMixed:
		return true
	}
	return false
}

// Classification is the closed set of threshold outcomes.
type Classification int

const (
	ClassOK Classification = iota
	ClassWarn
	ClassSlow
	ClassBlock
)

func (c Classification) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassWarn:
		return "warn"
	case ClassSlow:
		return "slow"
	case ClassBlock:
		return "block"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// BlockAction is the closed set of business actions for a block classification.
type BlockAction int

const (
	BlockSkipCall BlockAction = iota
	BlockPauseCLI
	BlockReassign
	BlockQueueReview
)

func (a BlockAction) String() string {
	switch a {
	case BlockSkipCall:
		return "skip_call"
	case BlockPauseCLI:
		return "pause_cli"
	case BlockReassign:
		return "reassign"
	case BlockQueueReview:
		return "queue_review"
	default:
		return fmt.Sprintf("block_action(%d)", int(a))
	}
}

// SlowAction is the closed set of business actions for a slow classification.
type SlowAction int

const (
	SlowDownshiftRate SlowAction = iota
	SlowNotify
)

func (a SlowAction) String() string {
	switch a {
	case SlowDownshiftRate:
		return "downshift_rate"
	case SlowNotify:
		return "notify"
	default:
		return fmt.Sprintf("slow_action(%d)", int(a))
	}
}

// WarnAction is the closed set of business actions for a warn classification.
type WarnAction int

const (
	WarnLogOnly WarnAction = iota
	WarnNotify
)

func (a WarnAction) String() string {
	switch a {
	case WarnLogOnly:
		return "log_only"
	case WarnNotify:
		return "notify"
	default:
		return fmt.Sprintf("warn_action(%d)", int(a))
	}
}

// ParseBlockAction maps a config string onto a BlockAction.
func ParseBlockAction(s string) (BlockAction, error) {
	switch s {
	case "", "skip_call":
		return BlockSkipCall, nil
	case "pause_cli":
		return BlockPauseCLI, nil
	case "reassign":
		return BlockReassign, nil
	case "queue_review":
		return BlockQueueReview, nil
	default:
		return BlockSkipCall, fmt.Errorf("unknown block action %q", s)
	}
}

// ParseSlowAction maps a config string onto a SlowAction.
func ParseSlowAction(s string) (SlowAction, error) {
	switch s {
	case "", "downshift_rate":
		return SlowDownshiftRate, nil
	case "notify":
		return SlowNotify, nil
	default:
		return SlowDownshiftRate, fmt.Errorf("unknown slow action %q", s)
	}
}

// ParseWarnAction maps a config string onto a WarnAction.
func ParseWarnAction(s string) (WarnAction, error) {
	switch s {
	case "", "log_only":
		return WarnLogOnly, nil
	case "notify":
		return WarnNotify, nil
	default:
		return WarnLogOnly, fmt.Errorf("unknown warn action %q", s)
	}
}

// Config holds spam-control thresholds and the action bound to each tier.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Policy  Policy `json:"policy" yaml:"policy"`

	// Scores at or above each threshold classify into the tier.
	WarnAbove  float64 `json:"warn_above" yaml:"warn_above"`
	SlowAbove  float64 `json:"slow_above" yaml:"slow_above"`
	BlockAbove float64 `json:"block_above" yaml:"block_above"`

	OnBlock BlockAction `json:"on_block" yaml:"on_block"`
	OnSlow  SlowAction  `json:"on_slow" yaml:"on_slow"`
	OnWarn  WarnAction  `json:"on_warn" yaml:"on_warn"`
}

// DefaultConfig returns the standard spam-control setup.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Policy:     PolicyPreCall,
		WarnAbove:  40,
		SlowAbove:  60,
		BlockAbove: 80,
		OnBlock:    BlockSkipCall,
		OnSlow:     SlowDownshiftRate,
		OnWarn:     WarnLogOnly,
	}
}

// Validate checks threshold ordering and the policy.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.Policy.Valid() {
		return fmt.Errorf("unknown quality gate policy %q", c.Policy)
	}
	if c.WarnAbove <= 0 || c.SlowAbove <= 0 || c.BlockAbove <= 0 {
		return fmt.Errorf("quality gate thresholds must be positive")
	}
	if !(c.WarnAbove < c.SlowAbove && c.SlowAbove < c.BlockAbove) {
		return fmt.Errorf("quality gate thresholds must satisfy warn < slow < block")
	}
	return nil
}

// SpamContext scopes a spam signal lookup.
type SpamContext string

const (
	ContextCLI  SpamContext = "cli"
	ContextLead SpamContext = "lead"
	ContextWave SpamContext = "wave"
)

// SpamQuery asks the signal source about one context.
type SpamQuery struct {
	Context SpamContext
	Key     string
	Window  time.Duration
}

// SpamSignal is the raw risk report from the external source.
type SpamSignal struct {
	Score     float64
	Labels    []string
	Telemetry map[string]any
}

// SpamSource is the external spam signal provider the gate consults.
type SpamSource interface {
	Evaluate(ctx context.Context, q SpamQuery) (*SpamSignal, error)
}

// Result is the admission decision for one evaluation.
type Result struct {
	Allowed  bool              `json:"allowed"`
	Class    Classification    `json:"-"`
	Action   string            `json:"action"`
	Reason   string            `json:"reason"`
	Score    float64           `json:"score"`
	Labels   []string          `json:"labels,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
