package stoprules

import (
	"fmt"
	"sync"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/metrics"
)

// Action is what a fired rule asks the runner to do. Rules are advisory; the
// runner owns the actual lifecycle transition.
type Action string

const (
	ActionNone  Action = "none"
	ActionPause Action = "pause"
	ActionStop  Action = "stop"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionNone || a == ActionPause || a == ActionStop
}

// Config holds the stop-rule thresholds.
type Config struct {
	// OnFirstFlag fires on the 0 -> >=1 spam flag transition.
	OnFirstFlag Action `json:"on_first_flag" yaml:"on_first_flag"`
	// OnSecondFlag fires on the transition to >=2 flags and overrides the
	// first-flag action.
	OnSecondFlag Action `json:"on_second_flag" yaml:"on_second_flag"`
	// MinPause is the minimum pause duration attached to a pause decision.
	MinPause time.Duration `json:"min_pause" yaml:"min_pause"`

	// OnAnswerRateDrop pauses when the answer rate falls this many fraction
	// points between snapshots (0 disables).
	OnAnswerRateDrop float64 `json:"on_answer_rate_drop" yaml:"on_answer_rate_drop"`
	// OnHangupOverAnswered pauses when the hangup rate over answered calls
	// reaches this fraction (0 disables).
	OnHangupOverAnswered float64 `json:"on_hangup_over_answered" yaml:"on_hangup_over_answered"`
}

// DefaultConfig returns the standard safety rules.
func DefaultConfig() Config {
	return Config{
		OnFirstFlag:          ActionPause,
		OnSecondFlag:         ActionStop,
		MinPause:             30 * time.Minute,
		OnAnswerRateDrop:     0.20,
		OnHangupOverAnswered: 0.50,
	}
}

// Validate checks actions and thresholds.
func (c Config) Validate() error {
	if c.OnFirstFlag != "" && !c.OnFirstFlag.Valid() {
		return fmt.Errorf("unknown first-flag action %q", c.OnFirstFlag)
	}
	if c.OnSecondFlag != "" && !c.OnSecondFlag.Valid() {
		return fmt.Errorf("unknown second-flag action %q", c.OnSecondFlag)
	}
	if c.OnAnswerRateDrop < 0 || c.OnAnswerRateDrop > 1 {
		return fmt.Errorf("answer-rate drop threshold must be within [0, 1]")
	}
	if c.OnHangupOverAnswered < 0 || c.OnHangupOverAnswered > 1 {
		return fmt.Errorf("hangup threshold must be within [0, 1]")
	}
	return nil
}

// Decision is the advisory verdict for one evaluation tick.
type Decision struct {
	ShouldStop   bool          `json:"should_stop"`
	ShouldPause  bool          `json:"should_pause"`
	ShouldNotify bool          `json:"should_notify"`
	Reason       string        `json:"reason,omitempty"`
	Action       Action        `json:"action"`
	PauseFor     time.Duration `json:"pause_for,omitempty"`
}

// fired reports whether any rule fired.
func (d Decision) fired() bool { return d.ShouldStop || d.ShouldPause || d.ShouldNotify }

// Evaluator compares each metrics snapshot against the previous one per test.
// Spam-flag rules are edge-triggered: each threshold crossing fires once.
type Evaluator struct {
	cfg  Config
	mu   sync.Mutex
	prev map[core.TestID]metrics.Aggregated
	seen map[core.TestID]bool
}

// NewEvaluator creates an evaluator with no history.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		cfg:  cfg,
		prev: make(map[core.TestID]metrics.Aggregated),
		seen: make(map[core.TestID]bool),
	}
}

// Evaluate runs the rules in fixed order: spam flags, answer-rate drop,
// hangup rate. The first rule that fires short-circuits the rest.
func (e *Evaluator) Evaluate(testID core.TestID, current metrics.Aggregated) Decision {
	e.mu.Lock()
	prev, hadPrev := e.prev[testID], e.seen[testID]
	e.prev[testID] = current
	e.seen[testID] = true
	e.mu.Unlock()

	if d := e.spamFlagRule(prev, current); d.fired() {
		return d
	}
	if hadPrev {
		if d := e.answerRateRule(prev, current); d.fired() {
			return d
		}
	}
	if d := e.hangupRule(current); d.fired() {
		return d
	}
	return Decision{Action: ActionNone}
}

// Seed primes the stored snapshot for a test so edge detection arms at the
// given level instead of zero. Used when evaluation restarts over a ledger
// that already holds outcomes: crossings that fired before the restart must
// not fire again.
func (e *Evaluator) Seed(testID core.TestID, agg metrics.Aggregated) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prev[testID] = agg
	e.seen[testID] = true
}

// Reset drops the stored snapshot for a test, re-arming edge detection.
func (e *Evaluator) Reset(testID core.TestID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.prev, testID)
	delete(e.seen, testID)
}

func (e *Evaluator) spamFlagRule(prev, current metrics.Aggregated) Decision {
	// Second-flag crossing overrides the first-flag action.
	if current.SpamFlags >= 2 && prev.SpamFlags < 2 {
		return e.decisionFor(e.cfg.OnSecondFlag,
			fmt.Sprintf("spam flags escalated to %d", current.SpamFlags))
	}
	if current.SpamFlags >= 1 && prev.SpamFlags == 0 {
		return e.decisionFor(e.cfg.OnFirstFlag,
			fmt.Sprintf("first spam flag detected (%d)", current.SpamFlags))
	}
	return Decision{Action: ActionNone}
}

func (e *Evaluator) answerRateRule(prev, current metrics.Aggregated) Decision {
	if e.cfg.OnAnswerRateDrop <= 0 || prev.Total == 0 || current.Total == 0 {
		return Decision{Action: ActionNone}
	}
	drop := prev.AnswerRate - current.AnswerRate
	if drop >= e.cfg.OnAnswerRateDrop {
		d := e.decisionFor(ActionPause,
			fmt.Sprintf("answer rate dropped %.1f points (%.1f%% -> %.1f%%)",
				drop*100, prev.AnswerRate*100, current.AnswerRate*100))
		d.ShouldNotify = true
		return d
	}
	return Decision{Action: ActionNone}
}

func (e *Evaluator) hangupRule(current metrics.Aggregated) Decision {
	if e.cfg.OnHangupOverAnswered <= 0 || current.Count(metrics.OutcomeAnswered) == 0 {
		return Decision{Action: ActionNone}
	}
	if current.HangupRate >= e.cfg.OnHangupOverAnswered {
		d := e.decisionFor(ActionPause,
			fmt.Sprintf("hangup rate %.1f%% over answered calls reached threshold %.1f%%",
				current.HangupRate*100, e.cfg.OnHangupOverAnswered*100))
		d.ShouldNotify = true
		return d
	}
	return Decision{Action: ActionNone}
}

func (e *Evaluator) decisionFor(action Action, reason string) Decision {
	d := Decision{Reason: reason, Action: action}
	switch action {
	case ActionStop:
		d.ShouldStop = true
		d.ShouldNotify = true
	case ActionPause:
		d.ShouldPause = true
		d.ShouldNotify = true
		d.PauseFor = e.cfg.MinPause
	case ActionNone:
		// Rule matched but is configured to do nothing.
		d.Action = ActionNone
	}
	return d
}
