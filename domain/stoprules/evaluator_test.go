package stoprules

import (
	"testing"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/metrics"
)

const testID = core.TestID("test-1")

func snapshot(total, spamFlags, answered int, answerRate, hangupRate float64) metrics.Aggregated {
	return metrics.Aggregated{
		TestID:     testID,
		Total:      total,
		SpamFlags:  spamFlags,
		AnswerRate: answerRate,
		HangupRate: hangupRate,
		ByOutcome:  map[metrics.Outcome]int{metrics.OutcomeAnswered: answered},
	}
}

func TestEvaluate_SpamFlagEdges(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	// 0 flags: nothing fires.
	if d := e.Evaluate(testID, snapshot(10, 0, 5, 0.5, 0)); d.fired() {
		t.Fatalf("no flags should not fire, got %+v", d)
	}

	// 0 -> 1: pause once.
	d := e.Evaluate(testID, snapshot(12, 1, 6, 0.5, 0))
	if !d.ShouldPause || d.ShouldStop {
		t.Fatalf("first flag should pause, got %+v", d)
	}
	if d.PauseFor != 30*time.Minute {
		t.Errorf("expected the configured minimum pause, got %v", d.PauseFor)
	}

	// Still 1: edge already consumed.
	if d := e.Evaluate(testID, snapshot(14, 1, 7, 0.5, 0)); d.fired() {
		t.Fatalf("steady flag count must not re-fire, got %+v", d)
	}

	// 1 -> 2: stop.
	d = e.Evaluate(testID, snapshot(16, 2, 8, 0.5, 0))
	if !d.ShouldStop {
		t.Fatalf("second flag should stop, got %+v", d)
	}

	// Still 2: quiet again.
	if d := e.Evaluate(testID, snapshot(18, 2, 9, 0.5, 0)); d.fired() {
		t.Fatalf("steady second flag must not re-fire, got %+v", d)
	}
}

func TestEvaluate_JumpStraightToTwoFlagsUsesSecondAction(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.Evaluate(testID, snapshot(10, 0, 5, 0.5, 0))

	d := e.Evaluate(testID, snapshot(12, 2, 6, 0.5, 0))
	if !d.ShouldStop {
		t.Fatalf("0 -> 2 jump should apply the second-flag action, got %+v", d)
	}
}

func TestEvaluate_FirstSnapshotSpamFlagStillFires(t *testing.T) {
	// A test whose very first snapshot already carries a flag must not slip
	// through edge detection.
	e := NewEvaluator(DefaultConfig())
	d := e.Evaluate(testID, snapshot(5, 1, 2, 0.4, 0))
	if !d.ShouldPause {
		t.Fatalf("first snapshot with a flag should pause, got %+v", d)
	}
}

func TestEvaluate_AnswerRateDrop(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.Evaluate(testID, snapshot(40, 0, 20, 0.50, 0))

	// 15-point drop stays under the 20-point threshold.
	if d := e.Evaluate(testID, snapshot(60, 0, 21, 0.35, 0)); d.fired() {
		t.Fatalf("drop under threshold must not fire, got %+v", d)
	}

	// A further drop past the threshold pauses.
	d := e.Evaluate(testID, snapshot(80, 0, 22, 0.10, 0))
	if !d.ShouldPause || !d.ShouldNotify {
		t.Fatalf("answer-rate collapse should pause and notify, got %+v", d)
	}
}

func TestEvaluate_AnswerRateNeedsHistory(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	// First snapshot: no baseline yet, a low rate alone is not a drop.
	if d := e.Evaluate(testID, snapshot(50, 0, 5, 0.10, 0)); d.fired() {
		t.Fatalf("first snapshot must not trigger the drop rule, got %+v", d)
	}
}

func TestEvaluate_HangupRate(t *testing.T) {
	e := NewEvaluator(DefaultConfig())

	// No answered calls: the rule stays quiet regardless of the ratio.
	if d := e.Evaluate(testID, snapshot(10, 0, 0, 0, 0.9)); d.fired() {
		t.Fatalf("hangup rule needs answered calls, got %+v", d)
	}

	d := e.Evaluate(testID, snapshot(20, 0, 10, 0.5, 0.6))
	if !d.ShouldPause {
		t.Fatalf("hangup rate over threshold should pause, got %+v", d)
	}
}

func TestEvaluate_SpamRuleShortCircuitsLaterRules(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.Evaluate(testID, snapshot(40, 0, 20, 0.50, 0))

	// Both the flag edge and the answer-rate drop are present; the flag rule
	// runs first and its stop action wins.
	d := e.Evaluate(testID, snapshot(60, 2, 21, 0.10, 0.9))
	if !d.ShouldStop {
		t.Fatalf("expected the spam rule's stop, got %+v", d)
	}
	if d.Action != ActionStop {
		t.Errorf("action = %s, want stop", d.Action)
	}
}

func TestEvaluate_ConfiguredNoneDisablesFlagRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OnFirstFlag = ActionNone
	e := NewEvaluator(cfg)
	e.Evaluate(testID, snapshot(10, 0, 5, 0.5, 0))

	if d := e.Evaluate(testID, snapshot(12, 1, 6, 0.5, 0)); d.fired() {
		t.Fatalf("first flag with action none must not fire, got %+v", d)
	}
}

func TestSeed_ArmsEdgesAtLedgerLevel(t *testing.T) {
	// A restart over a ledger that already holds flags must not re-fire the
	// crossings consumed before the restart.
	e := NewEvaluator(DefaultConfig())
	e.Seed(testID, snapshot(12, 3, 6, 0.5, 0))

	if d := e.Evaluate(testID, snapshot(12, 3, 6, 0.5, 0)); d.fired() {
		t.Fatalf("seeded flag count must not re-fire, got %+v", d)
	}
}

func TestSeed_LaterCrossingsStillFire(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.Seed(testID, snapshot(10, 1, 5, 0.5, 0))

	if d := e.Evaluate(testID, snapshot(12, 1, 6, 0.5, 0)); d.fired() {
		t.Fatalf("seeded first flag must not re-fire, got %+v", d)
	}
	d := e.Evaluate(testID, snapshot(14, 2, 7, 0.5, 0))
	if !d.ShouldStop {
		t.Fatalf("crossing the second threshold after seeding should stop, got %+v", d)
	}
}

func TestReset_ReArmsEdges(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	e.Evaluate(testID, snapshot(10, 1, 5, 0.5, 0))
	e.Evaluate(testID, snapshot(12, 1, 6, 0.5, 0))

	e.Reset(testID)

	d := e.Evaluate(testID, snapshot(14, 1, 7, 0.5, 0))
	if !d.ShouldPause {
		t.Fatalf("after reset the standing flag should fire again, got %+v", d)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"bad first action", func(c *Config) { c.OnFirstFlag = "explode" }, true},
		{"bad second action", func(c *Config) { c.OnSecondFlag = "explode" }, true},
		{"drop out of range", func(c *Config) { c.OnAnswerRateDrop = 1.5 }, true},
		{"hangup out of range", func(c *Config) { c.OnHangupOverAnswered = -0.1 }, true},
		{"zero thresholds disable", func(c *Config) { c.OnAnswerRateDrop = 0; c.OnHangupOverAnswered = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
