package metrics

import (
	"strings"
	"testing"
	"time"

	"callsplit/domain/core"
)

// fill records n calls per group with the given number of answers.
func fill(t *testing.T, s *Service, group core.Group, total, answered int) {
	t.Helper()
	base := 0
	if group == core.GroupB {
		base = 1000
	}
	for i := 0; i < total; i++ {
		outcome := OutcomeNoAnswer
		var d time.Duration
		if i < answered {
			outcome = OutcomeAnswered
			d = time.Minute
		}
		record(t, s, call(base+i, group, outcome, d))
	}
}

func TestCompare_UnderSampleSizeNeverSignificant(t *testing.T) {
	s, _ := newTestService()
	// 29 calls per group, wildly different rates.
	fill(t, s, core.GroupA, 29, 25)
	fill(t, s, core.GroupB, 29, 2)

	cmp := s.Compare(testID)
	if cmp.StatisticalSignificance {
		t.Errorf("under 30 calls per group must not be significant, got %+v", cmp)
	}
	if cmp.Winner != WinnerTie {
		t.Errorf("winner = %s, want tie", cmp.Winner)
	}
	if !strings.Contains(cmp.Recommendation, "Not enough data") {
		t.Errorf("expected a keep-running recommendation, got %q", cmp.Recommendation)
	}
}

func TestCompare_SignificantWinnerA(t *testing.T) {
	s, _ := newTestService()
	// A: 75% answer rate, B: 25%. Both over the sample floor.
	fill(t, s, core.GroupA, 40, 30)
	fill(t, s, core.GroupB, 40, 10)

	cmp := s.Compare(testID)
	if !cmp.StatisticalSignificance {
		t.Fatalf("expected significance, got %+v", cmp)
	}
	if cmp.ConfidenceLevel != 95.0 {
		t.Errorf("confidence = %v, want 95", cmp.ConfidenceLevel)
	}
	if cmp.Winner != WinnerA {
		t.Errorf("winner = %s, want A", cmp.Winner)
	}
	if cmp.AnswerRateDelta != 0.5 {
		t.Errorf("answer rate delta = %v, want 0.5", cmp.AnswerRateDelta)
	}
	if cmp.PValue >= 0.05 {
		t.Errorf("a 50-point gap over 40 calls should have a tiny p-value, got %v", cmp.PValue)
	}
	if !strings.Contains(cmp.Recommendation, "Group A outperforms") {
		t.Errorf("unexpected recommendation: %q", cmp.Recommendation)
	}
}

func TestCompare_SmallRelativeDiffStaysTied(t *testing.T) {
	s, _ := newTestService()
	// 50% vs 48%: relative difference 4%, under the 10% bar.
	fill(t, s, core.GroupA, 50, 25)
	fill(t, s, core.GroupB, 50, 24)

	cmp := s.Compare(testID)
	if cmp.StatisticalSignificance {
		t.Errorf("4%% relative difference must not be significant")
	}
	if cmp.Winner != WinnerTie {
		t.Errorf("winner = %s, want tie", cmp.Winner)
	}
}

func TestCompare_SignificantButNarrowGapHasNoWinner(t *testing.T) {
	s, _ := newTestService()
	// 30% vs 26%: relative diff ~13.3% (significant) but the absolute gap of
	// 4 points is under the 5-point winner threshold.
	fill(t, s, core.GroupA, 100, 30)
	fill(t, s, core.GroupB, 100, 26)

	cmp := s.Compare(testID)
	if !cmp.StatisticalSignificance {
		t.Fatalf("expected significance at 13%% relative difference")
	}
	if cmp.Winner != WinnerTie {
		t.Errorf("winner = %s, want tie under the absolute gap floor", cmp.Winner)
	}
}

func TestCompare_EmptyLedger(t *testing.T) {
	s, _ := newTestService()
	cmp := s.Compare(testID)

	if cmp.StatisticalSignificance || cmp.Winner != WinnerTie {
		t.Errorf("empty ledger must compare as an insignificant tie, got %+v", cmp)
	}
	if cmp.PValue != 1 {
		t.Errorf("degenerate p-value = %v, want 1", cmp.PValue)
	}
}
