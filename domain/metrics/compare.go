package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"callsplit/domain/core"
)

const (
	// minSampleSize is the per-group call count both groups must reach before
	// a difference is declared significant.
	minSampleSize = 30
	// minRelativeDiff is the minimum relative answer-rate difference.
	minRelativeDiff = 0.10
	// minWinnerGap is the absolute answer-rate gap needed to declare a winner.
	minWinnerGap = 0.05
	// fixedConfidence is reported whenever the heuristic declares significance.
	fixedConfidence = 95.0
)

// Compare produces the pairwise A-vs-B comparison for a test.
//
// Significance is a heuristic gate (both groups >= 30 calls and relative
// answer-rate difference >= 10%), not a hypothesis test. The two-proportion
// z-test p-value is attached for operators but never drives the flag or the
// winner.
func (s *Service) Compare(testID core.TestID) Comparison {
	a := s.AggregateGroup(testID, core.GroupA)
	b := s.AggregateGroup(testID, core.GroupB)

	cmp := Comparison{
		TestID:             testID,
		GroupA:             a,
		GroupB:             b,
		AnswerRateDelta:    a.AnswerRate - b.AnswerRate,
		ConnectRateDelta:   a.ConnectRate - b.ConnectRate,
		SpamBlockRateDelta: a.SpamBlockRate - b.SpamBlockRate,
		AvgDurationDelta:   a.AvgDuration - b.AvgDuration,
		Winner:             WinnerTie,
	}

	cmp.PValue = twoProportionPValue(
		a.Count(OutcomeAnswered), a.Total,
		b.Count(OutcomeAnswered), b.Total,
	)

	if a.Total >= minSampleSize && b.Total >= minSampleSize {
		if rel := relativeDiff(a.AnswerRate, b.AnswerRate); rel >= minRelativeDiff {
			cmp.StatisticalSignificance = true
			cmp.ConfidenceLevel = fixedConfidence
		}
	}

	if cmp.StatisticalSignificance && math.Abs(cmp.AnswerRateDelta) >= minWinnerGap {
		if a.AnswerRate > b.AnswerRate {
			cmp.Winner = WinnerA
		} else {
			cmp.Winner = WinnerB
		}
	}

	cmp.Recommendation = recommend(cmp)
	return cmp
}

// relativeDiff returns |a-b| relative to the larger rate; zero rates on both
// sides yield zero.
func relativeDiff(a, b float64) float64 {
	max := math.Max(a, b)
	if max == 0 {
		return 0
	}
	return math.Abs(a-b) / max
}

// twoProportionPValue computes the pooled two-proportion z-test p-value for
// the answer rates. Degenerate inputs return 1.
func twoProportionPValue(successA, totalA, successB, totalB int) float64 {
	if totalA == 0 || totalB == 0 {
		return 1
	}
	p1 := float64(successA) / float64(totalA)
	p2 := float64(successB) / float64(totalB)
	pooled := float64(successA+successB) / float64(totalA+totalB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(totalA) + 1/float64(totalB)))
	if se == 0 {
		return 1
	}
	z := math.Abs(p1-p2) / se
	return 2 * (1 - distuv.UnitNormal.CDF(z))
}

func recommend(cmp Comparison) string {
	switch cmp.Winner {
	case WinnerA:
		return fmt.Sprintf(
			"Group A outperforms group B on answer rate (%.1f%% vs %.1f%%, %.0f%% confidence). Adopt group A's origin line and script.",
			cmp.GroupA.AnswerRate*100, cmp.GroupB.AnswerRate*100, cmp.ConfidenceLevel)
	case WinnerB:
		return fmt.Sprintf(
			"Group B outperforms group A on answer rate (%.1f%% vs %.1f%%, %.0f%% confidence). Adopt group B's origin line and script.",
			cmp.GroupB.AnswerRate*100, cmp.GroupA.AnswerRate*100, cmp.ConfidenceLevel)
	default:
		if cmp.GroupA.Total < minSampleSize || cmp.GroupB.Total < minSampleSize {
			return fmt.Sprintf(
				"Not enough data: both groups need at least %d calls (A has %d, B has %d). Keep the test running.",
				minSampleSize, cmp.GroupA.Total, cmp.GroupB.Total)
		}
		return "No meaningful difference between groups yet. Keep the test running or stop and keep the current setup."
	}
}
