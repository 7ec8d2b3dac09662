package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"callsplit/domain/core"
)

// hangupFloor is the duration under which an answered call counts as a hangup.
const hangupFloor = 10 * time.Second

// Service keeps the append-only call-outcome ledger per test and recomputes
// rollups on every insert. Safe for concurrent use across test loops.
type Service struct {
	mu     sync.RWMutex
	ledger map[core.TestID][]CallMetric
	clock  core.Clock
}

// NewService creates an empty metrics service.
func NewService(clock core.Clock) *Service {
	if clock == nil {
		clock = core.SystemClock()
	}
	return &Service{
		ledger: make(map[core.TestID][]CallMetric),
		clock:  clock,
	}
}

// Record appends one call metric and returns the fresh overall rollup.
func (s *Service) Record(m CallMetric) (Aggregated, error) {
	if m.TestID == "" {
		return Aggregated{}, fmt.Errorf("call metric missing test id")
	}
	if !m.Outcome.Valid() {
		return Aggregated{}, fmt.Errorf("unknown outcome %q", m.Outcome)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[m.TestID] = append(s.ledger[m.TestID], m)
	return aggregate(m.TestID, "", s.ledger[m.TestID], s.clock.Now()), nil
}

// Aggregate returns the overall rollup for a test.
func (s *Service) Aggregate(testID core.TestID) Aggregated {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate(testID, "", s.ledger[testID], s.clock.Now())
}

// AggregateGroup returns the rollup restricted to one group.
func (s *Service) AggregateGroup(testID core.TestID, group core.Group) Aggregated {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aggregate(testID, group, filterGroup(s.ledger[testID], group), s.clock.Now())
}

// Metrics returns a copy of the ledger for a test, in insertion order.
func (s *Service) Metrics(testID core.TestID) []CallMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallMetric, len(s.ledger[testID]))
	copy(out, s.ledger[testID])
	return out
}

// Count returns the number of recorded call metrics for a test.
func (s *Service) Count(testID core.TestID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ledger[testID])
}

// TimeSeries aggregates fixed-width buckets over [from, to). Each bucket is
// independently aggregated from its slice of the ledger.
func (s *Service) TimeSeries(testID core.TestID, gran Granularity, from, to time.Time) []TimeBucket {
	width := gran.Width()
	if !to.After(from) || width <= 0 {
		return nil
	}

	s.mu.RLock()
	ms := make([]CallMetric, len(s.ledger[testID]))
	copy(ms, s.ledger[testID])
	s.mu.RUnlock()

	now := s.clock.Now()
	var buckets []TimeBucket
	for start := from; start.Before(to); start = start.Add(width) {
		end := start.Add(width)
		if end.After(to) {
			end = to
		}
		var slice []CallMetric
		for _, m := range ms {
			if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
				slice = append(slice, m)
			}
		}
		buckets = append(buckets, TimeBucket{
			Start:      start,
			End:        end,
			Aggregated: aggregate(testID, "", slice, now),
		})
	}
	return buckets
}

// ExportHeader is the column order of Export rows.
var ExportHeader = []string{
	"call_id", "test_id", "lead_id", "group", "outcome",
	"duration_seconds", "attempt", "timestamp", "spam_score", "spam_labels", "error",
}

// Export flattens the ledger to delimited rows for offline analysis. The
// first row is the header.
func (s *Service) Export(testID core.TestID) [][]string {
	ms := s.Metrics(testID)
	rows := make([][]string, 0, len(ms)+1)
	rows = append(rows, ExportHeader)
	for _, m := range ms {
		rows = append(rows, []string{
			m.CallID.String(),
			m.TestID.String(),
			m.LeadID.String(),
			m.Group.String(),
			string(m.Outcome),
			fmt.Sprintf("%.1f", m.Duration.Seconds()),
			fmt.Sprintf("%d", m.Attempt),
			m.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%.1f", m.SpamScore),
			strings.Join(m.SpamLabels, "|"),
			m.Error,
		})
	}
	return rows
}

func filterGroup(ms []CallMetric, group core.Group) []CallMetric {
	var out []CallMetric
	for _, m := range ms {
		if m.Group == group {
			out = append(out, m)
		}
	}
	return out
}

// aggregate recomputes the full rollup from a metric slice. A zero-call slice
// yields zero rates, never a division by zero.
func aggregate(testID core.TestID, group core.Group, ms []CallMetric, now time.Time) Aggregated {
	agg := Aggregated{
		TestID:    testID,
		Group:     group,
		ByOutcome: make(map[Outcome]int),
		UpdatedAt: now,
	}
	if len(ms) == 0 {
		return agg
	}

	leads := make(map[core.LeadID]bool)
	answeredLeads := make(map[core.LeadID]bool)
	var answeredDurations []float64
	hangups := 0

	for _, m := range ms {
		agg.Total++
		agg.ByOutcome[m.Outcome]++
		agg.TotalDuration += m.Duration
		leads[m.LeadID] = true

		if m.Outcome == OutcomeAnswered {
			answeredLeads[m.LeadID] = true
			answeredDurations = append(answeredDurations, m.Duration.Seconds())
			if m.Duration < hangupFloor {
				hangups++
			}
		}
		if m.spamFlagged() {
			agg.SpamFlags++
		}
		if agg.WindowStart.IsZero() || m.Timestamp.Before(agg.WindowStart) {
			agg.WindowStart = m.Timestamp
		}
		if m.Timestamp.After(agg.WindowEnd) {
			agg.WindowEnd = m.Timestamp
		}
	}

	total := float64(agg.Total)
	answered := agg.ByOutcome[OutcomeAnswered]
	agg.AnswerRate = float64(answered) / total
	agg.ConnectRate = float64(answered+agg.ByOutcome[OutcomeVoicemail]) / total
	agg.SpamBlockRate = float64(agg.ByOutcome[OutcomeSpamBlocked]) / total
	if answered > 0 {
		agg.HangupRate = float64(hangups) / float64(answered)
	}
	agg.DistinctLeads = len(leads)
	agg.DistinctAnswered = len(answeredLeads)

	// Duration stats count answered calls only.
	if len(answeredDurations) > 0 {
		sort.Float64s(answeredDurations)
		mean, _ := stats.Mean(answeredDurations)
		median, _ := stats.Median(answeredDurations)
		p95, _ := stats.Percentile(answeredDurations, 95)
		agg.AvgDuration = secondsToDuration(mean)
		agg.MedianDuration = secondsToDuration(median)
		agg.P95Duration = secondsToDuration(p95)
	}
	return agg
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
