package metrics

import (
	"time"

	"callsplit/domain/core"
)

// Outcome is the terminal result of one executed call attempt.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeNoAnswer    Outcome = "no_answer"
	OutcomeBusy        Outcome = "busy"
	OutcomeFailed      Outcome = "failed"
	OutcomeRejected    Outcome = "rejected"
	OutcomeVoicemail   Outcome = "voicemail"
	OutcomeSpamBlocked Outcome = "spam_blocked"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAnswered, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed,
		OutcomeRejected, OutcomeVoicemail, OutcomeSpamBlocked:
		return true
	}
	return false
}

// CallMetric is one append-only record per executed call attempt.
type CallMetric struct {
	CallID     core.CallID   `json:"call_id"`
	TestID     core.TestID   `json:"test_id"`
	LeadID     core.LeadID   `json:"lead_id"`
	Group      core.Group    `json:"group"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration"`
	Attempt    int           `json:"attempt"`
	Timestamp  time.Time     `json:"timestamp"`
	SpamScore  float64       `json:"spam_score,omitempty"`
	SpamLabels []string      `json:"spam_labels,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// spamFlagged reports whether this record carries a spam signal.
func (m CallMetric) spamFlagged() bool {
	return m.Outcome == OutcomeSpamBlocked || len(m.SpamLabels) > 0
}

// Aggregated is the per-test (optionally per-group) rollup, recomputed on
// every insert.
type Aggregated struct {
	TestID core.TestID `json:"test_id"`
	// Group is empty for the overall rollup.
	Group core.Group `json:"group,omitempty"`

	Total     int             `json:"total"`
	ByOutcome map[Outcome]int `json:"by_outcome"`

	AnswerRate    float64 `json:"answer_rate"`
	ConnectRate   float64 `json:"connect_rate"`
	SpamBlockRate float64 `json:"spam_block_rate"`
	HangupRate    float64 `json:"hangup_rate"`

	AvgDuration    time.Duration `json:"avg_duration"`
	MedianDuration time.Duration `json:"median_duration"`
	P95Duration    time.Duration `json:"p95_duration"`
	TotalDuration  time.Duration `json:"total_duration"`

	DistinctLeads    int `json:"distinct_leads"`
	DistinctAnswered int `json:"distinct_answered"`
	SpamFlags        int `json:"spam_flags"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Count returns the tally for a single outcome.
func (a Aggregated) Count(o Outcome) int {
	if a.ByOutcome == nil {
		return 0
	}
	return a.ByOutcome[o]
}

// Winner identifies the better-performing group of a comparison.
type Winner string

const (
	WinnerA   Winner = "A"
	WinnerB   Winner = "B"
	WinnerTie Winner = "tie"
)

// Comparison is the pairwise A-vs-B diff of aggregated metrics.
type Comparison struct {
	TestID core.TestID `json:"test_id"`

	GroupA Aggregated `json:"group_a"`
	GroupB Aggregated `json:"group_b"`

	AnswerRateDelta    float64       `json:"answer_rate_delta"`
	ConnectRateDelta   float64       `json:"connect_rate_delta"`
	SpamBlockRateDelta float64       `json:"spam_block_rate_delta"`
	AvgDurationDelta   time.Duration `json:"avg_duration_delta"`

	// StatisticalSignificance uses the fixed sample-size/relative-difference
	// heuristic, not a hypothesis test. PValue is reported for operators only
	// and never feeds into the flag or the winner.
	StatisticalSignificance bool    `json:"statistical_significance"`
	ConfidenceLevel         float64 `json:"confidence_level"`
	PValue                  float64 `json:"p_value"`

	Winner         Winner `json:"winner"`
	Recommendation string `json:"recommendation"`
}

// Granularity selects the bucket width of a time-series rollup.
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// Width returns the bucket width for the granularity.
func (g Granularity) Width() time.Duration {
	if g == GranularityDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// TimeBucket is one fixed-width slice of the ledger, independently aggregated.
type TimeBucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Aggregated
}
