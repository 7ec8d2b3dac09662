// Package heuristic derives spam risk signals from raw telemetry documents.
package heuristic

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"

	"callsplit/domain/core"
	"callsplit/domain/quality"
)

// TelemetryFeed returns the raw JSON telemetry document for a query key,
// e.g. a carrier reputation API response. An empty document means no data.
type TelemetryFeed func(ctx context.Context, q quality.SpamQuery) (string, error)

// Source scores spam risk from telemetry JSON. It reads the provider's
// score and label fields without binding to a full schema, so provider
// payload drift does not break the gate.
type Source struct {
	feed TelemetryFeed
}

// New creates a telemetry-backed spam source.
func New(feed TelemetryFeed) *Source {
	return &Source{feed: feed}
}

var _ quality.SpamSource = (*Source)(nil)

// Evaluate fetches and scores the telemetry for one context key.
func (s *Source) Evaluate(ctx context.Context, q quality.SpamQuery) (*quality.SpamSignal, error) {
	if s.feed == nil {
		return nil, core.ErrSpamSourceUnavailable
	}
	doc, err := s.feed(ctx, q)
	if err != nil {
		return nil, err
	}
	if doc == "" {
		return &quality.SpamSignal{}, nil
	}
	return parseSignal(doc), nil
}

// parseSignal extracts score and labels from a telemetry document. Known
// layouts: a direct "score" field (0-100), a "risk" fraction (0-1), and
// per-source report counts that map onto a coarse score.
func parseSignal(doc string) *quality.SpamSignal {
	signal := &quality.SpamSignal{Telemetry: map[string]any{}}

	switch {
	case gjson.Get(doc, "score").Exists():
		signal.Score = gjson.Get(doc, "score").Float()
	case gjson.Get(doc, "risk").Exists():
		signal.Score = gjson.Get(doc, "risk").Float() * 100
	case gjson.Get(doc, "reports.total").Exists():
		signal.Score = scoreFromReports(gjson.Get(doc, "reports.total").Int())
	}

	for _, label := range gjson.Get(doc, "labels").Array() {
		signal.Labels = append(signal.Labels, label.String())
	}
	if flag := gjson.Get(doc, "flagged_as"); flag.Exists() {
		signal.Labels = append(signal.Labels, flag.String())
	}

	gjson.Parse(doc).ForEach(func(key, value gjson.Result) bool {
		signal.Telemetry[key.String()] = value.Value()
		return true
	})
	return signal
}

// scoreFromReports maps a raw complaint count onto the 0-100 scale.
func scoreFromReports(reports int64) float64 {
	switch {
	case reports <= 0:
		return 0
	case reports < 5:
		return 30
	case reports < 20:
		return 60
	default:
		return 90
	}
}

// Static is a fixed-score spam source for tests and dry runs. Scores are
// keyed by query key; unknown keys report zero risk.
type Static struct {
	mu     sync.RWMutex
	scores map[string]float64
	labels map[string][]string
	err    error
}

// NewStatic creates a static source from a key-to-score map.
func NewStatic(scores map[string]float64) *Static {
	if scores == nil {
		scores = make(map[string]float64)
	}
	return &Static{scores: scores, labels: make(map[string][]string)}
}

var _ quality.SpamSource = (*Static)(nil)

// SetScore updates the score for a key.
func (s *Static) SetScore(key string, score float64, labels ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[key] = score
	s.labels[key] = labels
}

// Fail makes every evaluation return the given error until cleared with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) Evaluate(ctx context.Context, q quality.SpamQuery) (*quality.SpamSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	return &quality.SpamSignal{
		Score:  s.scores[q.Key],
		Labels: append([]string(nil), s.labels[q.Key]...),
	}, nil
}
