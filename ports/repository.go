package ports

import (
	"context"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
)

// CallLogRepository provides append-only durable storage of executed call
// attempts. The core only holds working state in memory; durability belongs
// to the persistence layer behind this port.
type CallLogRepository interface {
	AppendCallMetric(ctx context.Context, m metrics.CallMetric) error
	ListCallMetrics(ctx context.Context, testID core.TestID) ([]metrics.CallMetric, error)
}

// ExperimentRepository stores test configuration, assignments and metrics
// snapshots for reporting.
type ExperimentRepository interface {
	SaveTest(ctx context.Context, state *experiment.TestState) error
	GetTest(ctx context.Context, id core.TestID) (*experiment.TestState, error)
	ListTests(ctx context.Context) ([]*experiment.TestState, error)
	DeleteTest(ctx context.Context, id core.TestID) error
	SaveMetricsSnapshot(ctx context.Context, testID core.TestID, agg metrics.Aggregated) error
}
