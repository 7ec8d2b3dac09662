package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"callsplit/domain/core"
	"callsplit/domain/metrics"
	"callsplit/models"
	"callsplit/ports"
)

// CallLogRepositoryImpl implements CallLogRepository for PostgreSQL
type CallLogRepositoryImpl struct {
	db *sqlx.DB
}

// NewCallLogRepository creates a new PostgreSQL call log repository
func NewCallLogRepository(db *sqlx.DB) ports.CallLogRepository {
	return &CallLogRepositoryImpl{db: db}
}

// AppendCallMetric writes one executed call attempt. The log is append-only;
// a replayed call ID is a no-op.
func (r *CallLogRepositoryImpl) AppendCallMetric(ctx context.Context, m metrics.CallMetric) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_log (
			call_id, test_id, lead_id, group_label, outcome, duration_ms,
			attempt, occurred_at, spam_score, spam_labels, call_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_id) DO NOTHING`,
		m.CallID.String(), m.TestID.String(), m.LeadID.String(), string(m.Group),
		string(m.Outcome), m.Duration.Milliseconds(), m.Attempt, m.Timestamp,
		m.SpamScore, models.JSONBStrings(m.SpamLabels), m.Error)
	return err
}

// ListCallMetrics returns the full call log of a test in execution order.
func (r *CallLogRepositoryImpl) ListCallMetrics(ctx context.Context, testID core.TestID) ([]metrics.CallMetric, error) {
	var rows []models.CallLogRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT call_id, test_id, lead_id, group_label, outcome, duration_ms,
		       attempt, occurred_at, spam_score, spam_labels, call_error
		FROM call_log WHERE test_id = $1 ORDER BY occurred_at ASC`, testID.String())
	if err != nil {
		return nil, err
	}
	out := make([]metrics.CallMetric, 0, len(rows))
	for _, row := range rows {
		out = append(out, metrics.CallMetric{
			CallID:     core.CallID(row.CallID),
			TestID:     core.TestID(row.TestID),
			LeadID:     core.LeadID(row.LeadID),
			Group:      core.Group(row.GroupLabel),
			Outcome:    metrics.Outcome(row.Outcome),
			Duration:   time.Duration(row.DurationMS) * time.Millisecond,
			Attempt:    row.Attempt,
			Timestamp:  row.OccurredAt,
			SpamScore:  row.SpamScore,
			SpamLabels: []string(row.SpamLabels),
			Error:      row.CallError,
		})
	}
	return out, nil
}
