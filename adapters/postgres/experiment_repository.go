// Package postgres provides the PostgreSQL implementations of the storage
// ports using sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
	"callsplit/models"
	"callsplit/ports"
)

// ExperimentRepositoryImpl implements ExperimentRepository for PostgreSQL
type ExperimentRepositoryImpl struct {
	db *sqlx.DB
}

// NewExperimentRepository creates a new PostgreSQL experiment repository
func NewExperimentRepository(db *sqlx.DB) ports.ExperimentRepository {
	return &ExperimentRepositoryImpl{db: db}
}

// SaveTest upserts the full test state including config, assignments and the
// latest metrics snapshot.
func (r *ExperimentRepositoryImpl) SaveTest(ctx context.Context, state *experiment.TestState) error {
	configJSON, err := json.Marshal(state.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	assignmentsJSON, err := json.Marshal(state.Assignments)
	if err != nil {
		return fmt.Errorf("marshal assignments: %w", err)
	}
	metricsJSON, err := json.Marshal(state.CurrentMetrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO experiments (
			id, name, status, config, assignments, metrics, scheduled_total,
			last_error, created_at, started_at, paused_at, stopped_at,
			completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			assignments = EXCLUDED.assignments,
			metrics = EXCLUDED.metrics,
			scheduled_total = EXCLUDED.scheduled_total,
			last_error = EXCLUDED.last_error,
			started_at = EXCLUDED.started_at,
			paused_at = EXCLUDED.paused_at,
			stopped_at = EXCLUDED.stopped_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = NOW()`,
		state.ID.String(), state.Config.Name, string(state.Status), configJSON,
		assignmentsJSON, metricsJSON, state.ScheduledTotal, state.LastError,
		state.CreatedAt, state.StartedAt, state.PausedAt, state.StoppedAt,
		state.CompletedAt)
	return err
}

// GetTest retrieves one test by ID.
func (r *ExperimentRepositoryImpl) GetTest(ctx context.Context, id core.TestID) (*experiment.TestState, error) {
	var row models.TestRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, name, status, config, assignments, metrics, scheduled_total,
		       last_error, created_at, started_at, paused_at, stopped_at,
		       completed_at, updated_at
		FROM experiments WHERE id = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTestNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToState(&row)
}

// ListTests returns all stored tests, newest first.
func (r *ExperimentRepositoryImpl) ListTests(ctx context.Context) ([]*experiment.TestState, error) {
	var rows []models.TestRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, name, status, config, assignments, metrics, scheduled_total,
		       last_error, created_at, started_at, paused_at, stopped_at,
		       completed_at, updated_at
		FROM experiments ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]*experiment.TestState, 0, len(rows))
	for i := range rows {
		state, err := rowToState(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// DeleteTest removes a test and its call log.
func (r *ExperimentRepositoryImpl) DeleteTest(ctx context.Context, id core.TestID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrTestNotFound
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM call_log WHERE test_id = $1`, id.String())
	return err
}

// SaveMetricsSnapshot refreshes only the metrics document of a stored test.
func (r *ExperimentRepositoryImpl) SaveMetricsSnapshot(ctx context.Context, testID core.TestID, agg metrics.Aggregated) error {
	metricsJSON, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE experiments SET metrics = $2, updated_at = NOW() WHERE id = $1`,
		testID.String(), metricsJSON)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrTestNotFound
	}
	return nil
}

func rowToState(row *models.TestRow) (*experiment.TestState, error) {
	state := &experiment.TestState{
		ID:             core.TestID(row.ID),
		Status:         experiment.Status(row.Status),
		ScheduledTotal: row.Scheduled,
		LastError:      row.LastError,
		CreatedAt:      row.CreatedAt,
		StartedAt:      row.StartedAt,
		PausedAt:       row.PausedAt,
		StoppedAt:      row.StoppedAt,
		CompletedAt:    row.CompletedAt,
	}
	if err := json.Unmarshal(row.Config, &state.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for test %s: %w", row.ID, err)
	}
	if len(row.Assignments) > 0 {
		if err := json.Unmarshal(row.Assignments, &state.Assignments); err != nil {
			return nil, fmt.Errorf("unmarshal assignments for test %s: %w", row.ID, err)
		}
	}
	if len(row.Metrics) > 0 {
		if err := json.Unmarshal(row.Metrics, &state.CurrentMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics for test %s: %w", row.ID, err)
		}
	}
	return state, nil
}
