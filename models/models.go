// Package models holds the persistence row types shared by the storage
// adapters.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONBMap is a custom type for PostgreSQL JSONB columns that maps to map[string]interface{}
type JSONBMap map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner interface
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONBMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}

	if len(bytes) == 0 {
		*j = make(JSONBMap)
		return nil
	}

	result := make(JSONBMap)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// JSONBStrings stores a string slice in a JSONB column.
type JSONBStrings []string

func (j JSONBStrings) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(j))
}

func (j *JSONBStrings) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", value)
	}
	if len(bytes) == 0 {
		*j = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*j = out
	return nil
}

// TestRow is the experiments table row. Config, assignments and the metrics
// snapshot are stored as JSONB documents.
type TestRow struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Status      string     `db:"status"`
	Config      []byte     `db:"config"`
	Assignments []byte     `db:"assignments"`
	Metrics     []byte     `db:"metrics"`
	Scheduled   int        `db:"scheduled_total"`
	LastError   string     `db:"last_error"`
	CreatedAt   time.Time  `db:"created_at"`
	StartedAt   *time.Time `db:"started_at"`
	PausedAt    *time.Time `db:"paused_at"`
	StoppedAt   *time.Time `db:"stopped_at"`
	CompletedAt *time.Time `db:"completed_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// CallLogRow is the call_log table row, one per executed call attempt.
type CallLogRow struct {
	CallID     string       `db:"call_id"`
	TestID     string       `db:"test_id"`
	LeadID     string       `db:"lead_id"`
	GroupLabel string       `db:"group_label"`
	Outcome    string       `db:"outcome"`
	DurationMS int64        `db:"duration_ms"`
	Attempt    int          `db:"attempt"`
	OccurredAt time.Time    `db:"occurred_at"`
	SpamScore  float64      `db:"spam_score"`
	SpamLabels JSONBStrings `db:"spam_labels"`
	CallError  string       `db:"call_error"`
}
