package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/metrics"
)

func newState(name string, createdAt time.Time) *experiment.TestState {
	return &experiment.TestState{
		ID:        core.TestID(core.NewID()),
		Status:    experiment.StatusDraft,
		Config:    experiment.TestConfig{Name: name},
		CreatedAt: createdAt,
		Assignments: []experiment.Assignment{
			{LeadID: "lead-01", Group: core.GroupA},
		},
	}
}

func TestExperimentRepository_SaveAndGet(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	state := newState("campaign", time.Now())
	if err := repo.SaveTest(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetTest(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Config.Name != "campaign" {
		t.Errorf("name = %q, want campaign", got.Config.Name)
	}

	// Returned state is a copy; the stored one must not move with it.
	got.Status = experiment.StatusRunning
	again, err := repo.GetTest(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != experiment.StatusDraft {
		t.Errorf("stored status = %s, want draft", again.Status)
	}
}

func TestExperimentRepository_SaveUpserts(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	state := newState("first", time.Now())
	if err := repo.SaveTest(ctx, state); err != nil {
		t.Fatal(err)
	}
	state.Status = experiment.StatusRunning
	if err := repo.SaveTest(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetTest(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != experiment.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}

	list, err := repo.ListTests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list length = %d, want 1", len(list))
	}
}

func TestExperimentRepository_ListNewestFirst(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	old := newState("old", base)
	mid := newState("mid", base.Add(time.Hour))
	new_ := newState("new", base.Add(2*time.Hour))
	for _, s := range []*experiment.TestState{mid, old, new_} {
		if err := repo.SaveTest(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.ListTests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range list {
		names = append(names, s.Config.Name)
	}
	want := []string{"new", "mid", "old"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestExperimentRepository_NotFound(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()
	missing := core.TestID(core.NewID())

	if _, err := repo.GetTest(ctx, missing); !errors.Is(err, core.ErrTestNotFound) {
		t.Errorf("GetTest err = %v, want ErrTestNotFound", err)
	}
	if err := repo.DeleteTest(ctx, missing); !errors.Is(err, core.ErrTestNotFound) {
		t.Errorf("DeleteTest err = %v, want ErrTestNotFound", err)
	}
	if err := repo.SaveMetricsSnapshot(ctx, missing, metrics.Aggregated{}); !errors.Is(err, core.ErrTestNotFound) {
		t.Errorf("SaveMetricsSnapshot err = %v, want ErrTestNotFound", err)
	}
}

func TestExperimentRepository_Delete(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	state := newState("doomed", time.Now())
	if err := repo.SaveTest(ctx, state); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteTest(ctx, state.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetTest(ctx, state.ID); !errors.Is(err, core.ErrTestNotFound) {
		t.Errorf("err = %v, want ErrTestNotFound", err)
	}
}

func TestExperimentRepository_SaveMetricsSnapshot(t *testing.T) {
	repo := NewExperimentRepository()
	ctx := context.Background()

	state := newState("live", time.Now())
	if err := repo.SaveTest(ctx, state); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveMetricsSnapshot(ctx, state.ID, metrics.Aggregated{Total: 7}); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetTest(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentMetrics.Total != 7 {
		t.Errorf("snapshot total = %d, want 7", got.CurrentMetrics.Total)
	}
}

func TestCallLogRepository_AppendAndList(t *testing.T) {
	repo := NewCallLogRepository()
	ctx := context.Background()
	testID := core.TestID(core.NewID())
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		m := metrics.CallMetric{
			CallID:    core.CallID(core.NewID()),
			TestID:    testID,
			LeadID:    "lead-01",
			Group:     core.GroupA,
			Outcome:   metrics.OutcomeAnswered,
			Attempt:   i + 1,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.AppendCallMetric(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	list, err := repo.ListCallMetrics(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("length = %d, want 3", len(list))
	}
	for i, m := range list {
		if m.Attempt != i+1 {
			t.Errorf("entry %d attempt = %d, want append order preserved", i, m.Attempt)
		}
	}
}

func TestCallLogRepository_DropsDuplicateCallIDs(t *testing.T) {
	repo := NewCallLogRepository()
	ctx := context.Background()
	testID := core.TestID(core.NewID())

	m := metrics.CallMetric{
		CallID:  core.CallID(core.NewID()),
		TestID:  testID,
		Outcome: metrics.OutcomeBusy,
	}
	if err := repo.AppendCallMetric(ctx, m); err != nil {
		t.Fatal(err)
	}
	m.Outcome = metrics.OutcomeAnswered
	if err := repo.AppendCallMetric(ctx, m); err != nil {
		t.Fatal(err)
	}

	list, err := repo.ListCallMetrics(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("length = %d, want duplicate dropped", len(list))
	}
	if list[0].Outcome != metrics.OutcomeBusy {
		t.Errorf("outcome = %s, want the first write kept", list[0].Outcome)
	}
}

func TestCallLogRepository_UnknownTestIsEmpty(t *testing.T) {
	repo := NewCallLogRepository()
	list, err := repo.ListCallMetrics(context.Background(), core.TestID(core.NewID()))
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("length = %d, want empty", len(list))
	}
}
