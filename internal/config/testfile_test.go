package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/quality"
	"callsplit/domain/stoprules"
)

func TestLoadTestFile_Full(t *testing.T) {
	cfg, err := LoadTestFile(filepath.Join("testdata", "test_full.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Name != "Script tone comparison" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Timezone != "Europe/Lisbon" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
	if cfg.Workday.Start != "09:00" || cfg.Workday.End != "18:00" {
		t.Errorf("workday = %+v", cfg.Workday)
	}
	if cfg.GroupA.OriginLine != "+351210000001" || cfg.GroupB.OriginLine != "+351210000002" {
		t.Errorf("origin lines = %q / %q", cfg.GroupA.OriginLine, cfg.GroupB.OriginLine)
	}

	if len(cfg.Leads) != 4 {
		t.Fatalf("leads = %d, want 4", len(cfg.Leads))
	}
	if cfg.Leads[0].ID != core.LeadID("lead-01") || cfg.Leads[0].Sector != "retail" || cfg.Leads[0].Region != "north" {
		t.Errorf("lead 0 = %+v", cfg.Leads[0])
	}

	if cfg.Assignment.Mode != experiment.ModeStratified {
		t.Errorf("mode = %q", cfg.Assignment.Mode)
	}
	if cfg.Assignment.BlockSize != 2 || cfg.Assignment.Seed != 42 {
		t.Errorf("assignment = %+v", cfg.Assignment)
	}

	if cfg.Attempts.MaxAttempts != 3 {
		t.Errorf("max attempts = %d", cfg.Attempts.MaxAttempts)
	}
	if cfg.Attempts.RingTimeout != 25*time.Second {
		t.Errorf("ring timeout = %v", cfg.Attempts.RingTimeout)
	}
	wantGaps := []time.Duration{45 * time.Minute, 2 * time.Hour}
	for i, g := range wantGaps {
		if cfg.Attempts.Gaps[i] != g {
			t.Errorf("gap %d = %v, want %v", i, cfg.Attempts.Gaps[i], g)
		}
	}

	if cfg.Waves == nil || !cfg.Waves.Enabled || cfg.Waves.WaveSize != 2 || cfg.Waves.Stagger != 90*time.Second {
		t.Errorf("waves = %+v", cfg.Waves)
	}

	if len(cfg.Nudges) != 1 {
		t.Fatalf("nudges = %d, want 1", len(cfg.Nudges))
	}
	if cfg.Nudges[0].Trigger != experiment.TriggerFailedAfterAttempt || cfg.Nudges[0].AfterAttempt != 2 {
		t.Errorf("nudge = %+v", cfg.Nudges[0])
	}

	if cfg.SpamControl == nil {
		t.Fatal("spam control not loaded")
	}
	if cfg.SpamControl.Policy != quality.PolicyPreCall || cfg.SpamControl.BlockAbove != 80 {
		t.Errorf("spam control = %+v", cfg.SpamControl)
	}
	if cfg.SpamControl.OnBlock != quality.BlockPauseCLI {
		t.Errorf("on_block = %q", cfg.SpamControl.OnBlock)
	}

	if cfg.StopRules == nil {
		t.Fatal("stop rules not loaded")
	}
	if cfg.StopRules.OnFirstFlag != stoprules.ActionPause || cfg.StopRules.MinPause != 30*time.Minute {
		t.Errorf("stop rules = %+v", cfg.StopRules)
	}

	if cfg.MaxCallsPerHourPerLine != 50 {
		t.Errorf("line cap = %d", cfg.MaxCallsPerHourPerLine)
	}
}

func TestLoadTestFile_BadDuration(t *testing.T) {
	_, err := LoadTestFile(filepath.Join("testdata", "test_bad_gap.yaml"))
	if err == nil {
		t.Fatal("expected error for unparseable gap")
	}
	if !strings.Contains(err.Error(), "attempts.gaps[0]") {
		t.Errorf("err = %v, want gap index in message", err)
	}
}

func TestLoadTestFile_MissingFile(t *testing.T) {
	if _, err := LoadTestFile(filepath.Join("testdata", "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadTestFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbled.yaml")
	if err := os.WriteFile(path, []byte("name: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTestFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadTestFile_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_leads.yaml")
	doc := `
name: "Empty"
timezone: "UTC"
workday: {start: "09:00", end: "18:00"}
group_a: {label: "A", origin_line: "+351210000001", script: "a"}
group_b: {label: "B", origin_line: "+351210000002", script: "b"}
assignment: {mode: "random_1_to_1"}
attempts: {max_attempts: 1}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadTestFile(path)
	if !core.IsValidationError(err) {
		t.Fatalf("err = %v, want a validation error", err)
	}
}
