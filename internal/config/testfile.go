package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"callsplit/domain/core"
	"callsplit/domain/experiment"
	"callsplit/domain/quality"
	"callsplit/domain/stoprules"
)

// testFile is the yaml shape of a test definition. Durations are strings
// ("45m", "2h") so files stay readable.
type testFile struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Workday  struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"workday"`
	GroupA groupFile `yaml:"group_a"`
	GroupB groupFile `yaml:"group_b"`
	Leads  []struct {
		ID     string `yaml:"id"`
		Phone  string `yaml:"phone"`
		Sector string `yaml:"sector"`
		Region string `yaml:"region"`
	} `yaml:"leads"`
	Assignment struct {
		Mode      string `yaml:"mode"`
		BlockSize int    `yaml:"block_size"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"assignment"`
	Attempts struct {
		MaxAttempts int      `yaml:"max_attempts"`
		RingTimeout string   `yaml:"ring_timeout"`
		Gaps        []string `yaml:"gaps"`
	} `yaml:"attempts"`
	Waves *struct {
		Enabled    bool    `yaml:"enabled"`
		WaveSize   int     `yaml:"wave_size"`
		TargetRate float64 `yaml:"target_rate"`
		Stagger    string  `yaml:"stagger"`
	} `yaml:"waves"`
	Nudges []struct {
		Trigger      string `yaml:"trigger"`
		AfterAttempt int    `yaml:"after_attempt"`
		Channel      string `yaml:"channel"`
		Template     string `yaml:"template"`
	} `yaml:"nudges"`
	SpamControl *struct {
		Enabled    bool    `yaml:"enabled"`
		Policy     string  `yaml:"policy"`
		WarnAbove  float64 `yaml:"warn_above"`
		SlowAbove  float64 `yaml:"slow_above"`
		BlockAbove float64 `yaml:"block_above"`
		OnBlock    string  `yaml:"on_block"`
		OnSlow     string  `yaml:"on_slow"`
		OnWarn     string  `yaml:"on_warn"`
	} `yaml:"spam_control"`
	StopRules *struct {
		OnFirstFlag          string  `yaml:"on_first_flag"`
		OnSecondFlag         string  `yaml:"on_second_flag"`
		MinPause             string  `yaml:"min_pause"`
		OnAnswerRateDrop     float64 `yaml:"on_answer_rate_drop"`
		OnHangupOverAnswered float64 `yaml:"on_hangup_over_answered"`
	} `yaml:"stop_rules"`
	MaxCallsPerHourPerLine int `yaml:"max_calls_per_hour_per_line"`
}

type groupFile struct {
	Label      string `yaml:"label"`
	OriginLine string `yaml:"origin_line"`
	Script     string `yaml:"script"`
}

// LoadTestFile reads a yaml test definition and converts it into a validated
// TestConfig.
func LoadTestFile(path string) (*experiment.TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test file: %w", err)
	}
	var tf testFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse test file: %w", err)
	}
	cfg, err := tf.toConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (tf *testFile) toConfig() (*experiment.TestConfig, error) {
	cfg := &experiment.TestConfig{
		Name:     tf.Name,
		Timezone: tf.Timezone,
		Workday:  experiment.WorkdayWindow{Start: tf.Workday.Start, End: tf.Workday.End},
		GroupA:   experiment.GroupConfig{Label: tf.GroupA.Label, OriginLine: tf.GroupA.OriginLine, Script: tf.GroupA.Script},
		GroupB:   experiment.GroupConfig{Label: tf.GroupB.Label, OriginLine: tf.GroupB.OriginLine, Script: tf.GroupB.Script},
		Assignment: experiment.AssignmentConfig{
			Mode:      experiment.AssignmentMode(tf.Assignment.Mode),
			BlockSize: tf.Assignment.BlockSize,
			Seed:      tf.Assignment.Seed,
		},
		MaxCallsPerHourPerLine: tf.MaxCallsPerHourPerLine,
	}

	for _, l := range tf.Leads {
		cfg.Leads = append(cfg.Leads, experiment.Lead{
			ID:     core.LeadID(l.ID),
			Phone:  l.Phone,
			Sector: l.Sector,
			Region: l.Region,
		})
	}

	cfg.Attempts.MaxAttempts = tf.Attempts.MaxAttempts
	ringTimeout, err := parseDuration(tf.Attempts.RingTimeout, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("attempts.ring_timeout: %w", err)
	}
	cfg.Attempts.RingTimeout = ringTimeout
	for i, g := range tf.Attempts.Gaps {
		d, err := parseDuration(g, 0)
		if err != nil {
			return nil, fmt.Errorf("attempts.gaps[%d]: %w", i, err)
		}
		cfg.Attempts.Gaps = append(cfg.Attempts.Gaps, d)
	}

	if tf.Waves != nil {
		stagger, err := parseDuration(tf.Waves.Stagger, 0)
		if err != nil {
			return nil, fmt.Errorf("waves.stagger: %w", err)
		}
		cfg.Waves = &experiment.WavePlan{
			Enabled:    tf.Waves.Enabled,
			WaveSize:   tf.Waves.WaveSize,
			TargetRate: tf.Waves.TargetRate,
			Stagger:    stagger,
		}
	}

	for _, n := range tf.Nudges {
		cfg.Nudges = append(cfg.Nudges, experiment.NudgeRule{
			Trigger:      experiment.NudgeTrigger(n.Trigger),
			AfterAttempt: n.AfterAttempt,
			Channel:      experiment.NudgeChannel(n.Channel),
			Template:     n.Template,
		})
	}

	if tf.SpamControl != nil {
		onBlock, err := quality.ParseBlockAction(tf.SpamControl.OnBlock)
		if err != nil {
			return nil, fmt.Errorf("spam_control: %w", err)
		}
		onSlow, err := quality.ParseSlowAction(tf.SpamControl.OnSlow)
		if err != nil {
			return nil, fmt.Errorf("spam_control: %w", err)
		}
		onWarn, err := quality.ParseWarnAction(tf.SpamControl.OnWarn)
		if err != nil {
			return nil, fmt.Errorf("spam_control: %w", err)
		}
		cfg.SpamControl = &quality.Config{
			Enabled:    tf.SpamControl.Enabled,
			Policy:     quality.Policy(tf.SpamControl.Policy),
			WarnAbove:  tf.SpamControl.WarnAbove,
			SlowAbove:  tf.SpamControl.SlowAbove,
			BlockAbove: tf.SpamControl.BlockAbove,
			OnBlock:    onBlock,
			OnSlow:     onSlow,
			OnWarn:     onWarn,
		}
	}

	if tf.StopRules != nil {
		minPause, err := parseDuration(tf.StopRules.MinPause, 0)
		if err != nil {
			return nil, fmt.Errorf("stop_rules.min_pause: %w", err)
		}
		cfg.StopRules = &stoprules.Config{
			OnFirstFlag:          stoprules.Action(tf.StopRules.OnFirstFlag),
			OnSecondFlag:         stoprules.Action(tf.StopRules.OnSecondFlag),
			MinPause:             minPause,
			OnAnswerRateDrop:     tf.StopRules.OnAnswerRateDrop,
			OnHangupOverAnswered: tf.StopRules.OnHangupOverAnswered,
		}
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
