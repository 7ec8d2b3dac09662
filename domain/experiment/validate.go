package experiment

import (
	"fmt"
	"time"

	"callsplit/domain/core"
)

// Validate rejects a configuration before it ever reaches draft state.
func (c *TestConfig) Validate() error {
	if c.Name == "" {
		return core.NewValidationError("name", "required")
	}
	if c.Timezone == "" {
		return core.NewValidationError("timezone", "required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return core.NewValidationError("timezone", fmt.Sprintf("unknown timezone %q", c.Timezone))
	}
	if err := c.Workday.Validate(); err != nil {
		return err
	}

	if c.GroupA.Label == "" || c.GroupB.Label == "" {
		return core.NewValidationError("groups", "both groups need a label")
	}
	if c.GroupA.OriginLine == "" || c.GroupB.OriginLine == "" {
		return core.NewValidationError("groups", "both groups need an origin line")
	}

	if len(c.Leads) == 0 {
		return core.ErrEmptyLeadList
	}
	for i, l := range c.Leads {
		if l.ID == "" {
			return core.NewValidationError("leads", fmt.Sprintf("lead %d has no id", i))
		}
		if l.Phone == "" {
			return core.NewValidationError("leads", fmt.Sprintf("lead %s has no phone number", l.ID))
		}
	}

	if err := c.Assignment.Validate(); err != nil {
		return err
	}
	if err := c.Attempts.Validate(); err != nil {
		return err
	}

	if c.Waves != nil && c.Waves.Enabled {
		if c.Waves.WaveSize < 1 {
			return core.NewValidationError("waves", "wave size must be >= 1")
		}
		if c.Waves.Window != nil {
			if err := c.Waves.Window.Validate(); err != nil {
				return err
			}
		}
	}

	for i, n := range c.Nudges {
		if n.Trigger != TriggerFailedAfterAttempt {
			return core.NewValidationError("nudges", fmt.Sprintf("rule %d has unknown trigger %q", i, n.Trigger))
		}
		if n.Channel != ChannelChat && n.Channel != ChannelEmail {
			return core.NewValidationError("nudges", fmt.Sprintf("rule %d has unknown channel %q", i, n.Channel))
		}
		if n.AfterAttempt < 1 {
			return core.NewValidationError("nudges", fmt.Sprintf("rule %d needs after_attempt >= 1", i))
		}
	}

	if c.SpamControl != nil {
		if err := c.SpamControl.Validate(); err != nil {
			return core.NewValidationError("spam_control", err.Error())
		}
	}
	if c.StopRules != nil {
		if err := c.StopRules.Validate(); err != nil {
			return core.NewValidationError("stop_rules", err.Error())
		}
	}
	if c.MaxCallsPerHourPerLine < 0 {
		return core.NewValidationError("max_calls_per_hour_per_line", "must be >= 0")
	}
	return nil
}

// Validate checks the assignment strategy.
func (a AssignmentConfig) Validate() error {
	switch a.Mode {
	case "":
		return core.ErrMissingMode
	case ModeRandomOneToOne:
		return nil
	case ModeStratified:
		if a.BlockSize == 0 {
			return fmt.Errorf("%w: block size is required", core.ErrInvalidBlockSize)
		}
		if a.BlockSize < 2 || a.BlockSize%2 != 0 {
			return fmt.Errorf("%w: got %d", core.ErrInvalidBlockSize, a.BlockSize)
		}
		return nil
	default:
		return core.NewValidationError("assignment.mode", fmt.Sprintf("unknown mode %q", a.Mode))
	}
}

// Validate checks the attempts policy.
func (p AttemptsPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return core.NewValidationError("attempts.max_attempts", "must be >= 1")
	}
	if p.MaxAttempts > 1 && len(p.Gaps) == 0 {
		return core.NewValidationError("attempts.gaps", "at least one inter-attempt gap is required")
	}
	for i, g := range p.Gaps {
		if g <= 0 {
			return core.NewValidationError("attempts.gaps", fmt.Sprintf("gap %d must be positive", i))
		}
	}
	if p.RingTimeout < 0 {
		return core.NewValidationError("attempts.ring_timeout", "must be >= 0")
	}
	return nil
}

// Validate checks the window bounds.
func (w WorkdayWindow) Validate() error {
	start, err := parseClock(w.Start)
	if err != nil {
		return core.NewValidationError("workday.start", err.Error())
	}
	end, err := parseClock(w.End)
	if err != nil {
		return core.NewValidationError("workday.end", err.Error())
	}
	if !end.After(start) {
		return core.NewValidationError("workday", "end must be after start")
	}
	return nil
}

// Contains reports whether t (interpreted in loc) falls inside the window.
func (w WorkdayWindow) Contains(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	return minutes >= start.minutes() && minutes < end.minutes()
}

type clockTime struct {
	hour, minute int
}

func (c clockTime) minutes() int { return c.hour*60 + c.minute }

func (c clockTime) After(o clockTime) bool { return c.minutes() > o.minutes() }

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clockTime{}, fmt.Errorf("invalid clock time %q (use HH:MM)", s)
	}
	return clockTime{hour: t.Hour(), minute: t.Minute()}, nil
}
