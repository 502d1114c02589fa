package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ScheduleMode selects how a scheduled trigger computes its fire times.
type ScheduleMode string

const (
	// ModeInterval fires every fixed duration after launch.
	ModeInterval ScheduleMode = "interval"

	// ModeDatetime fires once at an absolute UTC instant.
	ModeDatetime ScheduleMode = "datetime"

	// ModeRecurring fires at a time of day on a set of weekdays.
	ModeRecurring ScheduleMode = "recurring"
)

// intervalUnitSeconds maps interval units to their length in seconds.
var intervalUnitSeconds = map[string]int64{
	"minutes": 60,
	"hours":   3600,
	"days":    86400,
}

// ScheduleConfig is the stored configuration of a scheduled-trigger
// condition block. Days use ISO numbering, 1 is Monday through 7 Sunday.
// All instants are UTC.
type ScheduleConfig struct {
	Mode ScheduleMode `json:"scheduleType"`

	// Interval mode.
	Value int    `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`

	// Datetime mode, RFC 3339.
	DateTime string `json:"datetime,omitempty"`

	// Recurring mode: time of day as "15:04" plus ISO weekdays.
	Time string `json:"time,omitempty"`
	Days []int  `json:"days,omitempty"`
}

// ParseScheduleConfig decodes and validates a scheduled-trigger config.
func ParseScheduleConfig(configJSON string) (ScheduleConfig, error) {
	var cfg ScheduleConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return ScheduleConfig{}, fmt.Errorf(
			"parse schedule config: %w", err,
		)
	}

	switch cfg.Mode {
	case ModeInterval:
		if cfg.Value <= 0 {
			return ScheduleConfig{}, fmt.Errorf(
				"interval value must be positive, got %d",
				cfg.Value,
			)
		}
		if _, ok := intervalUnitSeconds[cfg.Unit]; !ok {
			return ScheduleConfig{}, fmt.Errorf(
				"unknown interval unit %q", cfg.Unit,
			)
		}

	case ModeDatetime:
		if _, err := time.Parse(time.RFC3339, cfg.DateTime); err != nil {
			return ScheduleConfig{}, fmt.Errorf(
				"parse schedule datetime: %w", err,
			)
		}

	case ModeRecurring:
		if _, err := parseTimeOfDay(cfg.Time); err != nil {
			return ScheduleConfig{}, err
		}
		if len(cfg.Days) == 0 {
			return ScheduleConfig{}, fmt.Errorf(
				"recurring schedule needs at least one day",
			)
		}
		for _, day := range cfg.Days {
			if day < 1 || day > 7 {
				return ScheduleConfig{}, fmt.Errorf(
					"weekday out of range: %d", day,
				)
			}
		}

	default:
		return ScheduleConfig{}, fmt.Errorf(
			"unknown schedule type %q", cfg.Mode,
		)
	}

	return cfg, nil
}

// NextFire computes the next fire instant strictly after now, or None when
// the schedule has nothing left to fire. A None for a recurring schedule
// means no (weekday, time) match exists within a week; callers retry after
// a bounded fallback delay instead of busy-looping.
func (c ScheduleConfig) NextFire(now time.Time) fn.Option[time.Time] {
	now = now.UTC()

	switch c.Mode {
	case ModeInterval:
		delta := time.Duration(
			int64(c.Value)*intervalUnitSeconds[c.Unit],
		) * time.Second

		return fn.Some(now.Add(delta))

	case ModeDatetime:
		at, err := time.Parse(time.RFC3339, c.DateTime)
		if err != nil || !at.After(now) {
			return fn.None[time.Time]()
		}

		return fn.Some(at.UTC())

	case ModeRecurring:
		target, err := parseTimeOfDay(c.Time)
		if err != nil {
			return fn.None[time.Time]()
		}

		days := make(map[int]bool, len(c.Days))
		for _, day := range c.Days {
			days[day] = true
		}

		// Scan today plus the next seven days for the nearest
		// future match.
		for offset := 0; offset <= 7; offset++ {
			day := now.AddDate(0, 0, offset)
			candidate := time.Date(
				day.Year(), day.Month(), day.Day(),
				target.hour, target.minute, 0, 0, time.UTC,
			)

			if candidate.After(now) &&
				days[isoWeekday(candidate.Weekday())] {

				return fn.Some(candidate)
			}
		}

		return fn.None[time.Time]()

	default:
		return fn.None[time.Time]()
	}
}

// timeOfDay is a parsed "15:04" clock value.
type timeOfDay struct {
	hour   int
	minute int
}

// parseTimeOfDay parses a "15:04" clock string.
func parseTimeOfDay(s string) (timeOfDay, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return timeOfDay{}, fmt.Errorf(
			"parse schedule time %q: %w", s, err,
		)
	}

	return timeOfDay{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}

// isoWeekday converts Go's Sunday-based weekday to ISO numbering, 1 is
// Monday through 7 Sunday.
func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}

	return int(wd)
}
