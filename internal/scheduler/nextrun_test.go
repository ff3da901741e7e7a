package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trailguard/trailguard/internal/domain/report"
)

func weeklySchedule(dayOfWeek, hour int, tz string) *report.Schedule {
	return &report.Schedule{
		Frequency: report.FrequencyWeekly,
		DayOfWeek: dayOfWeek,
		HourOfDay: hour,
		Timezone:  tz,
	}
}

func monthlySchedule(freq report.Frequency, dayOfMonth, hour int) *report.Schedule {
	return &report.Schedule{
		Frequency:  freq,
		DayOfMonth: dayOfMonth,
		HourOfDay:  hour,
	}
}

func TestNextRunDaily(t *testing.T) {
	daily := func(hour, minute int) *report.Schedule {
		return &report.Schedule{
			Frequency:    report.FrequencyDaily,
			HourOfDay:    hour,
			MinuteOfHour: minute,
		}
	}

	t.Run("later today when still ahead", func(t *testing.T) {
		after := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
		next := NextRun(daily(9, 30), after)
		assert.Equal(t, time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC), next)
	})

	t.Run("tomorrow when already past", func(t *testing.T) {
		after := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
		next := NextRun(daily(9, 30), after)
		assert.Equal(t, time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC), next)
	})
}

func TestNextRunWeekly(t *testing.T) {
	// 2026-04-01 is a Wednesday.
	wednesdayNoon := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("advances to the requested weekday", func(t *testing.T) {
		next := NextRun(weeklySchedule(1, 2, "UTC"), wednesdayNoon)
		assert.Equal(t, time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("same weekday before the hour fires today", func(t *testing.T) {
		mondayEarly := time.Date(2026, 4, 6, 1, 0, 0, 0, time.UTC)
		next := NextRun(weeklySchedule(1, 2, "UTC"), mondayEarly)
		assert.Equal(t, time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("same weekday past the hour skips a week", func(t *testing.T) {
		mondayLate := time.Date(2026, 4, 6, 2, 0, 0, 0, time.UTC)
		next := NextRun(weeklySchedule(1, 2, "UTC"), mondayLate)
		assert.Equal(t, time.Date(2026, 4, 13, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("timezone shapes the local hour", func(t *testing.T) {
		// Sunday 08:00 in New York is 12:00 UTC during DST.
		next := NextRun(weeklySchedule(0, 8, "America/New_York"), wednesdayNoon)
		assert.Equal(t, time.Date(2026, 4, 5, 12, 0, 0, 0, time.UTC), next)
	})

	t.Run("minute carries into the result", func(t *testing.T) {
		// Wednesday 10:00 → next Monday 09:00.
		s := weeklySchedule(1, 9, "UTC")
		s.MinuteOfHour = 0
		next := NextRun(s, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), next)

		s.MinuteOfHour = 45
		next = NextRun(s, time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2024, 1, 8, 9, 45, 0, 0, time.UTC), next)
	})
}

func TestNextRunMonthly(t *testing.T) {
	t.Run("this month when still ahead", func(t *testing.T) {
		after := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyMonthly, 15, 0), after)
		assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("next month when already past", func(t *testing.T) {
		after := time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyMonthly, 15, 0), after)
		assert.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("clamps to month end", func(t *testing.T) {
		after := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyMonthly, 31, 0), after)
		assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("clamped candidate in the past steps to the real day", func(t *testing.T) {
		after := time.Date(2026, 2, 28, 1, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyMonthly, 31, 0), after)
		assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("year rollover", func(t *testing.T) {
		after := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyMonthly, 5, 0), after)
		assert.Equal(t, time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC), next)
	})
}

func TestNextRunQuarterly(t *testing.T) {
	t.Run("steps three months past a spent candidate", func(t *testing.T) {
		after := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyQuarterly, 1, 0), after)
		assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("quarterly clamp on short months", func(t *testing.T) {
		after := time.Date(2026, 11, 30, 12, 0, 0, 0, time.UTC)
		next := NextRun(monthlySchedule(report.FrequencyQuarterly, 31, 0), after)
		assert.Equal(t, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC), next)
	})
}
