package scheduler

import (
	"time"

	"github.com/trailguard/trailguard/internal/domain/report"
)

// NextRun computes the next execution time strictly after the given instant.
// All arithmetic happens in the schedule's timezone; the result is UTC.
func NextRun(s *report.Schedule, after time.Time) time.Time {
	loc, err := time.LoadLocation(s.Location())
	if err != nil {
		loc = time.UTC
	}
	local := after.In(loc)

	switch s.Frequency {
	case report.FrequencyDaily:
		return nextDaily(local, s.HourOfDay, s.MinuteOfHour).UTC()
	case report.FrequencyWeekly:
		return nextWeekly(local, s.DayOfWeek, s.HourOfDay, s.MinuteOfHour).UTC()
	case report.FrequencyMonthly:
		return nextMonthly(local, s.DayOfMonth, s.HourOfDay, s.MinuteOfHour, 1).UTC()
	case report.FrequencyQuarterly:
		return nextMonthly(local, s.DayOfMonth, s.HourOfDay, s.MinuteOfHour, 3).UTC()
	}
	// Unknown frequency rows never become due again.
	return after.AddDate(100, 0, 0).UTC()
}

func nextDaily(local time.Time, hour, minute int) time.Time {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func nextWeekly(local time.Time, dayOfWeek, hour, minute int) time.Time {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
	daysAhead := (dayOfWeek - int(candidate.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, daysAhead)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

func nextMonthly(local time.Time, dayOfMonth, hour, minute, stepMonths int) time.Time {
	candidate := monthlyAt(local.Year(), local.Month(), dayOfMonth, hour, minute, local.Location())
	for !candidate.After(local) {
		y, m := candidate.Year(), candidate.Month()
		m += time.Month(stepMonths)
		for m > 12 {
			m -= 12
			y++
		}
		candidate = monthlyAt(y, m, dayOfMonth, hour, minute, local.Location())
	}
	return candidate
}

// monthlyAt builds the target day in (year, month), clamping dayOfMonth to
// the month's last day so "the 31st" fires on Feb 28/29.
func monthlyAt(year int, month time.Month, dayOfMonth, hour, minute int, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	day := dayOfMonth
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
