package service

import (
	"fmt"
	"time"

	"shared-planner/internal/model"
)

// NextOccurrence returns the occurrence after from. Daily and weekly add
// calendar days in from's location, so the wall clock is kept across DST.
// Monthly keeps from's day of month, clamped to the last day of a shorter
// target month; it never rolls over into the month after.
func NextOccurrence(from time.Time, rule model.RecurrenceRule) time.Time {
	switch rule.Frequency {
	case model.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case model.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case model.FrequencyMonthly:
		return addMonthsClamped(from, 1)
	case model.FrequencyYearly:
		return addMonthsClamped(from, 12)
	}
	return from
}

func addMonthsClamped(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	hour, minute, sec := from.Clock()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, from.Location())
	if last := daysInMonth(target.Month(), target.Year()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, minute, sec, from.Nanosecond(), from.Location())
}

func daysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	firstOfNextMonth := firstOfMonth.AddDate(0, 1, 0)
	lastOfMonth := firstOfNextMonth.AddDate(0, 0, -1)
	return lastOfMonth.Day()
}

// ValidateRecurrenceRule checks a recurring task rule. Tasks repeat daily,
// weekly or monthly only.
func ValidateRecurrenceRule(rule model.RecurrenceRule) error {
	switch rule.Frequency {
	case model.FrequencyDaily:
	case model.FrequencyWeekly:
		if rule.DayOfWeek != nil && (*rule.DayOfWeek < 0 || *rule.DayOfWeek > 6) {
			return validationf("day of week must be 0-6, got %d", *rule.DayOfWeek)
		}
	case model.FrequencyMonthly:
		if rule.DayOfMonth != nil && (*rule.DayOfMonth < 1 || *rule.DayOfMonth > 31) {
			return validationf("day of month must be 1-31, got %d", *rule.DayOfMonth)
		}
	case model.FrequencyYearly:
		return validationf("recurring tasks do not support yearly frequency")
	default:
		return validationf("unknown frequency %q", rule.Frequency)
	}
	return nil
}

// ValidateRecurrenceEnd checks that the end bound carries its parameter.
func ValidateRecurrenceEnd(end model.RecurrenceEnd) error {
	switch end.Type {
	case "", model.EndForever:
	case model.EndUntil:
		if end.EndDate == nil {
			return validationf("until end needs an end date")
		}
	case model.EndCount:
		if end.Occurrences == nil || *end.Occurrences < 1 {
			return validationf("count end needs a positive number of occurrences")
		}
	default:
		return validationf("unknown recurrence end %q", end.Type)
	}
	return nil
}

// clockBucket is the minute-granularity key reminders are deduplicated on.
func clockBucket(now time.Time) string {
	return now.Format("2006-01-02T15:04")
}

func clockString(now time.Time) string {
	return fmt.Sprintf("%02d:%02d", now.Hour(), now.Minute())
}
