package cohort

import (
	"fmt"
	"time"

	"cohortpulse/domain/core"
	"cohortpulse/internal/errors"
)

const daysPerWeek = 7

// CalculateWeekRanges splits the cohort into consecutive 7-day weeks
// starting on StartDate. The last week is cut at EndDate, and generation
// stops early when the next week would start after EndDate.
func CalculateWeekRanges(c Cohort) []WeekRange {
	start := core.DateOnly(c.StartDate)
	end := core.DateOnly(c.EndDate)

	weeks := make([]WeekRange, 0, c.TotalWeeks)
	for i := 0; i < c.TotalWeeks; i++ {
		weekStart := core.AddDays(start, i*daysPerWeek)
		if weekStart.After(end) {
			break
		}
		weekEnd := core.AddDays(weekStart, daysPerWeek-1)
		if weekEnd.After(end) {
			weekEnd = end
		}
		weeks = append(weeks, WeekRange{
			Week:      i + 1,
			Start:     weekStart,
			End:       weekEnd,
			Label:     fmt.Sprintf("Week %d", i+1),
			DateRange: FormatDateRange(weekStart, weekEnd),
		})
	}
	return weeks
}

// CurrentWeek returns the week number containing asOf. Dates before the
// cohort map to week 1 and dates after it to the last generated week.
func CurrentWeek(c Cohort, asOf time.Time) int {
	weeks := CalculateWeekRanges(c)
	if len(weeks) == 0 {
		return 1
	}

	offset := core.DaysBetween(weeks[0].Start, asOf)
	if offset < 0 {
		return 1
	}
	// weeks are consecutive 7-day blocks, so the offset indexes them directly
	if idx := offset / daysPerWeek; idx < len(weeks) && weeks[idx].Contains(core.DateOnly(asOf)) {
		return weeks[idx].Week
	}
	return weeks[len(weeks)-1].Week
}

// WeekRangeFor returns a single week, failing when week is outside the
// generated range.
func WeekRangeFor(c Cohort, week int) (WeekRange, error) {
	weeks := CalculateWeekRanges(c)
	if week < 1 || week > len(weeks) {
		return WeekRange{}, errors.Newf(errors.CodeInvalidInput,
			"week %d is out of range for cohort %q (1-%d)", week, c.Name, len(weeks))
	}
	return weeks[week-1], nil
}

// IsClassDay reports whether builders meet on d. Thursdays and Fridays are
// off days for every cohort.
func IsClassDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Thursday, time.Friday:
		return false
	default:
		return true
	}
}

// ClassDaysBetween counts class days in [start, end]. It returns 0 when end
// is before start.
func ClassDaysBetween(start, end time.Time) int {
	from, to := core.DateOnly(start), core.DateOnly(end)
	count := 0
	for d := from; !d.After(to); d = core.AddDays(d, 1) {
		if IsClassDay(d) {
			count++
		}
	}
	return count
}

// ClassDaysElapsed counts class days from the cohort start through asOf,
// capped at the cohort end.
func (c Cohort) ClassDaysElapsed(asOf time.Time) int {
	end := core.DateOnly(asOf)
	if last := core.DateOnly(c.EndDate); end.After(last) {
		end = last
	}
	return ClassDaysBetween(c.StartDate, end)
}

// FormatDateRange renders "Sep 6–12" within a month and "Sep 27–Oct 3"
// across a month boundary.
func FormatDateRange(start, end time.Time) string {
	if start.Year() == end.Year() && start.Month() == end.Month() {
		return fmt.Sprintf("%s %d–%d", start.Format("Jan"), start.Day(), end.Day())
	}
	return fmt.Sprintf("%s %d–%s %d", start.Format("Jan"), start.Day(), end.Format("Jan"), end.Day())
}
