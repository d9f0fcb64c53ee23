package cohort

import (
	"time"
)

// Cohort is a named group of builders sharing one schedule. Dates are UTC
// calendar dates (midnight).
type Cohort struct {
	Name       string    `json:"name"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	TotalWeeks int       `json:"totalWeeks"`
}

// WeekRange is one derived week of a cohort, inclusive on both ends.
type WeekRange struct {
	Week      int       `json:"week"`
	Start     time.Time `json:"startDate"`
	End       time.Time `json:"endDate"`
	Label     string    `json:"label"`
	DateRange string    `json:"dateRange"`
}

// Contains reports whether d falls inside the week, inclusive
func (w WeekRange) Contains(d time.Time) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// Days returns the number of calendar days in the week
func (w WeekRange) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}
