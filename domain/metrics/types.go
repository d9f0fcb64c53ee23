package metrics

import (
	"time"
)

// Attendance statuses recorded per builder per class day
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
	StatusExcused = "excused"
)

// AttendedStatuses count toward attendance rates
var AttendedStatuses = []string{StatusPresent, StatusLate}

// DailyAttendance aggregates one class day
type DailyAttendance struct {
	Date    time.Time `json:"date" db:"attendance_date"`
	Present int       `json:"present" db:"present"`
	Late    int       `json:"late" db:"late"`
	Absent  int       `json:"absent" db:"absent"`
	Excused int       `json:"excused" db:"excused"`
}

// Attended counts builders who showed up, late or not
func (d DailyAttendance) Attended() int {
	return d.Present + d.Late
}

// BuilderProgress is one builder's attendance and task totals
type BuilderProgress struct {
	UserID         int    `json:"userId" db:"user_id"`
	Name           string `json:"name" db:"name"`
	DaysAttended   int    `json:"daysAttended" db:"days_attended"`
	TasksCompleted int    `json:"tasksCompleted" db:"tasks_completed"`
}

// RubricScore is the average of one rubric category
type RubricScore struct {
	Category     string  `json:"category" db:"category"`
	AverageScore float64 `json:"averageScore" db:"average_score"`
	Submissions  int     `json:"submissions" db:"submissions"`
}

// QualitySummary is the cohort-wide quality score
type QualitySummary struct {
	AverageScore float64 `json:"averageScore" db:"average_score"`
	Submissions  int     `json:"submissions" db:"submissions"`
}

// AttendanceRecord is a drill-down row behind an attendance aggregate
type AttendanceRecord struct {
	UserID      int        `json:"userId" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	Date        time.Time  `json:"date" db:"attendance_date"`
	Status      string     `json:"status" db:"status"`
	CheckInTime *time.Time `json:"checkInTime,omitempty" db:"check_in_time"`
}

// KPI is one dashboard card
type KPI struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	// Denominator records what a percentage was divided by, so the UI can
	// show "34 of 40 class days".
	Denominator int `json:"denominator,omitempty"`
}

// Overview is the dashboard header
type Overview struct {
	Cohort      string    `json:"cohort"`
	AsOf        time.Time `json:"asOf"`
	CurrentWeek int       `json:"currentWeek"`
	KPIs        []KPI     `json:"kpis"`
}

// WeeklyAttendance is one bar of the weekly attendance chart
type WeeklyAttendance struct {
	Week           int     `json:"week"`
	Label          string  `json:"label"`
	DateRange      string  `json:"dateRange"`
	ClassDays      int     `json:"classDays"`
	AttendanceRate float64 `json:"attendanceRate"`
}

// DrillDown lists the rows behind one week of the attendance chart
type DrillDown struct {
	Cohort    string             `json:"cohort"`
	Week      int                `json:"week"`
	DateRange string             `json:"dateRange"`
	Records   []AttendanceRecord `json:"records"`
}

// QualityBreakdown is the cohort quality score with its rubric categories
type QualityBreakdown struct {
	Cohort     string         `json:"cohort"`
	Overall    QualitySummary `json:"overall"`
	Categories []RubricScore  `json:"categories"`
}
