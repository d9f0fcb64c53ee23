package ports

import (
	"context"
	"time"

	"cohortpulse/domain/metrics"
)

// CohortMetricsRepository serves the fixed aggregate queries behind the
// dashboard. Date bounds are inclusive calendar dates.
type CohortMetricsRepository interface {
	// ActiveBuilderCount counts active builders enrolled in the cohort
	ActiveBuilderCount(ctx context.Context, cohort string) (int, error)

	// TotalTaskCount counts tasks scheduled on curriculum days up to through
	TotalTaskCount(ctx context.Context, cohort string, through time.Time) (int, error)

	// AttendanceByDay aggregates attendance statuses per day
	AttendanceByDay(ctx context.Context, cohort string, from, to time.Time) ([]metrics.DailyAttendance, error)

	// BuilderProgress returns attendance and completion totals per builder
	BuilderProgress(ctx context.Context, cohort string, through time.Time) ([]metrics.BuilderProgress, error)

	// QualitySummary averages the overall quality score of graded submissions
	QualitySummary(ctx context.Context, cohort string) (metrics.QualitySummary, error)

	// QualityRubricBreakdown averages each rubric category
	QualityRubricBreakdown(ctx context.Context, cohort string) ([]metrics.RubricScore, error)

	// AttendanceRecords lists individual attendance rows for drill-down
	AttendanceRecords(ctx context.Context, cohort string, from, to time.Time) ([]metrics.AttendanceRecord, error)
}
