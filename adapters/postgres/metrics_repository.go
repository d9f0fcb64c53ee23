package postgres

import (
	"context"
	"time"

	"cohortpulse/domain/metrics"
	"cohortpulse/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// MetricsRepositoryImpl implements CohortMetricsRepository for PostgreSQL
type MetricsRepositoryImpl struct {
	db *sqlx.DB
}

// NewMetricsRepository creates a new PostgreSQL metrics repository
func NewMetricsRepository(db *sqlx.DB) ports.CohortMetricsRepository {
	return &MetricsRepositoryImpl{db: db}
}

// ActiveBuilderCount counts active builders enrolled in the cohort
func (r *MetricsRepositoryImpl) ActiveBuilderCount(ctx context.Context, cohort string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM users
		WHERE cohort = $1 AND role = 'builder' AND active = true
	`, cohort)
	if err != nil {
		return 0, wrapQueryError(err, "count active builders")
	}
	return count, nil
}

// TotalTaskCount counts tasks scheduled on curriculum days up to through
func (r *MetricsRepositoryImpl) TotalTaskCount(ctx context.Context, cohort string, through time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM tasks t
		JOIN curriculum_days cd ON cd.day_id = t.day_id
		WHERE cd.cohort = $1 AND cd.day_date <= $2
	`, cohort, through)
	if err != nil {
		return 0, wrapQueryError(err, "count tasks")
	}
	return count, nil
}

// AttendanceByDay aggregates attendance statuses per day
func (r *MetricsRepositoryImpl) AttendanceByDay(ctx context.Context, cohort string, from, to time.Time) ([]metrics.DailyAttendance, error) {
	var days []metrics.DailyAttendance
	err := r.db.SelectContext(ctx, &days, `
		SELECT
			a.attendance_date,
			COUNT(*) FILTER (WHERE a.status = 'present') AS present,
			COUNT(*) FILTER (WHERE a.status = 'late')    AS late,
			COUNT(*) FILTER (WHERE a.status = 'absent')  AS absent,
			COUNT(*) FILTER (WHERE a.status = 'excused') AS excused
		FROM builder_attendance a
		JOIN users u ON u.user_id = a.user_id
		WHERE u.cohort = $1 AND u.role = 'builder' AND u.active = true
			AND a.attendance_date BETWEEN $2 AND $3
		GROUP BY a.attendance_date
		ORDER BY a.attendance_date
	`, cohort, from, to)
	if err != nil {
		return nil, wrapQueryError(err, "aggregate attendance")
	}
	return days, nil
}

// BuilderProgress returns attendance and completion totals per builder
func (r *MetricsRepositoryImpl) BuilderProgress(ctx context.Context, cohort string, through time.Time) ([]metrics.BuilderProgress, error) {
	var progress []metrics.BuilderProgress
	err := r.db.SelectContext(ctx, &progress, `
		SELECT
			u.user_id,
			u.first_name || ' ' || u.last_name AS name,
			COALESCE(att.days_attended, 0) AS days_attended,
			COALESCE(sub.tasks_completed, 0) AS tasks_completed
		FROM users u
		LEFT JOIN (
			SELECT user_id, COUNT(DISTINCT attendance_date) AS days_attended
			FROM builder_attendance
			WHERE status = ANY($3) AND attendance_date <= $2
			GROUP BY user_id
		) att ON att.user_id = u.user_id
		LEFT JOIN (
			SELECT user_id, COUNT(DISTINCT task_id) AS tasks_completed
			FROM task_submissions
			WHERE submitted_at::date <= $2
			GROUP BY user_id
		) sub ON sub.user_id = u.user_id
		WHERE u.cohort = $1 AND u.role = 'builder' AND u.active = true
		ORDER BY u.user_id
	`, cohort, through, pq.Array(metrics.AttendedStatuses))
	if err != nil {
		return nil, wrapQueryError(err, "load builder progress")
	}
	return progress, nil
}

// QualitySummary averages the overall quality score of graded submissions
func (r *MetricsRepositoryImpl) QualitySummary(ctx context.Context, cohort string) (metrics.QualitySummary, error) {
	var summary metrics.QualitySummary
	err := r.db.GetContext(ctx, &summary, `
		SELECT
			COALESCE(AVG(ta.overall_score), 0)::float8 AS average_score,
			COUNT(ta.submission_id) AS submissions
		FROM task_analyses ta
		JOIN task_submissions s ON s.submission_id = ta.submission_id
		JOIN users u ON u.user_id = s.user_id
		WHERE u.cohort = $1
	`, cohort)
	if err != nil {
		return metrics.QualitySummary{}, wrapQueryError(err, "summarize quality")
	}
	return summary, nil
}

// QualityRubricBreakdown averages each rubric category
func (r *MetricsRepositoryImpl) QualityRubricBreakdown(ctx context.Context, cohort string) ([]metrics.RubricScore, error) {
	var scores []metrics.RubricScore
	err := r.db.SelectContext(ctx, &scores, `
		SELECT category, COALESCE(AVG(score), 0)::float8 AS average_score, COUNT(score) AS submissions
		FROM (
			SELECT 'Technical Skills' AS category, ta.technical_score AS score, u.cohort
			FROM task_analyses ta
			JOIN task_submissions s ON s.submission_id = ta.submission_id
			JOIN users u ON u.user_id = s.user_id
			UNION ALL
			SELECT 'Business Value', ta.business_score, u.cohort
			FROM task_analyses ta
			JOIN task_submissions s ON s.submission_id = ta.submission_id
			JOIN users u ON u.user_id = s.user_id
			UNION ALL
			SELECT 'Professional Skills', ta.professional_score, u.cohort
			FROM task_analyses ta
			JOIN task_submissions s ON s.submission_id = ta.submission_id
			JOIN users u ON u.user_id = s.user_id
		) rubric
		WHERE cohort = $1
		GROUP BY category
		ORDER BY category
	`, cohort)
	if err != nil {
		return nil, wrapQueryError(err, "break down rubric scores")
	}
	return scores, nil
}

// AttendanceRecords lists individual attendance rows for drill-down
func (r *MetricsRepositoryImpl) AttendanceRecords(ctx context.Context, cohort string, from, to time.Time) ([]metrics.AttendanceRecord, error) {
	var records []metrics.AttendanceRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT
			u.user_id,
			u.first_name || ' ' || u.last_name AS name,
			a.attendance_date,
			a.status,
			a.check_in_time
		FROM builder_attendance a
		JOIN users u ON u.user_id = a.user_id
		WHERE u.cohort = $1 AND u.role = 'builder' AND u.active = true
			AND a.attendance_date BETWEEN $2 AND $3
		ORDER BY a.attendance_date, name
	`, cohort, from, to)
	if err != nil {
		return nil, wrapQueryError(err, "list attendance records")
	}
	return records, nil
}
