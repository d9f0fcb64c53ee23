package migration

import (
	"context"

	"cohortpulse/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db sqlx.ExecerContext) error
	Version() string
}

// step is one idempotent schema statement
type step struct {
	name string
	sql  string
}

// MigrationRunner creates the tables the dashboard reads. It exists for
// development databases; production schemas are owned by the curriculum
// platform and every statement here is IF NOT EXISTS.
type MigrationRunner struct {
	version string
	steps   []step
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
		steps:   schemaSteps,
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Steps returns the step names in execution order
func (r *MigrationRunner) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.name
	}
	return names
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db sqlx.ExecerContext) error {
	for _, s := range r.steps {
		if _, err := db.ExecContext(ctx, s.sql); err != nil {
			return errors.Wrapf(err, "failed to %s", s.name)
		}
	}
	return nil
}

var schemaSteps = []step{
	{
		name: "create users table",
		sql: `
		CREATE TABLE IF NOT EXISTS users (
			user_id SERIAL PRIMARY KEY,
			first_name VARCHAR(100) NOT NULL,
			last_name VARCHAR(100) NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			role VARCHAR(50) NOT NULL DEFAULT 'builder',
			cohort VARCHAR(100),
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	},
	{
		name: "create curriculum_days table",
		sql: `
		CREATE TABLE IF NOT EXISTS curriculum_days (
			day_id SERIAL PRIMARY KEY,
			cohort VARCHAR(100) NOT NULL,
			day_number INTEGER NOT NULL,
			day_date DATE NOT NULL,
			UNIQUE (cohort, day_date)
		)`,
	},
	{
		name: "create tasks table",
		sql: `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id SERIAL PRIMARY KEY,
			day_id INTEGER NOT NULL REFERENCES curriculum_days(day_id) ON DELETE CASCADE,
			task_title TEXT NOT NULL,
			task_type VARCHAR(50)
		)`,
	},
	{
		name: "create builder_attendance table",
		sql: `
		CREATE TABLE IF NOT EXISTS builder_attendance (
			user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			attendance_date DATE NOT NULL,
			status VARCHAR(20) NOT NULL CHECK (status IN ('present', 'late', 'absent', 'excused')),
			check_in_time TIMESTAMP WITH TIME ZONE,
			cohort VARCHAR(100),
			PRIMARY KEY (user_id, attendance_date)
		)`,
	},
	{
		name: "create task_submissions table",
		sql: `
		CREATE TABLE IF NOT EXISTS task_submissions (
			submission_id SERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			task_id INTEGER NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
			submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			cohort VARCHAR(100)
		)`,
	},
	{
		name: "create task_analyses table",
		sql: `
		CREATE TABLE IF NOT EXISTS task_analyses (
			submission_id INTEGER PRIMARY KEY REFERENCES task_submissions(submission_id) ON DELETE CASCADE,
			overall_score NUMERIC(5,2),
			technical_score NUMERIC(5,2),
			business_score NUMERIC(5,2),
			professional_score NUMERIC(5,2),
			communication_score NUMERIC(5,2)
		)`,
	},
	{
		name: "create indexes",
		sql: `
		CREATE INDEX IF NOT EXISTS idx_users_cohort_role ON users(cohort, role) WHERE active = true;
		CREATE INDEX IF NOT EXISTS idx_attendance_date ON builder_attendance(attendance_date);
		CREATE INDEX IF NOT EXISTS idx_submissions_user ON task_submissions(user_id, submitted_at);
		CREATE INDEX IF NOT EXISTS idx_curriculum_days_cohort ON curriculum_days(cohort, day_date)`,
	},
}
