package ports

import (
	"context"

	"cohortpulse/domain/query"
)

// QueryRunner executes read-only SQL and materializes at most maxRows rows
type QueryRunner interface {
	Query(ctx context.Context, sql string, maxRows int) (*query.Table, error)
}
