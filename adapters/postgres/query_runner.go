package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"cohortpulse/domain/query"
	"cohortpulse/internal/errors"
	"cohortpulse/ports"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// QueryRunnerImpl executes generated SQL inside a read-only transaction
type QueryRunnerImpl struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewQueryRunner creates a runner; timeout becomes the statement_timeout
func NewQueryRunner(db *sqlx.DB, timeout time.Duration) ports.QueryRunner {
	return &QueryRunnerImpl{db: db, timeout: timeout}
}

// Query runs stmt and materializes at most maxRows rows
func (r *QueryRunnerImpl) Query(ctx context.Context, stmt string, maxRows int) (*query.Table, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, wrapQueryError(err, "begin read-only transaction")
	}
	defer tx.Rollback()

	if r.timeout > 0 {
		// SET does not take bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())); err != nil {
			return nil, wrapQueryError(err, "set statement timeout")
		}
	}

	rows, err := tx.QueryxContext(ctx, stmt)
	if err != nil {
		return nil, wrapQueryError(err, "execute query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, wrapQueryError(err, "read columns")
	}

	table := &query.Table{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if maxRows > 0 && len(table.Rows) >= maxRows {
			table.Truncated = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return nil, wrapQueryError(err, "scan row")
		}
		table.Rows = append(table.Rows, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(err, "iterate rows")
	}

	return table, nil
}

// normalizeRow converts driver values into JSON-friendly ones
func normalizeRow(values []any) []any {
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values
}

// Postgres SQLSTATE codes that mean the statement itself is bad rather than
// the database being unhealthy
var invalidStatementCodes = map[pq.ErrorCode]bool{
	"42601": true, // syntax_error
	"42P01": true, // undefined_table
	"42703": true, // undefined_column
	"42883": true, // undefined_function
	"42803": true, // grouping_error
	"22012": true, // division_by_zero
	"25006": true, // read_only_sql_transaction
}

// wrapQueryError classifies driver errors into application error codes
func wrapQueryError(err error, action string) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WithCode(errors.CodeQueryTimeout, fmt.Errorf("%s: %w", action, err))
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "57014": // query_canceled, raised by statement_timeout
			return errors.WithCode(errors.CodeQueryTimeout, fmt.Errorf("%s: %w", action, err))
		case invalidStatementCodes[pqErr.Code]:
			return errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("%s: %s", action, pqErr.Message))
		}
	}

	return errors.DatabaseError(action+" failed", err)
}
