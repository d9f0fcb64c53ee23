package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"cohortpulse/domain/core"
	"cohortpulse/domain/query"
	"cohortpulse/internal/errors"
	"cohortpulse/internal/sqlfix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTranslator struct {
	mock.Mock
}

func (m *mockTranslator) Translate(ctx context.Context, question, cohort string) (string, error) {
	args := m.Called(ctx, question, cohort)
	return args.String(0), args.Error(1)
}

type mockInsights struct {
	mock.Mock
}

func (m *mockInsights) Summarize(ctx context.Context, question string, table *query.Table) (string, error) {
	args := m.Called(ctx, question, table)
	return args.String(0), args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Query(ctx context.Context, sql string, maxRows int) (*query.Table, error) {
	args := m.Called(ctx, sql, maxRows)
	if t := args.Get(0); t != nil {
		return t.(*query.Table), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Write(w io.Writer, table *query.Table) error {
	args := m.Called(w, table)
	if args.Error(0) == nil {
		_, _ = w.Write([]byte("xlsx"))
	}
	return args.Error(0)
}

func (m *mockExporter) Filename() string {
	return "out.xlsx"
}

// newTestQueryService leaves unset collaborators as untyped nils so the
// service sees them as absent.
func newTestQueryService(tr *mockTranslator, in *mockInsights, run *mockRunner, ex *mockExporter) *QueryService {
	cfg := QueryServiceConfig{DefaultCohort: "September 2025", MaxRows: 100}
	s := NewQueryService(nil, nil, run, nil, sqlfix.NewCorrector(), cfg, nil)
	if tr != nil {
		s.translator = tr
	}
	if in != nil {
		s.insights = in
	}
	if ex != nil {
		s.exporter = ex
	}
	return s
}

func TestQueryService_AskAppliesCorrections(t *testing.T) {
	tr := &mockTranslator{}
	run := &mockRunner{}
	ctx := context.Background()

	tr.On("Translate", ctx, "Attendance rate per builder?", "September 2025").
		Return("SELECT user_id, COUNT(*) * 100.0 / 24 AS rate FROM builder_attendance GROUP BY user_id;", nil)
	run.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return !strings.Contains(sql, "/ 24 ") && strings.Contains(sql, "curriculum_days")
	}), 100).Return(&query.Table{
		Columns: []string{"user_id", "rate"},
		Rows:    [][]any{{int64(1), 87.5}, {int64(2), 75.0}},
	}, nil)

	s := newTestQueryService(tr, nil, run, nil)
	res, err := s.Ask(ctx, query.Request{Question: "  Attendance rate per builder?  "})
	require.NoError(t, err)

	assert.Equal(t, "Attendance rate per builder?", res.Question)
	assert.Equal(t, "SELECT user_id, COUNT(*) * 100.0 / 24 AS rate FROM builder_attendance GROUP BY user_id", res.OriginalSQL)
	require.Len(t, res.Fixes, 1)
	assert.Contains(t, res.Fixes[0], "class day count (24)")
	assert.False(t, core.ID(res.ID).IsEmpty())
	assert.Equal(t, query.ChartTable, res.Chart.Type, "numeric first column is not a label")
	assert.Empty(t, res.InsightsHTML)
	tr.AssertExpectations(t)
	run.AssertExpectations(t)
}

func TestQueryService_AskWithoutTranslator(t *testing.T) {
	s := NewQueryService(nil, nil, &mockRunner{}, nil, nil, QueryServiceConfig{}, nil)

	_, err := s.Ask(context.Background(), query.Request{Question: "anything"})
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
}

func TestQueryService_AskRejectsUnsafeSQL(t *testing.T) {
	tr := &mockTranslator{}
	run := &mockRunner{}
	tr.On("Translate", mock.Anything, "wipe it", "Cohort B").Return("DELETE FROM users", nil)

	s := newTestQueryService(tr, nil, run, nil)
	_, err := s.Ask(context.Background(), query.Request{Question: "wipe it", Cohort: "Cohort B"})

	assert.Equal(t, errors.CodeUnsafeQuery, errors.GetCode(err))
	run.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryService_AskTranslationError(t *testing.T) {
	tr := &mockTranslator{}
	tr.On("Translate", mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.ExternalServiceError("openai", assert.AnError))

	s := newTestQueryService(tr, nil, &mockRunner{}, nil)
	_, err := s.Ask(context.Background(), query.Request{Question: "q"})

	assert.Equal(t, errors.CodeExternalService, errors.GetCode(err))
}

func TestQueryService_AskWithInsights(t *testing.T) {
	tr := &mockTranslator{}
	in := &mockInsights{}
	run := &mockRunner{}
	table := &query.Table{Columns: []string{"week", "rate"}, Rows: [][]any{{int64(1), 90.0}, {int64(2), 85.0}}}

	tr.On("Translate", mock.Anything, "Weekly attendance?", "September 2025").Return("SELECT week, rate FROM weekly", nil)
	run.On("Query", mock.Anything, "SELECT week, rate FROM weekly", 100).Return(table, nil)
	in.On("Summarize", mock.Anything, "Weekly attendance?", table).Return("- Attendance **fell** to 85%", nil)

	s := newTestQueryService(tr, in, run, nil)
	res, err := s.Ask(context.Background(), query.Request{Question: "Weekly attendance?", IncludeInsights: true})
	require.NoError(t, err)

	assert.Equal(t, query.ChartSpec{Type: query.ChartLine, XColumn: "week", YColumns: []string{"rate"}}, res.Chart)
	assert.Contains(t, res.InsightsHTML, "<li>")
	assert.Contains(t, res.InsightsHTML, "<strong>fell</strong>")
	assert.Empty(t, res.Fixes)
	assert.NotNil(t, res.Fixes)
}

func TestQueryService_InsightFailureKeepsResult(t *testing.T) {
	tr := &mockTranslator{}
	in := &mockInsights{}
	run := &mockRunner{}
	table := &query.Table{Columns: []string{"n"}, Rows: [][]any{{int64(3)}}}

	tr.On("Translate", mock.Anything, mock.Anything, mock.Anything).Return("SELECT 3 AS n", nil)
	run.On("Query", mock.Anything, "SELECT 3 AS n", 100).Return(table, nil)
	in.On("Summarize", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError)

	s := newTestQueryService(tr, in, run, nil)
	res, err := s.Ask(context.Background(), query.Request{Question: "q", IncludeInsights: true})
	require.NoError(t, err)

	assert.Empty(t, res.InsightsHTML)
	assert.Equal(t, query.ChartScalar, res.Chart.Type)
}

func TestQueryService_RunPropagatesRunnerError(t *testing.T) {
	run := &mockRunner{}
	run.On("Query", mock.Anything, mock.Anything, 100).
		Return(nil, errors.WithCode(errors.CodeQueryTimeout, assert.AnError))

	s := newTestQueryService(nil, nil, run, nil)
	_, err := s.Run(context.Background(), query.SQLRequest{SQL: "SELECT pg_sleep(60)"})

	assert.Equal(t, errors.CodeQueryTimeout, errors.GetCode(err))
}

func TestQueryService_Validate(t *testing.T) {
	s := newTestQueryService(nil, nil, &mockRunner{}, nil)

	res, err := s.Validate("SELECT COUNT(*) * 100.0 / 79 AS pct FROM users;", "")
	require.NoError(t, err)
	assert.True(t, res.HadIssues)
	assert.Contains(t, res.SQL, "FROM users u WHERE u.role = 'builder'")

	_, err = s.Validate("DROP TABLE users", "")
	assert.Equal(t, errors.CodeUnsafeQuery, errors.GetCode(err))
}

func TestQueryService_Export(t *testing.T) {
	run := &mockRunner{}
	ex := &mockExporter{}
	table := &query.Table{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}
	run.On("Query", mock.Anything, "SELECT 1 AS n", 100).Return(table, nil)
	ex.On("Write", mock.Anything, table).Return(nil)

	s := newTestQueryService(nil, nil, run, ex)
	var buf bytes.Buffer
	require.NoError(t, s.Export(context.Background(), query.SQLRequest{SQL: "SELECT 1 AS n"}, &buf))

	assert.Equal(t, "xlsx", buf.String())
	assert.Equal(t, "out.xlsx", s.ExportFilename())
}

func TestQueryService_ExportWithoutExporter(t *testing.T) {
	s := newTestQueryService(nil, nil, &mockRunner{}, nil)
	err := s.Export(context.Background(), query.SQLRequest{SQL: "SELECT 1"}, io.Discard)
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
}

func TestSuggestChart(t *testing.T) {
	tests := []struct {
		name  string
		table *query.Table
		want  query.ChartSpec
	}{
		{"nil", nil, query.ChartSpec{Type: query.ChartTable}},
		{"empty rows", &query.Table{Columns: []string{"a"}}, query.ChartSpec{Type: query.ChartTable}},
		{
			"scalar",
			&query.Table{Columns: []string{"total"}, Rows: [][]any{{int64(42)}}},
			query.ChartSpec{Type: query.ChartScalar, YColumns: []string{"total"}},
		},
		{
			"numeric text scalar",
			&query.Table{Columns: []string{"avg"}, Rows: [][]any{{"87.50"}}},
			query.ChartSpec{Type: query.ChartScalar, YColumns: []string{"avg"}},
		},
		{
			"single text column",
			&query.Table{Columns: []string{"name"}, Rows: [][]any{{"ada"}}},
			query.ChartSpec{Type: query.ChartTable},
		},
		{
			"temporal line",
			&query.Table{Columns: []string{"attendance_date", "present", "name"}, Rows: [][]any{{"2025-09-06", int64(20), "x"}}},
			query.ChartSpec{Type: query.ChartLine, XColumn: "attendance_date", YColumns: []string{"present"}},
		},
		{
			"label bar",
			&query.Table{Columns: []string{"category", "avg_score"}, Rows: [][]any{{"Technical", 81.2}, {"Business", nil}}},
			query.ChartSpec{Type: query.ChartBar, XColumn: "category", YColumns: []string{"avg_score"}},
		},
		{
			"no numeric series",
			&query.Table{Columns: []string{"first_name", "last_name"}, Rows: [][]any{{"Ada", "L"}}},
			query.ChartSpec{Type: query.ChartTable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestChart(tt.table))
		})
	}
}
