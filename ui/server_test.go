package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cohortpulse/adapters/excel"
	"cohortpulse/adapters/llm"
	"cohortpulse/app"
	"cohortpulse/domain/cohort"
	"cohortpulse/domain/core"
	"cohortpulse/domain/metrics"
	"cohortpulse/domain/query"
	"cohortpulse/internal/cache"
	"cohortpulse/internal/errors"
	"cohortpulse/internal/sqlfix"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRepo struct {
	recordsCalls int
}

func (f *fakeRepo) ActiveBuilderCount(ctx context.Context, cohort string) (int, error) {
	return 4, nil
}

func (f *fakeRepo) TotalTaskCount(ctx context.Context, cohort string, through time.Time) (int, error) {
	return 10, nil
}

func (f *fakeRepo) AttendanceByDay(ctx context.Context, cohort string, from, to time.Time) ([]metrics.DailyAttendance, error) {
	return []metrics.DailyAttendance{{Date: core.Date(2025, time.September, 6), Present: 3, Late: 1}}, nil
}

func (f *fakeRepo) BuilderProgress(ctx context.Context, cohort string, through time.Time) ([]metrics.BuilderProgress, error) {
	return []metrics.BuilderProgress{
		{UserID: 1, Name: "Ada", DaysAttended: 1, TasksCompleted: 5},
		{UserID: 2, Name: "Bo", DaysAttended: 0, TasksCompleted: 1},
	}, nil
}

func (f *fakeRepo) QualitySummary(ctx context.Context, cohort string) (metrics.QualitySummary, error) {
	return metrics.QualitySummary{AverageScore: 72.5, Submissions: 8}, nil
}

func (f *fakeRepo) QualityRubricBreakdown(ctx context.Context, cohort string) ([]metrics.RubricScore, error) {
	return []metrics.RubricScore{{Category: "Technical Skills", AverageScore: 70, Submissions: 8}}, nil
}

func (f *fakeRepo) AttendanceRecords(ctx context.Context, cohort string, from, to time.Time) ([]metrics.AttendanceRecord, error) {
	f.recordsCalls++
	return []metrics.AttendanceRecord{{UserID: 1, Name: "Ada", Date: from, Status: metrics.StatusPresent}}, nil
}

type fakeRunner struct {
	lastSQL string
	err     error
}

func (f *fakeRunner) Query(ctx context.Context, sql string, maxRows int) (*query.Table, error) {
	f.lastSQL = sql
	if f.err != nil {
		return nil, f.err
	}
	return &query.Table{Columns: []string{"week", "rate"}, Rows: [][]any{{int64(1), 80.0}, {int64(2), 75.5}}}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(ctx context.Context) error { return f.err }

type testEnv struct {
	server *Server
	repo   *fakeRepo
	runner *fakeRunner
	llm    *llm.MockLLMClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := &fakeRepo{}
	runner := &fakeRunner{}
	mockLLM := &llm.MockLLMClient{Response: "SELECT week, COUNT(*) * 100.0 / 24 AS rate FROM builder_attendance GROUP BY week"}

	dashboard := app.NewDashboardService(repo, cohort.DefaultRegistry(), cache.New("ui-"+t.Name()), time.Minute, nil)
	queries := app.NewQueryService(
		llm.NewTranslator(mockLLM, "gpt-4o-mini", 500),
		llm.NewInsightWriter(mockLLM, "gpt-4o-mini", 300),
		runner,
		excel.NewExporter(),
		sqlfix.NewCorrector(),
		app.QueryServiceConfig{DefaultCohort: "September 2025", MaxRows: 50},
		nil,
	)

	server := NewServer(Dependencies{
		Dashboard: dashboard,
		Queries:   queries,
		DB:        fakePinger{},
		Now:       func() time.Time { return time.Date(2025, time.October, 1, 12, 0, 0, 0, time.UTC) },
	})
	return &testEnv{server: server, repo: repo, runner: runner, llm: mockLLM}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	env.server.db = fakePinger{err: assert.AnError}

	rec := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestCohortRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/cohorts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "September 2025", decode(t, rec)["default"])

	rec = env.do(t, http.MethodGet, "/api/cohorts/September%202025/weeks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	weeks := decode(t, rec)["weeks"].([]any)
	assert.Len(t, weeks, 8)
	assert.Equal(t, "2025-09-06T00:00:00Z", weeks[0].(map[string]any)["startDate"])

	rec = env.do(t, http.MethodGet, "/api/cohorts/September%202025/current-week", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 4.0, body["week"])
	assert.Equal(t, "2025-10-01", body["date"])

	rec = env.do(t, http.MethodGet, "/api/cohorts/September%202025/current-week?date=2025-09-20", "")
	assert.Equal(t, 3.0, decode(t, rec)["week"])

	rec = env.do(t, http.MethodGet, "/api/cohorts/September%202025/current-week?date=20-09-2025", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/cohorts/Unknown/weeks", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.CodeNotFound, decode(t, rec)["code"])
}

func TestDashboardRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/dashboard/overview?date=2025-09-08", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overview := decode(t, rec)
	assert.Equal(t, 1.0, overview["currentWeek"])
	assert.Len(t, overview["kpis"], 5)

	rec = env.do(t, http.MethodGet, "/api/dashboard/weekly-attendance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["weeks"], 8)

	rec = env.do(t, http.MethodGet, "/api/dashboard/quality", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["categories"], 1)

	rec = env.do(t, http.MethodGet, "/api/dashboard/hypotheses/attendance-completion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hyp := decode(t, rec)
	assert.Len(t, hyp["samples"], 2)
	assert.Contains(t, hyp, "correlation")
	assert.Contains(t, hyp, "trendline")

	rec = env.do(t, http.MethodGet, "/api/dashboard/overview?cohort=Nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDrillDownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/dashboard/drilldown/2?cohort=September%202025", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["week"])
	assert.Equal(t, "Sep 13–19", body["dateRange"])

	for _, path := range []string{"/api/dashboard/drilldown/9", "/api/dashboard/drilldown/0", "/api/dashboard/drilldown/abc"} {
		rec = env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Equal(t, 1, env.repo.recordsCalls)
}

func TestCacheClearRoute(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/dashboard/drilldown/1", "")
	env.do(t, http.MethodGet, "/api/dashboard/drilldown/1", "")
	require.Equal(t, 1, env.repo.recordsCalls)

	rec := env.do(t, http.MethodPost, "/api/cache/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["cleared"])

	env.do(t, http.MethodGet, "/api/dashboard/drilldown/1", "")
	assert.Equal(t, 2, env.repo.recordsCalls)

	rec = env.do(t, http.MethodPost, "/api/cache/clear", `{"key":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/query", `{"question":"Weekly attendance?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	assert.Len(t, body["fixes"], 1)
	assert.NotContains(t, env.runner.lastSQL, "/ 24 ")
	assert.Equal(t, "line", body["chart"].(map[string]any)["type"])
	assert.NotEmpty(t, body["id"])

	rec = env.do(t, http.MethodPost, "/api/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRoute_LLMFailure(t *testing.T) {
	env := newTestEnv(t)
	env.llm.Error = errors.ExternalServiceError("openai", assert.AnError)

	rec := env.do(t, http.MethodPost, "/api/query", `{"question":"Anything?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRunSQLRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/query/sql", `{"sql":"DROP TABLE users"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, errors.CodeUnsafeQuery, decode(t, rec)["code"])
	assert.Empty(t, env.runner.lastSQL)

	env.runner.err = errors.WithCode(errors.CodeQueryTimeout, context.DeadlineExceeded)
	rec = env.do(t, http.MethodPost, "/api/query/sql", `{"sql":"SELECT 1"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestValidateSQLRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sql/validate", `{"sql":"SELECT COUNT(*) * 100.0 / 143 FROM task_submissions"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["hadIssues"], "143 followed by FROM is not a denominator position")

	rec = env.do(t, http.MethodPost, "/api/sql/validate", `{"sql":"SELECT COUNT(*) * 100.0 / 143 AS pct FROM task_submissions"}`)
	body = decode(t, rec)
	assert.Equal(t, true, body["hadIssues"])
	assert.Contains(t, body["sql"], "FROM tasks t JOIN curriculum_days")
	assert.Empty(t, env.runner.lastSQL, "validation never executes")
}

func TestExportRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/query/export", `{"sql":"SELECT week, rate FROM weekly"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, excel.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = env.do(t, http.MethodPost, "/api/query/export", `{"sql":"DELETE FROM users"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cohortpulse_http_requests_total")
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	generated := rec.Header().Get(requestIDHeader)
	_, err := core.ParseQueryID(generated)
	require.NoError(t, err)

	id := core.NewQueryID().String()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, id)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(requestIDHeader))
}
