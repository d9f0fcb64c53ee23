package app

import (
	"context"
	"testing"
	"time"

	"cohortpulse/domain/cohort"
	"cohortpulse/domain/core"
	"cohortpulse/domain/metrics"
	"cohortpulse/internal/cache"
	"cohortpulse/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMetricsRepository struct {
	mock.Mock
}

func (m *mockMetricsRepository) ActiveBuilderCount(ctx context.Context, cohort string) (int, error) {
	args := m.Called(ctx, cohort)
	return args.Int(0), args.Error(1)
}

func (m *mockMetricsRepository) TotalTaskCount(ctx context.Context, cohort string, through time.Time) (int, error) {
	args := m.Called(ctx, cohort, through)
	return args.Int(0), args.Error(1)
}

func (m *mockMetricsRepository) AttendanceByDay(ctx context.Context, cohort string, from, to time.Time) ([]metrics.DailyAttendance, error) {
	args := m.Called(ctx, cohort, from, to)
	days, _ := args.Get(0).([]metrics.DailyAttendance)
	return days, args.Error(1)
}

func (m *mockMetricsRepository) BuilderProgress(ctx context.Context, cohort string, through time.Time) ([]metrics.BuilderProgress, error) {
	args := m.Called(ctx, cohort, through)
	progress, _ := args.Get(0).([]metrics.BuilderProgress)
	return progress, args.Error(1)
}

func (m *mockMetricsRepository) QualitySummary(ctx context.Context, cohort string) (metrics.QualitySummary, error) {
	args := m.Called(ctx, cohort)
	return args.Get(0).(metrics.QualitySummary), args.Error(1)
}

func (m *mockMetricsRepository) QualityRubricBreakdown(ctx context.Context, cohort string) ([]metrics.RubricScore, error) {
	args := m.Called(ctx, cohort)
	scores, _ := args.Get(0).([]metrics.RubricScore)
	return scores, args.Error(1)
}

func (m *mockMetricsRepository) AttendanceRecords(ctx context.Context, cohort string, from, to time.Time) ([]metrics.AttendanceRecord, error) {
	args := m.Called(ctx, cohort, from, to)
	records, _ := args.Get(0).([]metrics.AttendanceRecord)
	return records, args.Error(1)
}

const testCohort = "September 2025"

func newTestDashboard(t *testing.T, repo *mockMetricsRepository) *DashboardService {
	return NewDashboardService(repo, cohort.DefaultRegistry(), cache.New("dashboard-"+t.Name()), time.Minute, nil)
}

func kpi(t *testing.T, o *metrics.Overview, key string) metrics.KPI {
	for _, k := range o.KPIs {
		if k.Key == key {
			return k
		}
	}
	t.Fatalf("kpi %s missing", key)
	return metrics.KPI{}
}

func TestDashboardService_Overview(t *testing.T) {
	repo := &mockMetricsRepository{}
	asOf := time.Date(2025, time.September, 15, 17, 30, 0, 0, time.UTC)
	day := core.Date(2025, time.September, 15)

	repo.On("ActiveBuilderCount", mock.Anything, testCohort).Return(10, nil)
	repo.On("TotalTaskCount", mock.Anything, testCohort, day).Return(20, nil)
	repo.On("AttendanceByDay", mock.Anything, testCohort, cohort.September2025.StartDate, day).Return([]metrics.DailyAttendance{
		{Date: core.Date(2025, time.September, 6), Present: 8, Late: 1, Absent: 1},
		{Date: core.Date(2025, time.September, 7), Present: 9, Excused: 1},
	}, nil)
	repo.On("BuilderProgress", mock.Anything, testCohort, day).Return([]metrics.BuilderProgress{
		{UserID: 1, Name: "Ada", TasksCompleted: 10},
		{UserID: 2, Name: "Bo", TasksCompleted: 5},
	}, nil)
	repo.On("QualitySummary", mock.Anything, testCohort).Return(metrics.QualitySummary{AverageScore: 81.26, Submissions: 40}, nil)

	svc := newTestDashboard(t, repo)
	o, err := svc.Overview(context.Background(), testCohort, asOf)
	require.NoError(t, err)

	assert.Equal(t, day, o.AsOf)
	assert.Equal(t, 2, o.CurrentWeek)
	assert.Equal(t, 10.0, kpi(t, o, KPIActiveBuilders).Value)

	attendance := kpi(t, o, KPIAttendanceRate)
	assert.Equal(t, 22.5, attendance.Value) // 18 of 10 builders x 8 class days
	assert.Equal(t, 8, attendance.Denominator)

	completion := kpi(t, o, KPITaskCompletion)
	assert.Equal(t, 7.5, completion.Value)
	assert.Equal(t, 20, completion.Denominator)

	assert.Equal(t, 81.3, kpi(t, o, KPIAverageQuality).Value)
	assert.Equal(t, 8, kpi(t, o, KPICurrentWeek).Denominator)

	// served from cache on the same day
	_, err = svc.Overview(context.Background(), testCohort, asOf.Add(time.Hour))
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "ActiveBuilderCount", 1)
}

func TestDashboardService_OverviewAfterCohortEnd(t *testing.T) {
	repo := &mockMetricsRepository{}
	end := cohort.September2025.EndDate

	repo.On("ActiveBuilderCount", mock.Anything, testCohort).Return(0, nil)
	repo.On("TotalTaskCount", mock.Anything, testCohort, end).Return(0, nil)
	repo.On("AttendanceByDay", mock.Anything, testCohort, mock.Anything, end).Return(nil, nil)
	repo.On("BuilderProgress", mock.Anything, testCohort, end).Return(nil, nil)
	repo.On("QualitySummary", mock.Anything, testCohort).Return(metrics.QualitySummary{}, nil)

	svc := newTestDashboard(t, repo)
	o, err := svc.Overview(context.Background(), testCohort, core.Date(2025, time.December, 1))
	require.NoError(t, err)

	assert.Equal(t, 8, o.CurrentWeek)
	attendance := kpi(t, o, KPIAttendanceRate)
	assert.Equal(t, 0.0, attendance.Value, "no builders means no rate, not NaN")
	assert.Equal(t, 40, attendance.Denominator)
	repo.AssertExpectations(t)
}

func TestDashboardService_OverviewRepositoryError(t *testing.T) {
	repo := &mockMetricsRepository{}
	dbErr := errors.DatabaseError("count active builders failed", assert.AnError)

	repo.On("ActiveBuilderCount", mock.Anything, testCohort).Return(0, dbErr)
	repo.On("TotalTaskCount", mock.Anything, mock.Anything, mock.Anything).Return(1, nil).Maybe()
	repo.On("AttendanceByDay", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	repo.On("BuilderProgress", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	repo.On("QualitySummary", mock.Anything, mock.Anything).Return(metrics.QualitySummary{}, nil).Maybe()

	svc := newTestDashboard(t, repo)
	_, err := svc.Overview(context.Background(), testCohort, core.Date(2025, time.September, 15))

	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
	assert.Equal(t, 0, svc.cache.Len(), "failures are not cached")
}

func TestDashboardService_UnknownCohort(t *testing.T) {
	svc := newTestDashboard(t, &mockMetricsRepository{})

	_, err := svc.Overview(context.Background(), "Nope", time.Now())
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = svc.WeeklyAttendance(context.Background(), "Nope")
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestDashboardService_WeeklyAttendance(t *testing.T) {
	repo := &mockMetricsRepository{}
	repo.On("ActiveBuilderCount", mock.Anything, testCohort).Return(2, nil)
	repo.On("AttendanceByDay", mock.Anything, testCohort, cohort.September2025.StartDate, cohort.September2025.EndDate).
		Return([]metrics.DailyAttendance{
			{Date: core.Date(2025, time.September, 6), Present: 2},
			{Date: core.Date(2025, time.September, 14), Present: 1, Late: 1},
			{Date: core.Date(2025, time.October, 1), Present: 1, Absent: 1},
		}, nil)

	svc := newTestDashboard(t, repo)
	weeks, err := svc.WeeklyAttendance(context.Background(), testCohort)
	require.NoError(t, err)

	require.Len(t, weeks, 8)
	assert.Equal(t, metrics.WeeklyAttendance{Week: 1, Label: "Week 1", DateRange: "Sep 6–12", ClassDays: 5, AttendanceRate: 20}, weeks[0])
	assert.Equal(t, 20.0, weeks[1].AttendanceRate)
	assert.Equal(t, 0.0, weeks[2].AttendanceRate)
	assert.Equal(t, 10.0, weeks[3].AttendanceRate)
	assert.Equal(t, "Oct 25–29", weeks[7].DateRange)
}

func TestDashboardService_OffDayAttendanceIgnored(t *testing.T) {
	repo := &mockMetricsRepository{}
	day := core.Date(2025, time.September, 12)

	repo.On("ActiveBuilderCount", mock.Anything, testCohort).Return(2, nil)
	repo.On("TotalTaskCount", mock.Anything, testCohort, day).Return(0, nil)
	repo.On("AttendanceByDay", mock.Anything, testCohort, mock.Anything, mock.Anything).Return([]metrics.DailyAttendance{
		{Date: core.Date(2025, time.September, 6), Present: 2},
		{Date: core.Date(2025, time.September, 7), Present: 2},
		{Date: core.Date(2025, time.September, 8), Present: 2},
		{Date: core.Date(2025, time.September, 9), Present: 2},
		{Date: core.Date(2025, time.September, 10), Present: 2},
		// Thursday and Friday
		{Date: core.Date(2025, time.September, 11), Present: 2},
		{Date: core.Date(2025, time.September, 12), Present: 1, Late: 1},
	}, nil)
	repo.On("BuilderProgress", mock.Anything, testCohort, day).Return(nil, nil)
	repo.On("QualitySummary", mock.Anything, testCohort).Return(metrics.QualitySummary{}, nil)

	svc := newTestDashboard(t, repo)

	o, err := svc.Overview(context.Background(), testCohort, day)
	require.NoError(t, err)
	attendance := kpi(t, o, KPIAttendanceRate)
	assert.Equal(t, 5, attendance.Denominator)
	assert.Equal(t, 100.0, attendance.Value)

	weeks, err := svc.WeeklyAttendance(context.Background(), testCohort)
	require.NoError(t, err)
	assert.Equal(t, 100.0, weeks[0].AttendanceRate)
}

func TestDashboardService_AttendanceHypothesis(t *testing.T) {
	repo := &mockMetricsRepository{}
	day := core.Date(2025, time.September, 15)
	repo.On("TotalTaskCount", mock.Anything, testCohort, day).Return(10, nil)
	repo.On("BuilderProgress", mock.Anything, testCohort, day).Return([]metrics.BuilderProgress{
		{UserID: 1, Name: "Ada", DaysAttended: 8, TasksCompleted: 10},
		{UserID: 2, Name: "Bo", DaysAttended: 4, TasksCompleted: 5},
		{UserID: 3, Name: "Cy", DaysAttended: 2, TasksCompleted: 2},
	}, nil)

	svc := newTestDashboard(t, repo)
	res, err := svc.AttendanceHypothesis(context.Background(), testCohort, day)
	require.NoError(t, err)

	require.Len(t, res.Samples, 3)
	assert.Equal(t, 100.0, res.Samples[0].X)
	assert.Equal(t, 50.0, res.Samples[1].X)
	assert.Equal(t, 20.0, res.Samples[2].Y)
	assert.Equal(t, "Cy", res.Samples[2].Label)
	assert.Greater(t, res.Correlation, 0.9)
	assert.Len(t, res.Trendline, 2)
	assert.Equal(t, 1, res.Insights.TopGroupSize)
	assert.Equal(t, 100.0, res.Insights.TopGroupAvgX)
}

func TestDashboardService_QualityBreakdown(t *testing.T) {
	repo := &mockMetricsRepository{}
	repo.On("QualitySummary", mock.Anything, testCohort).Return(metrics.QualitySummary{AverageScore: 78, Submissions: 12}, nil)
	repo.On("QualityRubricBreakdown", mock.Anything, testCohort).Return(nil, nil)

	svc := newTestDashboard(t, repo)
	res, err := svc.QualityBreakdown(context.Background(), testCohort)
	require.NoError(t, err)

	assert.Equal(t, 78.0, res.Overall.AverageScore)
	assert.NotNil(t, res.Categories)
	assert.Empty(t, res.Categories)
}

func TestDashboardService_DrillDown(t *testing.T) {
	repo := &mockMetricsRepository{}
	start, end := core.Date(2025, time.September, 27), core.Date(2025, time.October, 3)
	repo.On("AttendanceRecords", mock.Anything, testCohort, start, end).Return([]metrics.AttendanceRecord{
		{UserID: 1, Name: "Ada", Date: core.Date(2025, time.October, 1), Status: metrics.StatusPresent},
	}, nil)

	svc := newTestDashboard(t, repo)
	dd, err := svc.DrillDown(context.Background(), testCohort, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, dd.Week)
	assert.Equal(t, "Sep 27–Oct 3", dd.DateRange)
	require.Len(t, dd.Records, 1)
}

func TestDashboardService_DrillDownOutOfRange(t *testing.T) {
	repo := &mockMetricsRepository{}
	svc := newTestDashboard(t, repo)

	for _, week := range []int{0, 9, -1} {
		_, err := svc.DrillDown(context.Background(), testCohort, week)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err), "week %d", week)
	}
	repo.AssertNotCalled(t, "AttendanceRecords", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDashboardService_InvalidateCache(t *testing.T) {
	repo := &mockMetricsRepository{}
	repo.On("QualitySummary", mock.Anything, testCohort).Return(metrics.QualitySummary{}, nil)
	repo.On("QualityRubricBreakdown", mock.Anything, testCohort).Return([]metrics.RubricScore{}, nil)
	repo.On("AttendanceRecords", mock.Anything, testCohort, mock.Anything, mock.Anything).Return(nil, nil)

	svc := newTestDashboard(t, repo)
	ctx := context.Background()
	_, _ = svc.QualityBreakdown(ctx, testCohort)
	_, _ = svc.DrillDown(ctx, testCohort, 1)
	require.Equal(t, 2, svc.cache.Len())

	assert.Equal(t, 1, svc.InvalidateCache(core.CacheKey("quality", testCohort)))
	assert.Equal(t, 0, svc.InvalidateCache("missing"))
	assert.Equal(t, 1, svc.InvalidateCache(""))

	_, _ = svc.QualityBreakdown(ctx, testCohort)
	repo.AssertNumberOfCalls(t, "QualitySummary", 2)
}
