package app

import (
	"context"
	"math"
	"time"

	"cohortpulse/domain/cohort"
	"cohortpulse/domain/core"
	"cohortpulse/domain/metrics"
	"cohortpulse/internal"
	"cohortpulse/internal/analysis"
	"cohortpulse/internal/cache"
	"cohortpulse/internal/errors"
	"cohortpulse/ports"

	"golang.org/x/sync/errgroup"
)

// KPI keys reported by Overview
const (
	KPIActiveBuilders    = "active_builders"
	KPIAttendanceRate    = "attendance_rate"
	KPITaskCompletion    = "task_completion_rate"
	KPIAverageQuality    = "average_quality"
	KPICurrentWeek       = "current_week"
	percentUnit          = "%"
	hypothesisCacheSpace = "hypothesis:attendance-completion"
)

// AttendanceCompletion is the attendance vs task completion scatter chart
type AttendanceCompletion struct {
	Cohort  string            `json:"cohort"`
	AsOf    time.Time         `json:"asOf"`
	Samples []analysis.Sample `json:"samples"`
	analysis.CorrelationResult
}

// DashboardService computes the cohort dashboard aggregates. Every
// aggregate is served through the TTL cache.
type DashboardService struct {
	repo     ports.CohortMetricsRepository
	registry *cohort.Registry
	cache    *cache.Cache
	ttl      time.Duration
	logger   *internal.Logger
}

// NewDashboardService creates a dashboard service. A zero ttl uses the
// cache's default.
func NewDashboardService(repo ports.CohortMetricsRepository, registry *cohort.Registry, c *cache.Cache, ttl time.Duration, logger *internal.Logger) *DashboardService {
	if registry == nil {
		registry = cohort.DefaultRegistry()
	}
	if c == nil {
		c = cache.New("dashboard")
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &DashboardService{repo: repo, registry: registry, cache: c, ttl: ttl, logger: logger}
}

// Registry exposes the cohort registry backing the service
func (s *DashboardService) Registry() *cohort.Registry {
	return s.registry
}

// Overview computes the KPI cards as of the given day
func (s *DashboardService) Overview(ctx context.Context, name string, asOf time.Time) (*metrics.Overview, error) {
	c, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	day := core.DateOnly(asOf)
	key := core.CacheKey("overview", c.Name, core.FormatDate(day))

	return cache.GetCached(ctx, s.cache, key, func(ctx context.Context) (*metrics.Overview, error) {
		return s.computeOverview(ctx, c, day)
	}, s.ttl)
}

func (s *DashboardService) computeOverview(ctx context.Context, c cohort.Cohort, day time.Time) (*metrics.Overview, error) {
	through := day
	if end := core.DateOnly(c.EndDate); through.After(end) {
		through = end
	}

	var (
		activeBuilders int
		totalTasks     int
		days           []metrics.DailyAttendance
		progress       []metrics.BuilderProgress
		quality        metrics.QualitySummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		activeBuilders, err = s.repo.ActiveBuilderCount(gctx, c.Name)
		return err
	})
	g.Go(func() error {
		var err error
		totalTasks, err = s.repo.TotalTaskCount(gctx, c.Name, through)
		return err
	})
	g.Go(func() error {
		var err error
		days, err = s.repo.AttendanceByDay(gctx, c.Name, c.StartDate, through)
		return err
	})
	g.Go(func() error {
		var err error
		progress, err = s.repo.BuilderProgress(gctx, c.Name, through)
		return err
	})
	g.Go(func() error {
		var err error
		quality, err = s.repo.QualitySummary(gctx, c.Name)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("[DashboardService] overview for %s failed: %v", c.Name, err)
		return nil, errors.Wrap(err, "failed to compute overview")
	}

	classDays := c.ClassDaysElapsed(day)
	attended := 0
	for _, d := range days {
		attended += classDayAttendance(d)
	}
	completed := 0
	for _, p := range progress {
		completed += p.TasksCompleted
	}
	currentWeek := cohort.CurrentWeek(c, day)

	return &metrics.Overview{
		Cohort:      c.Name,
		AsOf:        day,
		CurrentWeek: currentWeek,
		KPIs: []metrics.KPI{
			{Key: KPIActiveBuilders, Label: "Active Builders", Value: float64(activeBuilders)},
			{
				Key:         KPIAttendanceRate,
				Label:       "Attendance Rate",
				Value:       percent(attended, activeBuilders*classDays),
				Unit:        percentUnit,
				Denominator: classDays,
			},
			{
				Key:         KPITaskCompletion,
				Label:       "Task Completion Rate",
				Value:       percent(completed, activeBuilders*totalTasks),
				Unit:        percentUnit,
				Denominator: totalTasks,
			},
			{Key: KPIAverageQuality, Label: "Average Quality Score", Value: round1(quality.AverageScore), Unit: "/100"},
			{Key: KPICurrentWeek, Label: "Current Week", Value: float64(currentWeek), Denominator: c.TotalWeeks},
		},
	}, nil
}

// WeeklyAttendance computes the attendance rate of each cohort week
func (s *DashboardService) WeeklyAttendance(ctx context.Context, name string) ([]metrics.WeeklyAttendance, error) {
	c, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	return cache.GetCached(ctx, s.cache, core.CacheKey("weekly-attendance", c.Name), func(ctx context.Context) ([]metrics.WeeklyAttendance, error) {
		var (
			activeBuilders int
			days           []metrics.DailyAttendance
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			activeBuilders, err = s.repo.ActiveBuilderCount(gctx, c.Name)
			return err
		})
		g.Go(func() error {
			var err error
			days, err = s.repo.AttendanceByDay(gctx, c.Name, c.StartDate, c.EndDate)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "failed to compute weekly attendance")
		}

		weeks := cohort.CalculateWeekRanges(c)
		out := make([]metrics.WeeklyAttendance, 0, len(weeks))
		for _, w := range weeks {
			attended := 0
			for _, d := range days {
				if w.Contains(core.DateOnly(d.Date)) {
					attended += classDayAttendance(d)
				}
			}
			classDays := cohort.ClassDaysBetween(w.Start, w.End)
			out = append(out, metrics.WeeklyAttendance{
				Week:           w.Week,
				Label:          w.Label,
				DateRange:      w.DateRange,
				ClassDays:      classDays,
				AttendanceRate: percent(attended, activeBuilders*classDays),
			})
		}
		return out, nil
	}, s.ttl)
}

// AttendanceHypothesis correlates each builder's attendance rate with their
// task completion rate, both as percentages of what was possible by asOf.
func (s *DashboardService) AttendanceHypothesis(ctx context.Context, name string, asOf time.Time) (*AttendanceCompletion, error) {
	c, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	day := core.DateOnly(asOf)
	through := day
	if end := core.DateOnly(c.EndDate); through.After(end) {
		through = end
	}
	key := core.CacheKey(hypothesisCacheSpace, c.Name, core.FormatDate(day))

	return cache.GetCached(ctx, s.cache, key, func(ctx context.Context) (*AttendanceCompletion, error) {
		var (
			totalTasks int
			progress   []metrics.BuilderProgress
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			totalTasks, err = s.repo.TotalTaskCount(gctx, c.Name, through)
			return err
		})
		g.Go(func() error {
			var err error
			progress, err = s.repo.BuilderProgress(gctx, c.Name, through)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "failed to load builder progress")
		}

		classDays := c.ClassDaysElapsed(day)
		samples := make([]analysis.Sample, 0, len(progress))
		for _, p := range progress {
			samples = append(samples, analysis.Sample{
				X:     percent(p.DaysAttended, classDays),
				Y:     percent(p.TasksCompleted, totalTasks),
				Label: p.Name,
			})
		}

		return &AttendanceCompletion{
			Cohort:            c.Name,
			AsOf:              day,
			Samples:           samples,
			CorrelationResult: analysis.Correlate(samples),
		}, nil
	}, s.ttl)
}

// QualityBreakdown returns the overall quality score and rubric averages
func (s *DashboardService) QualityBreakdown(ctx context.Context, name string) (*metrics.QualityBreakdown, error) {
	c, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	return cache.GetCached(ctx, s.cache, core.CacheKey("quality", c.Name), func(ctx context.Context) (*metrics.QualityBreakdown, error) {
		var (
			overall    metrics.QualitySummary
			categories []metrics.RubricScore
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			overall, err = s.repo.QualitySummary(gctx, c.Name)
			return err
		})
		g.Go(func() error {
			var err error
			categories, err = s.repo.QualityRubricBreakdown(gctx, c.Name)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "failed to compute quality breakdown")
		}
		if categories == nil {
			categories = []metrics.RubricScore{}
		}
		return &metrics.QualityBreakdown{Cohort: c.Name, Overall: overall, Categories: categories}, nil
	}, s.ttl)
}

// DrillDown lists the attendance rows behind one week of the weekly chart.
// Weeks outside the cohort are INVALID_INPUT errors.
func (s *DashboardService) DrillDown(ctx context.Context, name string, week int) (*metrics.DrillDown, error) {
	wr, err := s.registry.WeekRange(name, week)
	if err != nil {
		return nil, err
	}

	key := core.CacheKey("drilldown", name, core.FormatDate(wr.Start))
	return cache.GetCached(ctx, s.cache, key, func(ctx context.Context) (*metrics.DrillDown, error) {
		records, err := s.repo.AttendanceRecords(ctx, name, wr.Start, wr.End)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load attendance records")
		}
		if records == nil {
			records = []metrics.AttendanceRecord{}
		}
		return &metrics.DrillDown{Cohort: name, Week: wr.Week, DateRange: wr.DateRange, Records: records}, nil
	}, s.ttl)
}

// InvalidateCache drops one cached aggregate, or all of them when key is
// empty. It returns the number of entries removed.
func (s *DashboardService) InvalidateCache(key string) int {
	before := s.cache.Len()
	if key == "" {
		s.cache.Clear()
	} else {
		s.cache.ClearEntry(key)
	}
	removed := before - s.cache.Len()
	s.logger.Info("[DashboardService] %s cache invalidated (key=%q, removed=%d)", s.cache.Name(), key, removed)
	return removed
}

// classDayAttendance counts a day's attendance only when it is a class
// day. Rows logged on off days are outside the denominator and would push
// rates past 100%.
func classDayAttendance(d metrics.DailyAttendance) int {
	if !cohort.IsClassDay(d.Date) {
		return 0
	}
	return d.Attended()
}

// percent returns part/whole as a percentage rounded to one decimal, or 0
// when whole is not positive.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round1(float64(part) * 100 / float64(whole))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
