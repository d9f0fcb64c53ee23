package ui

import (
	"context"
	"net/http"
	"time"

	"cohortpulse/app"
	"cohortpulse/domain/cohort"
	"cohortpulse/internal"
	"cohortpulse/internal/errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database reachability for the health endpoint
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies wires the server to the application services
type Dependencies struct {
	Dashboard     *app.DashboardService
	Queries       *app.QueryService
	Registry      *cohort.Registry
	DB            Pinger
	DefaultCohort string
	Logger        *internal.Logger
	Now           func() time.Time
}

// Server is the JSON API behind the cohort dashboard
type Server struct {
	router        *gin.Engine
	dashboard     *app.DashboardService
	queries       *app.QueryService
	registry      *cohort.Registry
	db            Pinger
	defaultCohort string
	logger        *internal.Logger
	now           func() time.Time
}

// NewServer creates a new web server instance with routes registered
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:        gin.New(),
		dashboard:     deps.Dashboard,
		queries:       deps.Queries,
		registry:      deps.Registry,
		db:            deps.DB,
		defaultCohort: deps.DefaultCohort,
		logger:        deps.Logger,
		now:           deps.Now,
	}
	if s.registry == nil {
		s.registry = cohort.DefaultRegistry()
	}
	if s.defaultCohort == "" {
		s.defaultCohort = cohort.September2025.Name
	}
	if s.logger == nil {
		s.logger = internal.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	cohorts := api.Group("/cohorts")
	cohorts.GET("", s.handleListCohorts)
	cohorts.GET("/:name/weeks", s.handleCohortWeeks)
	cohorts.GET("/:name/current-week", s.handleCurrentWeek)

	dashboard := api.Group("/dashboard")
	dashboard.GET("/overview", s.handleOverview)
	dashboard.GET("/weekly-attendance", s.handleWeeklyAttendance)
	dashboard.GET("/quality", s.handleQuality)
	dashboard.GET("/hypotheses/attendance-completion", s.handleAttendanceHypothesis)
	dashboard.GET("/drilldown/:week", s.handleDrillDown)

	api.POST("/query", s.handleAsk)
	api.POST("/query/sql", s.handleRunSQL)
	api.POST("/query/export", s.handleExport)
	api.POST("/sql/validate", s.handleValidateSQL)
	api.POST("/cache/clear", s.handleClearCache)
}

// Handler exposes the router for http.Server and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "time": s.now().UTC().Format(time.RFC3339)}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Warn("[API] health check: database unreachable: %v", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(status, body)
}

// respondError writes err as {"error", "code"} with the status its code maps to
func (s *Server) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("[API] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	} else {
		s.logger.Debug("[API] %s %s rejected: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}

// cohortParam reads ?cohort=, falling back to the default cohort
func (s *Server) cohortParam(c *gin.Context) string {
	return c.DefaultQuery("cohort", s.defaultCohort)
}
