package ui

import (
	"strconv"
	"time"

	"cohortpulse/domain/core"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortpulse_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohortpulse_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// setupMiddleware configures Gin middleware
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
}

const requestIDHeader = "X-Request-ID"

// requestLogger records every request in the logger and in Prometheus.
// Unmatched routes are grouped under one label to bound cardinality.
// A well-formed X-Request-ID is echoed back; anything else is replaced.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID, err := core.ParseQueryID(c.GetHeader(requestIDHeader))
		if err != nil {
			reqID = core.NewQueryID()
		}
		c.Header(requestIDHeader, reqID.String())

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())
		s.logger.Debug("[API] %s %s -> %d (%v) id=%s", c.Request.Method, c.Request.URL.Path, status, elapsed, reqID)
	}
}
