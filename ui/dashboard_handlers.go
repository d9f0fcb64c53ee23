package ui

import (
	"io"
	"net/http"
	"strconv"

	"cohortpulse/internal/errors"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleOverview(c *gin.Context) {
	asOf, err := s.dateParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	overview, err := s.dashboard.Overview(c.Request.Context(), s.cohortParam(c), asOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) handleWeeklyAttendance(c *gin.Context) {
	name := s.cohortParam(c)
	weeks, err := s.dashboard.WeeklyAttendance(c.Request.Context(), name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohort": name, "weeks": weeks})
}

func (s *Server) handleQuality(c *gin.Context) {
	breakdown, err := s.dashboard.QualityBreakdown(c.Request.Context(), s.cohortParam(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, breakdown)
}

func (s *Server) handleAttendanceHypothesis(c *gin.Context) {
	asOf, err := s.dateParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	result, err := s.dashboard.AttendanceHypothesis(c.Request.Context(), s.cohortParam(c), asOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDrillDown(c *gin.Context) {
	week, err := strconv.Atoi(c.Param("week"))
	if err != nil {
		s.respondError(c, errors.InvalidInput("week must be a number"))
		return
	}
	dd, err := s.dashboard.DrillDown(c.Request.Context(), s.cohortParam(c), week)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dd)
}

func (s *Server) handleClearCache(c *gin.Context) {
	var req struct {
		Key string `json:"key"`
	}
	// an empty body clears everything
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		s.respondError(c, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}
	removed := s.dashboard.InvalidateCache(req.Key)
	c.JSON(http.StatusOK, gin.H{"cleared": removed, "key": req.Key})
}
