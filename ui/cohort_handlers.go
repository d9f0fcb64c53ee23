package ui

import (
	"net/http"
	"time"

	"cohortpulse/domain/core"
	"cohortpulse/internal/errors"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleListCohorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cohorts": s.registry.All(),
		"default": s.defaultCohort,
	})
}

func (s *Server) handleCohortWeeks(c *gin.Context) {
	name := c.Param("name")
	weeks, err := s.registry.WeekRanges(name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohort": name, "weeks": weeks})
}

func (s *Server) handleCurrentWeek(c *gin.Context) {
	name := c.Param("name")
	asOf, err := s.dateParam(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	week, err := s.registry.CurrentWeek(name, asOf)
	if err != nil {
		s.respondError(c, err)
		return
	}
	wr, err := s.registry.WeekRange(name, week)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cohort": name,
		"date":   core.FormatDate(asOf),
		"week":   week,
		"range":  wr,
	})
}

// dateParam reads ?date=YYYY-MM-DD, defaulting to today
func (s *Server) dateParam(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return core.DateOnly(s.now()), nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return time.Time{}, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return d, nil
}
