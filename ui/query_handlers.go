package ui

import (
	"bytes"
	"fmt"
	"net/http"

	"cohortpulse/adapters/excel"
	"cohortpulse/domain/query"
	"cohortpulse/internal/errors"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleAsk(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.InvalidInput("question is required"))
		return
	}
	s.logger.Info("[API] question: %q (cohort=%q)", req.Question, req.Cohort)

	result, err := s.queries.Ask(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRunSQL(c *gin.Context) {
	var req query.SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.InvalidInput("sql is required"))
		return
	}

	result, err := s.queries.Run(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleExport buffers the workbook so a failed query still gets a JSON
// error instead of a truncated download.
func (s *Server) handleExport(c *gin.Context) {
	var req query.SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.InvalidInput("sql is required"))
		return
	}

	var buf bytes.Buffer
	if err := s.queries.Export(c.Request.Context(), req, &buf); err != nil {
		s.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.queries.ExportFilename()))
	c.Data(http.StatusOK, excel.ContentType, buf.Bytes())
}

func (s *Server) handleValidateSQL(c *gin.Context) {
	var req query.SQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.InvalidInput("sql is required"))
		return
	}

	result, err := s.queries.Validate(req.SQL, req.Cohort)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
