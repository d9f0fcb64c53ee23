package query

import (
	"cohortpulse/domain/core"
)

// Chart types the dashboard knows how to render
const (
	ChartLine   = "line"
	ChartBar    = "bar"
	ChartScalar = "scalar"
	ChartTable  = "table"
)

// Table is a materialized result set. Values are JSON-friendly: []byte
// columns are converted to strings by the runner.
type Table struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
}

// ChartSpec tells the UI how to plot a Table
type ChartSpec struct {
	Type     string   `json:"type"`
	XColumn  string   `json:"xColumn,omitempty"`
	YColumns []string `json:"yColumns,omitempty"`
}

// Request is a natural language question
type Request struct {
	Question        string `json:"question" binding:"required"`
	Cohort          string `json:"cohort"`
	IncludeInsights bool   `json:"includeInsights"`
}

// SQLRequest runs caller-supplied SQL through the same guard and corrector
type SQLRequest struct {
	SQL    string `json:"sql" binding:"required"`
	Cohort string `json:"cohort"`
}

// Result is the response of a dashboard query
type Result struct {
	ID           core.QueryID `json:"id"`
	Question     string       `json:"question,omitempty"`
	SQL          string       `json:"sql"`
	OriginalSQL  string       `json:"originalSql"`
	Fixes        []string     `json:"fixes"`
	Columns      []string     `json:"columns"`
	Rows         [][]any      `json:"rows"`
	Truncated    bool         `json:"truncated"`
	Chart        ChartSpec    `json:"chart"`
	InsightsHTML string       `json:"insightsHtml,omitempty"`
	DurationMs   int64        `json:"durationMs"`
}
