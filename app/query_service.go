package app

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"cohortpulse/domain/core"
	"cohortpulse/domain/query"
	"cohortpulse/internal"
	"cohortpulse/internal/errors"
	"cohortpulse/internal/sqlfix"
	"cohortpulse/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohortpulse_queries_total",
		Help: "Dashboard queries by entry point and outcome.",
	}, []string{"source", "outcome"})

	denominatorFixes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cohortpulse_denominator_fixes_total",
		Help: "Hardcoded denominators replaced with subqueries.",
	})

	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohortpulse_query_duration_seconds",
		Help:    "Time spent executing dashboard SQL.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
)

// Query sources for metrics labels
const (
	sourceQuestion = "question"
	sourceSQL      = "sql"
	sourceExport   = "export"
)

// QueryServiceConfig bounds query execution
type QueryServiceConfig struct {
	DefaultCohort string
	MaxRows       int
}

// QueryService answers dashboard questions: question to SQL, guard,
// denominator correction, execution and chart selection.
type QueryService struct {
	translator ports.SQLTranslator
	insights   ports.InsightWriter
	runner     ports.QueryRunner
	exporter   ports.ResultExporter
	corrector  *sqlfix.Corrector
	config     QueryServiceConfig
	logger     *internal.Logger
}

// NewQueryService creates a query service. translator and insights may be
// nil when no LLM is configured; Ask then reports UNAVAILABLE.
func NewQueryService(translator ports.SQLTranslator, insights ports.InsightWriter, runner ports.QueryRunner, exporter ports.ResultExporter, corrector *sqlfix.Corrector, config QueryServiceConfig, logger *internal.Logger) *QueryService {
	if corrector == nil {
		corrector = sqlfix.NewCorrector()
	}
	if config.DefaultCohort == "" {
		config.DefaultCohort = sqlfix.DefaultCohort
	}
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &QueryService{
		translator: translator,
		insights:   insights,
		runner:     runner,
		exporter:   exporter,
		corrector:  corrector,
		config:     config,
		logger:     logger,
	}
}

// Ask translates a natural language question and runs the resulting SQL
func (s *QueryService) Ask(ctx context.Context, req query.Request) (*query.Result, error) {
	if s.translator == nil {
		return nil, errors.Unavailable("natural language querying")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.InvalidInput("question is required")
	}
	cohort := s.cohortOrDefault(req.Cohort)

	generated, err := s.translator.Translate(ctx, question, cohort)
	if err != nil {
		queriesTotal.WithLabelValues(sourceQuestion, "translate_error").Inc()
		return nil, err
	}
	s.logger.Debug("[QueryService] translated %q -> %s", question, generated)

	result, table, err := s.execute(ctx, sourceQuestion, generated, cohort)
	if err != nil {
		return nil, err
	}
	result.Question = question

	if req.IncludeInsights && s.insights != nil {
		summary, err := s.insights.Summarize(ctx, question, table)
		if err != nil {
			// results are still useful without prose
			s.logger.Warn("[QueryService] insight generation failed: %v", err)
		} else {
			result.InsightsHTML = renderMarkdown(summary)
		}
	}

	return result, nil
}

// Run executes caller-supplied SQL through the guard and corrector
func (s *QueryService) Run(ctx context.Context, req query.SQLRequest) (*query.Result, error) {
	result, _, err := s.execute(ctx, sourceSQL, req.SQL, s.cohortOrDefault(req.Cohort))
	return result, err
}

// Validate applies the guard and corrector without executing anything
func (s *QueryService) Validate(sql, cohort string) (sqlfix.Result, error) {
	stmt, err := sqlfix.EnsureReadOnly(sql)
	if err != nil {
		return sqlfix.Result{}, err
	}
	return s.corrector.Fix(stmt, s.cohortOrDefault(cohort)), nil
}

// Export runs sql and streams the result as a workbook to w
func (s *QueryService) Export(ctx context.Context, req query.SQLRequest, w io.Writer) error {
	if s.exporter == nil {
		return errors.Unavailable("export")
	}
	_, table, err := s.execute(ctx, sourceExport, req.SQL, s.cohortOrDefault(req.Cohort))
	if err != nil {
		return err
	}
	if err := s.exporter.Write(w, table); err != nil {
		return errors.Wrap(err, "failed to export results")
	}
	return nil
}

// ExportFilename suggests a download name for Export
func (s *QueryService) ExportFilename() string {
	if s.exporter == nil {
		return "export.xlsx"
	}
	return s.exporter.Filename()
}

func (s *QueryService) execute(ctx context.Context, source, sql, cohort string) (*query.Result, *query.Table, error) {
	stmt, err := sqlfix.EnsureReadOnly(sql)
	if err != nil {
		queriesTotal.WithLabelValues(source, "rejected").Inc()
		s.logger.Warn("[QueryService] rejected %s query: %v", source, err)
		return nil, nil, err
	}

	fixed := s.corrector.Fix(stmt, cohort)
	if fixed.HadIssues {
		denominatorFixes.Add(float64(len(fixed.Fixes)))
		s.logger.Info("[QueryService] applied %d denominator fix(es): %s", len(fixed.Fixes), strings.Join(fixed.Fixes, "; "))
	}

	start := time.Now()
	table, err := s.runner.Query(ctx, fixed.SQL, s.config.MaxRows)
	elapsed := time.Since(start)
	queryDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if err != nil {
		queriesTotal.WithLabelValues(source, strings.ToLower(errors.GetCode(err))).Inc()
		if errors.HasCode(err, errors.CodeQueryTimeout) || errors.HasCode(err, errors.CodeInvalidInput) {
			s.logger.Warn("[QueryService] query rejected by database after %v: %v", elapsed, err)
		} else {
			s.logger.Error("[QueryService] query failed after %v: %v", elapsed, err)
		}
		return nil, nil, err
	}
	queriesTotal.WithLabelValues(source, "ok").Inc()

	result := &query.Result{
		ID:          core.NewQueryID(),
		SQL:         fixed.SQL,
		OriginalSQL: stmt,
		Fixes:       fixed.Fixes,
		Columns:     table.Columns,
		Rows:        table.Rows,
		Truncated:   table.Truncated,
		Chart:       SuggestChart(table),
		DurationMs:  elapsed.Milliseconds(),
	}
	return result, table, nil
}

func (s *QueryService) cohortOrDefault(cohort string) string {
	if c := strings.TrimSpace(cohort); c != "" {
		return c
	}
	return s.config.DefaultCohort
}

var temporalHints = []string{"week", "date", "day", "month"}

// SuggestChart picks a chart for a result table: a single numeric cell is a
// scalar, a time-like first column plots as a line, a label column followed
// by numbers is a bar chart, and anything else stays a table.
func SuggestChart(table *query.Table) query.ChartSpec {
	if table == nil || len(table.Columns) == 0 || len(table.Rows) == 0 {
		return query.ChartSpec{Type: query.ChartTable}
	}

	if len(table.Columns) == 1 {
		if len(table.Rows) == 1 && isNumeric(table.Rows[0][0]) {
			return query.ChartSpec{Type: query.ChartScalar, YColumns: []string{table.Columns[0]}}
		}
		return query.ChartSpec{Type: query.ChartTable}
	}

	var numeric []string
	for i := 1; i < len(table.Columns); i++ {
		if columnIsNumeric(table, i) {
			numeric = append(numeric, table.Columns[i])
		}
	}
	if len(numeric) == 0 {
		return query.ChartSpec{Type: query.ChartTable}
	}

	first := strings.ToLower(table.Columns[0])
	for _, hint := range temporalHints {
		if strings.Contains(first, hint) {
			return query.ChartSpec{Type: query.ChartLine, XColumn: table.Columns[0], YColumns: numeric}
		}
	}
	if !columnIsNumeric(table, 0) {
		return query.ChartSpec{Type: query.ChartBar, XColumn: table.Columns[0], YColumns: numeric}
	}
	return query.ChartSpec{Type: query.ChartTable}
}

// columnIsNumeric reports whether every non-null value in column i is a number
func columnIsNumeric(table *query.Table, i int) bool {
	seen := false
	for _, row := range table.Rows {
		if i >= len(row) || row[i] == nil {
			continue
		}
		if !isNumeric(row[i]) {
			return false
		}
		seen = true
	}
	return seen
}

func isNumeric(v any) bool {
	switch val := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		// NUMERIC columns arrive as text
		_, err := strconv.ParseFloat(val, 64)
		return err == nil
	default:
		return false
	}
}

// renderMarkdown converts model-written markdown into HTML for the UI
func renderMarkdown(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML | html.HrefTargetBlank})
	return strings.TrimSpace(string(markdown.ToHTML([]byte(md), p, renderer)))
}
