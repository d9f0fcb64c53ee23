package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cohortpulse/domain/query"
	"cohortpulse/internal/errors"
	"cohortpulse/ports"
)

// SchemaDescription is the table catalog the model writes SQL against
const SchemaDescription = `PostgreSQL tables:
- users(user_id, first_name, last_name, email, role, cohort, active)
  builders have role = 'builder'; only active = true builders count.
- curriculum_days(day_id, cohort, day_number, day_date)
  one row per class day.
- tasks(task_id, day_id, task_title, task_type)
- builder_attendance(user_id, attendance_date, status, check_in_time, cohort)
  status is one of 'present', 'late', 'absent', 'excused'.
- task_submissions(submission_id, user_id, task_id, submitted_at, cohort)
- task_analyses(submission_id, overall_score, technical_score, business_score, professional_score, communication_score)
  scores are 0-100.`

const translatorSystemPrompt = `You translate questions about a coding bootcamp cohort into a single read-only PostgreSQL query.
Rules:
- Output only SQL, no explanation.
- Exactly one SELECT or WITH statement.
- Never hardcode denominators such as the number of class days, builders or tasks; compute them with subqueries.
- Put a time-like column (week, date, day) first when the answer is a trend.`

const insightSystemPrompt = `You are a data analyst writing for bootcamp staff.
Summarize query results in at most five short markdown bullet points.
Quote concrete numbers. Do not speculate beyond the data.`

// insightRowLimit bounds how many rows are serialized into the prompt
const insightRowLimit = 50

var sqlFence = regexp.MustCompile("(?s)```(?:sql|postgresql|postgres)?\\s*(.*?)```")

// Translator implements SQLTranslator on top of a chat client
type Translator struct {
	client    ports.LLMClient
	model     string
	maxTokens int
}

// NewTranslator creates a question-to-SQL translator
func NewTranslator(client ports.LLMClient, model string, maxTokens int) *Translator {
	return &Translator{client: client, model: model, maxTokens: maxTokens}
}

// Translate asks the model for SQL answering question within cohort
func (t *Translator) Translate(ctx context.Context, question, cohort string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.InvalidInput("question is required")
	}

	prompt := fmt.Sprintf("%s\n\nCohort: %q\n\nQuestion: %s\n\nSQL:", SchemaDescription, cohort, question)
	content, err := t.client.ChatCompletion(ctx, t.model, translatorSystemPrompt, prompt, t.maxTokens)
	if err != nil {
		return "", errors.Wrap(err, "failed to translate question")
	}

	sql := cleanSQLContent(content)
	if sql == "" {
		return "", errors.ExternalServiceError("openai", fmt.Errorf("model returned no SQL"))
	}
	return sql, nil
}

// cleanSQLContent strips markdown fences and leading chatter from a reply
func cleanSQLContent(content string) string {
	content = strings.TrimSpace(content)
	if m := sqlFence.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}

	// Unfenced replies sometimes open with a sentence before the query
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		upper := strings.ToUpper(strings.TrimSpace(line))
		if strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH") {
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
	}
	return content
}

// InsightWriter implements ports.InsightWriter
type InsightWriter struct {
	client    ports.LLMClient
	model     string
	maxTokens int
}

// NewInsightWriter creates a result summarizer
func NewInsightWriter(client ports.LLMClient, model string, maxTokens int) *InsightWriter {
	return &InsightWriter{client: client, model: model, maxTokens: maxTokens}
}

// Summarize returns a markdown summary of table as an answer to question
func (w *InsightWriter) Summarize(ctx context.Context, question string, table *query.Table) (string, error) {
	if table == nil || len(table.Rows) == 0 {
		return "_No rows returned._", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString(strings.Join(table.Columns, " | "))
	b.WriteString("\n")
	for i, row := range table.Rows {
		if i == insightRowLimit {
			fmt.Fprintf(&b, "... %d more rows\n", len(table.Rows)-insightRowLimit)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}

	content, err := w.client.ChatCompletion(ctx, w.model, insightSystemPrompt, b.String(), w.maxTokens)
	if err != nil {
		return "", errors.Wrap(err, "failed to summarize results")
	}
	return strings.TrimSpace(content), nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprint(val)
	}
}

var (
	_ ports.SQLTranslator = (*Translator)(nil)
	_ ports.InsightWriter = (*InsightWriter)(nil)
)
