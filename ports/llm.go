package ports

import (
	"context"

	"cohortpulse/domain/query"
)

// LLMClient is the chat-completion surface the adapters need
type LLMClient interface {
	ChatCompletion(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error)
}

// SQLTranslator turns a question about a cohort into a single SQL query
type SQLTranslator interface {
	Translate(ctx context.Context, question, cohort string) (string, error)
}

// InsightWriter summarizes a result set as short markdown prose
type InsightWriter interface {
	Summarize(ctx context.Context, question string, table *query.Table) (string, error)
}
