package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cohortpulse/internal/errors"
	"cohortpulse/ports"

	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds the settings for an OpenAI-compatible chat endpoint
type Config struct {
	Model       string        // e.g., "gpt-4o-mini"
	APIKey      string        // OpenAI API key
	BaseURL     string        // Optional override (default: https://api.openai.com/v1)
	Temperature float64       // 0.0-1.0, lower = more deterministic
	MaxTokens   int           // Max tokens in response
	Timeout     time.Duration // Request timeout
}

// NewClient creates an LLM client based on config
func NewClient(config Config) (ports.LLMClient, error) {
	if config.APIKey == "" {
		return nil, errors.ConfigInvalid("missing OpenAI API key")
	}

	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &OpenAIClient{
		APIKey:      config.APIKey,
		BaseURL:     baseURL,
		Timeout:     config.Timeout,
		Temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}, nil
}

// MockLLMClient is a mock LLM client for testing
type MockLLMClient struct {
	Response string // Set this for testing
	Error    error  // Set this to simulate errors

	// LastSystem and LastPrompt capture the most recent call
	LastSystem string
	LastPrompt string
}

func (m *MockLLMClient) ChatCompletion(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error) {
	m.LastSystem = systemPrompt
	m.LastPrompt = prompt
	if m.Error != nil {
		return "", m.Error
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return "SELECT COUNT(*) AS active_builders FROM users WHERE role = 'builder' AND active = true", nil
}

// OpenAIClient implements LLMClient for OpenAI
type OpenAIClient struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	Temperature float64

	httpClient *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.InvalidInput("missing model")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if systemPrompt == "" {
		systemPrompt = "You are a careful assistant. Output exactly what the user asks for."
	}

	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.Temperature,
		MaxTokens:   maxTokens,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", errors.ExternalServiceError("openai", err)
	}
	defer resp.Body.Close()

	respRaw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.ExternalServiceError("openai", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := string(respRaw)
		if msg := gjson.GetBytes(respRaw, "error.message"); msg.Exists() {
			detail = msg.String()
		}
		return "", errors.ExternalServiceError("openai", fmt.Errorf("http %d: %s", resp.StatusCode, detail))
	}

	if !gjson.ValidBytes(respRaw) {
		return "", errors.ExternalServiceError("openai", fmt.Errorf("response is not valid JSON"))
	}
	content := gjson.GetBytes(respRaw, "choices.0.message.content")
	if !content.Exists() {
		return "", errors.ExternalServiceError("openai", fmt.Errorf("response missing choices"))
	}
	return content.String(), nil
}
