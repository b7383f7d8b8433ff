package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.1:8b"
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
}

// OllamaText is a text provider backed by an open model served by Ollama.
type OllamaText struct {
	httpClient *resty.Client
	model      string
	options    map[string]any
}

// NewOllamaText creates an Ollama text provider.
func NewOllamaText(baseURL, model string, timeout time.Duration) *OllamaText {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaText{
		httpClient: resty.New().
			SetDebug(false).
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		model: model,
		options: map[string]any{
			"temperature": 0.5,
			"top_p":       1,
			"num_predict": 256,
		},
	}
}

func (o *OllamaText) Recommend(ctx context.Context, labels []string, topic string) (string, error) {
	result := &ollamaChatResponse{}
	start := time.Now()
	_, err := handleError(o.httpClient.R().
		SetContext(ctx).
		SetBody(ollamaChatRequest{
			Model: o.model,
			Messages: []ollamaMessage{
				{Role: "system", Content: RecommendSystemPrompt()},
				{Role: "user", Content: RecommendUserPrompt(labels, topic)},
			},
			Stream:  false,
			Options: o.options,
		}).
		SetResult(result).
		Post("/api/chat"))
	if err != nil {
		return "", err
	}

	logCall("recommendation", o.model, Usage{
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
		TotalTokens:  result.PromptEvalCount + result.EvalCount,
	}, time.Since(start))

	return trimResponse(result.Message.Content)
}

// handleError turns failing responses (>399 status code) into errors. Without
// this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("request failed: %w", err)
	}
	if res.IsError() {
		body := strings.TrimSpace(res.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return res, fmt.Errorf("request failed: %s %s (status: %d): %s", res.Request.Method, res.Request.URL, res.StatusCode(), body)
	}
	return res, nil
}
