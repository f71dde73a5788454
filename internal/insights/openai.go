package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/lotwise/driveline/pkg/schema"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are an analytics assistant for a dealership group.
Answer the question using only the metrics provided. Respond with a JSON
object: {"text": string, "alerts": [{"severity": "info"|"warning"|"critical",
"message": string}], "recommendations": [{"action": string, "reason": string}]}.
Keep text under 120 words. Omit alerts/recommendations when none apply.`

// OpenAIClient answers questions through OpenAI's Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given API key. Empty model means
// the default.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// AnswerQuestion sends the question and metric context to the model and
// parses the structured answer back out.
func (c *OpenAIClient) AnswerQuestion(ctx context.Context, datasetID, question string, metrics map[string]any) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "question is empty")
	}

	contextJSON, err := json.Marshal(metrics)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "metrics context is not serializable").WithCause(err)
	}

	userInput := fmt.Sprintf("Dataset: %s\nMetrics: %s\nQuestion: %s", datasetID, contextJSON, question)

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(c.model),
		Instructions: openai.String(systemPrompt),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(userInput),
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}

	answer := parseAnswer(outputText(resp))
	answer.TokensUsed = resp.Usage.TotalTokens
	return answer, nil
}

// outputText concatenates the text content of all output message items.
func outputText(resp *responses.Response) string {
	var b strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			if content.Type == "output_text" {
				b.WriteString(content.Text)
			}
		}
	}
	return b.String()
}

// parseAnswer decodes the model's JSON answer, tolerating plain text and
// markdown fences.
func parseAnswer(text string) *Answer {
	trimmed := strings.TrimSpace(text)
	if fenced, ok := strings.CutPrefix(trimmed, "```json"); ok {
		trimmed = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	} else if fenced, ok := strings.CutPrefix(trimmed, "```"); ok {
		trimmed = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	}

	var answer Answer
	if err := json.Unmarshal([]byte(trimmed), &answer); err == nil && answer.Text != "" {
		return &answer
	}
	return &Answer{Text: text}
}

// classifyError maps an OpenAI API error onto driveline error codes:
// 429 means the upstream throttled us (retry later, distinct from our own
// rate limits), 408/409/5xx are transient upstream faults, other 4xx are
// request bugs.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return schema.NewErrorf(schema.ErrCodeUpstreamRateLimited,
				"analytics provider rate limit (%d)", apiErr.StatusCode).WithCause(err)
		case apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusConflict ||
			apiErr.StatusCode >= 500:
			return schema.NewErrorf(schema.ErrCodeUpstream,
				"analytics provider error (%d)", apiErr.StatusCode).WithCause(err)
		default:
			return schema.NewErrorf(schema.ErrCodeExecution,
				"analytics request rejected (%d)", apiErr.StatusCode).WithCause(err)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate_limit") || strings.Contains(msg, "rate limit") {
		return schema.NewError(schema.ErrCodeUpstreamRateLimited, "analytics provider rate limit").WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeUpstream, "analytics provider unreachable: %v", err).WithCause(err)
}
