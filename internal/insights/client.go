// Package insights answers natural-language questions about dealership
// performance data. The analytics tool routes questions here; callers choose
// the OpenAI-backed client or the deterministic static one at wiring time.
package insights

import "context"

// Alert is a noteworthy condition surfaced by an analysis.
type Alert struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Recommendation is a suggested follow-up action.
type Recommendation struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Answer is the result of one analytics question.
type Answer struct {
	Text            string           `json:"text"`
	Alerts          []Alert          `json:"alerts,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	TokensUsed      int64            `json:"tokens_used,omitempty"`
}

// Client answers analytics questions over a named dataset. metrics carries
// the caller's context: aggregates, recent figures, filters.
type Client interface {
	AnswerQuestion(ctx context.Context, datasetID, question string, metrics map[string]any) (*Answer, error)
}
