package insights

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lotwise/driveline/pkg/schema"
)

// Thresholds the static analyzer applies to well-known dealership metrics.
const (
	staleInventoryDays  = 60.0
	lowLeadConversion   = 0.05
	highCostPerLead     = 45.0
	agingGrossMarginPct = 8.0
	tokensPerAnswerChar = 4
	staticBaseTokens    = 24
)

// StaticClient produces deterministic answers from the metrics alone, without
// calling any upstream provider. It is the default when no API key is
// configured.
type StaticClient struct{}

// NewStaticClient creates an offline analytics client.
func NewStaticClient() *StaticClient {
	return &StaticClient{}
}

// AnswerQuestion summarizes the provided metrics and applies fixed dealership
// thresholds to raise alerts and recommendations. The same inputs always yield
// the same answer.
func (c *StaticClient) AnswerQuestion(ctx context.Context, datasetID, question string, metrics map[string]any) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "question is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "analysis canceled").WithCause(err)
	}

	ans := &Answer{
		Text: summarize(datasetID, question, metrics),
	}

	if days, ok := metricFloat(metrics, "avg_days_on_lot"); ok && days > staleInventoryDays {
		ans.Alerts = append(ans.Alerts, Alert{
			Severity: "warning",
			Message:  fmt.Sprintf("average days on lot is %.0f, above the %.0f-day target", days, staleInventoryDays),
		})
		ans.Recommendations = append(ans.Recommendations, Recommendation{
			Action: "reprice aged units",
			Reason: "inventory turning slower than target",
		})
	}
	if rate, ok := metricFloat(metrics, "lead_conversion_rate"); ok && rate < lowLeadConversion {
		ans.Alerts = append(ans.Alerts, Alert{
			Severity: "critical",
			Message:  fmt.Sprintf("lead conversion rate is %.1f%%, below the %.1f%% floor", rate*100, lowLeadConversion*100),
		})
		ans.Recommendations = append(ans.Recommendations, Recommendation{
			Action: "audit lead response times",
			Reason: "conversion below floor usually tracks slow first contact",
		})
	}
	if cpl, ok := metricFloat(metrics, "cost_per_lead"); ok && cpl > highCostPerLead {
		ans.Alerts = append(ans.Alerts, Alert{
			Severity: "warning",
			Message:  fmt.Sprintf("cost per lead is $%.2f, above the $%.2f ceiling", cpl, highCostPerLead),
		})
		ans.Recommendations = append(ans.Recommendations, Recommendation{
			Action: "pause underperforming ad campaigns",
			Reason: "acquisition cost above ceiling",
		})
	}
	if margin, ok := metricFloat(metrics, "gross_margin_pct"); ok && margin < agingGrossMarginPct {
		ans.Alerts = append(ans.Alerts, Alert{
			Severity: "info",
			Message:  fmt.Sprintf("gross margin is %.1f%%, under the %.1f%% benchmark", margin, agingGrossMarginPct),
		})
	}

	ans.TokensUsed = staticBaseTokens + int64(len(ans.Text))/tokensPerAnswerChar
	return ans, nil
}

// summarize renders a stable one-line digest of the metrics. Keys are sorted
// so identical inputs produce identical text.
func summarize(datasetID, question string, metrics map[string]any) string {
	if len(metrics) == 0 {
		return fmt.Sprintf("No metrics available for dataset %s to answer: %s", datasetID, question)
	}
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, metrics[k]))
	}
	return fmt.Sprintf("Dataset %s: %s", datasetID, strings.Join(parts, ", "))
}

func metricFloat(metrics map[string]any, key string) (float64, bool) {
	v, ok := metrics[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
