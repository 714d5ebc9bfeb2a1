package executor

import (
	"github.com/tidwall/gjson"
)

// UsageDetail is the token accounting reported by a completed response.
type UsageDetail struct {
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
	TotalTokens     int64
}

// IsZero reports whether no usage was recorded.
func (d UsageDetail) IsZero() bool {
	return d.InputTokens == 0 && d.OutputTokens == 0 && d.ReasoningTokens == 0 && d.CachedTokens == 0 && d.TotalTokens == 0
}

// parseCodexUsage reads response.usage from a response.completed event.
func parseCodexUsage(event gjson.Result) (UsageDetail, bool) {
	usageNode := event.Get("response.usage")
	if !usageNode.Exists() {
		return UsageDetail{}, false
	}
	detail := UsageDetail{
		InputTokens:  usageNode.Get("input_tokens").Int(),
		OutputTokens: usageNode.Get("output_tokens").Int(),
		TotalTokens:  usageNode.Get("total_tokens").Int(),
	}
	if cached := usageNode.Get("input_tokens_details.cached_tokens"); cached.Exists() {
		detail.CachedTokens = cached.Int()
	}
	if reasoning := usageNode.Get("output_tokens_details.reasoning_tokens"); reasoning.Exists() {
		detail.ReasoningTokens = reasoning.Int()
	}
	if detail.TotalTokens == 0 {
		detail.TotalTokens = detail.InputTokens + detail.OutputTokens + detail.ReasoningTokens
	}
	return detail, true
}
