package analytics

import "strings"

// intentPattern is one entry of the fallback keyword classifier's ordered
// table, §4.5 "Fallback intent detection".
type intentPattern struct {
	intent   string
	keywords []string
}

// intentTable is evaluated in order; the first matching pattern wins. The
// order and keyword lists are exact per spec §4.5 items 1-6.
var intentTable = []intentPattern{
	{"complaint", []string{"complain", "terrible", "worst", "awful", "unacceptable", "disappointed", "angry", "furious", "hate", "never work"}},
	{"cancellation", []string{"cancel", "unsubscribe", "terminate", "end my", "stop my", "close my account"}},
	{"purchase", []string{"buy", "purchase", "order", "pricing", "cost", "how much", "subscribe", "sign up"}},
	{"support", []string{"help", "issue", "problem", "not working", "broken", "fix", "trouble", "error", "stuck"}},
	{"inquiry", []string{"what is", "how do", "where can", "when will", "tell me about", "information", "question", "wondering"}},
	{"feedback", []string{"suggestion", "feedback", "improve", "recommend", "better if", "would be nice"}},
}

// ClassifyIntent is the deterministic keyword classifier run when the
// provider's conversation-analysis call is unparseable or fails, §4.5.
// If no pattern matches, a non-empty transcript longer than 20 characters
// classifies as "inquiry", else "unknown".
func ClassifyIntent(transcript string) string {
	lower := strings.ToLower(transcript)
	for _, p := range intentTable {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return p.intent
			}
		}
	}
	if len(strings.TrimSpace(transcript)) > 20 {
		return "inquiry"
	}
	return "unknown"
}
