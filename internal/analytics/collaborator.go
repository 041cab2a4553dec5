package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCollaborator implements Collaborator over the Anthropic messages
// API, grounded on lookatitude-beluga-ai/llm/providers/anthropic/anthropic.go's
// client construction and client.Messages.New usage — the teacher repo has
// no text-completion client at all (SignalWire's pkg/signalwire/client.go is
// a REST call-control client, not a language model client), so this
// component is grounded entirely on the pack's Anthropic provider instead.
type AnthropicCollaborator struct {
	client              anthropic.Client
	model               string
	escalationThreshold int
}

// NewAnthropicCollaborator builds a collaborator against the given model
// (ANALYSIS_MODEL from config). escalationThreshold is the minimum
// frustration score (0-100) that triggers ShouldEscalate; the source varied
// this between 70 and 80 depending on module, so the spec fixes 70 as the
// default but leaves it configurable (ESCALATION_THRESHOLD).
func NewAnthropicCollaborator(apiKey, model string, escalationThreshold int) *AnthropicCollaborator {
	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &AnthropicCollaborator{client: client, model: model, escalationThreshold: escalationThreshold}
}

func entriesToTranscriptText(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Content)
	}
	return b.String()
}

func (c *AnthropicCollaborator) complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("analytics: anthropic completion: %w", err)
	}
	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// Sentiment implements Collaborator.
func (c *AnthropicCollaborator) Sentiment(ctx context.Context, latestSentence string, recent []Entry) (SentimentResult, error) {
	prompt := fmt.Sprintf("Recent conversation:\n%s\n\nLatest customer message: %q\n\nRespond with JSON: {\"score\":0-100,\"sentiment\":\"...\",\"reason\":\"...\"}",
		entriesToTranscriptText(recent), latestSentence)
	raw, err := c.complete(ctx, "You score customer sentiment for a support call.", prompt)
	if err != nil {
		return SentimentResult{}, err
	}
	var parsed struct {
		Score     int    `json:"score"`
		Sentiment string `json:"sentiment"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return SentimentResult{}, fmt.Errorf("analytics: unparseable sentiment response: %w", err)
	}
	return SentimentResult{
		Score:          parsed.Score,
		Sentiment:      parsed.Sentiment,
		Reason:         parsed.Reason,
		ShouldEscalate: parsed.Score >= c.escalationThreshold || parsed.Sentiment == "frustrated" || parsed.Sentiment == "angry",
	}, nil
}

// AnalyzeConversation implements Collaborator.
func (c *AnthropicCollaborator) AnalyzeConversation(ctx context.Context, full []Entry) (AnalysisResult, error) {
	prompt := fmt.Sprintf("Full conversation:\n%s\n\nRespond with JSON: {\"intent\":\"...\",\"sentiment\":\"...\",\"sentimentScore\":0-100,\"escalationRisk\":\"...\",\"keyIssues\":[\"...\"]}",
		entriesToTranscriptText(full))
	raw, err := c.complete(ctx, "You analyze support conversations.", prompt)
	if err != nil {
		return AnalysisResult{}, err
	}
	var parsed struct {
		Intent         string   `json:"intent"`
		Sentiment      string   `json:"sentiment"`
		SentimentScore int      `json:"sentimentScore"`
		EscalationRisk string   `json:"escalationRisk"`
		KeyIssues      []string `json:"keyIssues"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return AnalysisResult{}, fmt.Errorf("analytics: unparseable analysis response: %w", err)
	}
	return AnalysisResult{
		Intent:         parsed.Intent,
		Sentiment:      parsed.Sentiment,
		SentimentScore: parsed.SentimentScore,
		EscalationRisk: parsed.EscalationRisk,
		KeyIssues:      parsed.KeyIssues,
	}, nil
}

// GetSupervisorCoaching implements Collaborator. This is the canonical
// implementation; GetCoachingSuggestions forwards to it (Open Question 1).
func (c *AnthropicCollaborator) GetSupervisorCoaching(ctx context.Context, recent []Entry, triggerSentence string) (CoachingResult, error) {
	prompt := fmt.Sprintf("Recent conversation:\n%s\n\nTriggering customer message: %q\n\nRespond with JSON: {\"coachingTip\":\"...\",\"suggestedResponses\":[\"...\"],\"tone\":\"...\",\"priority\":\"...\"}",
		entriesToTranscriptText(recent), triggerSentence)
	raw, err := c.complete(ctx, "You coach a human supervisor taking over a support call.", prompt)
	if err != nil {
		return CoachingResult{}, err
	}
	var parsed struct {
		CoachingTip        string   `json:"coachingTip"`
		SuggestedResponses []string `json:"suggestedResponses"`
		Tone               string   `json:"tone"`
		Priority           string   `json:"priority"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return CoachingResult{}, fmt.Errorf("analytics: unparseable coaching response: %w", err)
	}
	return CoachingResult{
		CoachingTip:        parsed.CoachingTip,
		SuggestedResponses: parsed.SuggestedResponses,
		Tone:               parsed.Tone,
		Priority:           parsed.Priority,
	}, nil
}

// Summarize implements Collaborator, producing the end-of-call summary
// payload of §4.7.
func (c *AnthropicCollaborator) Summarize(ctx context.Context, full []Entry) (CallSummary, error) {
	prompt := fmt.Sprintf("Full conversation:\n%s\n\nRespond with JSON: {\"sentiment\":\"...\",\"intent\":\"...\",\"resolutionStatus\":\"...\",\"keyTopics\":[\"...\"],\"actionItems\":[\"...\"],\"frustrationTrend\":\"...\",\"insights\":\"...\"}",
		entriesToTranscriptText(full))
	raw, err := c.complete(ctx, "You write end-of-call summaries for a support call center.", prompt)
	if err != nil {
		return CallSummary{}, err
	}
	var parsed struct {
		Sentiment        string   `json:"sentiment"`
		Intent           string   `json:"intent"`
		ResolutionStatus string   `json:"resolutionStatus"`
		KeyTopics        []string `json:"keyTopics"`
		ActionItems      []string `json:"actionItems"`
		FrustrationTrend string   `json:"frustrationTrend"`
		Insights         string   `json:"insights"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return CallSummary{}, fmt.Errorf("analytics: unparseable summary response: %w", err)
	}
	return CallSummary{
		Sentiment:        parsed.Sentiment,
		Intent:           parsed.Intent,
		ResolutionStatus: parsed.ResolutionStatus,
		KeyTopics:        parsed.KeyTopics,
		ActionItems:      parsed.ActionItems,
		FrustrationTrend: parsed.FrustrationTrend,
		FullText:         entriesToTranscriptText(full),
		Insights:         parsed.Insights,
	}, nil
}

// GetCoachingSuggestions implements Collaborator by forwarding to
// GetSupervisorCoaching, resolving the source's divergent method naming
// (Open Question 1 in §9) without guessing which name is canonical.
func (c *AnthropicCollaborator) GetCoachingSuggestions(ctx context.Context, recent []Entry, triggerSentence string) (CoachingResult, error) {
	return c.GetSupervisorCoaching(ctx, recent, triggerSentence)
}

// extractJSON trims leading/trailing prose a model sometimes wraps its JSON
// in, returning the substring from the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
