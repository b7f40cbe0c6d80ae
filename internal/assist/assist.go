// Package assist refines rule classifications with a Codex model. Two
// providers exist: an HTTP client against the OpenAI Responses API and a
// local `codex` CLI subprocess using the operator's ChatGPT subscription.
package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"email-triage/internal/config"
	"email-triage/internal/mailstore"
	"email-triage/internal/priority"
)

const systemPrompt = "You are an email triage assistant. " +
	"Return STRICT JSON only, no markdown, no commentary. " +
	"Decide priority and actionability, then draft a short professional reply."

// LLMError is any assistant failure: network, subprocess, timeout, or an
// unusable model response. The cycle engine decides whether it falls back
// to rules or aborts.
type LLMError struct {
	Msg string
	Err error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assist: %s: %v", e.Msg, e.Err)
	}
	return "assist: " + e.Msg
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

func llmErrorf(format string, args ...any) *LLMError {
	return &LLMError{Msg: fmt.Sprintf(format, args...)}
}

// Payload is the message view handed to the model.
type Payload struct {
	ID         string   `json:"id"`
	Subject    string   `json:"subject"`
	From       string   `json:"from"`
	FromEmail  string   `json:"from_email"`
	To         []string `json:"to"`
	CC         []string `json:"cc"`
	ReceivedAt string   `json:"received_at"`
	Preview    string   `json:"preview"`
	Body       string   `json:"body"`
}

// BuildPayload converts a message to the model payload, truncating the body
// to maxBodyChars with a literal marker when cut.
func BuildPayload(email *mailstore.Email, maxBodyChars int) Payload {
	body := email.Body
	if maxBodyChars > 0 && len(body) > maxBodyChars {
		body = body[:maxBodyChars] + "\n\n[truncated]"
	}

	receivedAt := email.ReceivedAt
	if receivedAt == "" {
		receivedAt = email.SentAt
	}

	displayList := func(people []mailstore.EmailAddress) []string {
		out := make([]string, 0, len(people))
		for _, p := range people {
			out = append(out, p.Display())
		}
		return out
	}

	payload := Payload{
		ID:         email.ID,
		Subject:    email.Subject,
		To:         displayList(email.To),
		CC:         displayList(email.CC),
		ReceivedAt: receivedAt,
		Preview:    email.Preview,
		Body:       body,
	}
	if len(email.From) > 0 {
		payload.From = email.From[0].Display()
		payload.FromEmail = email.From[0].Email
	}
	return payload
}

// Request carries the rule baseline alongside the message payload.
type Request struct {
	Email          Payload
	RulePriority   string
	RuleActionable bool
	RuleReason     string
	FallbackReply  string
}

// Result is a validated model triage decision.
type Result struct {
	Priority   string
	Actionable bool
	Reason     string
	Summary    string
	ReplyText  string
	Source     string
}

// Assistant is the LLM triage capability.
type Assistant interface {
	TriageEmail(ctx context.Context, req Request) (*Result, error)
}

// New selects a provider from the resolved auth mode. The subscription
// provider probes the local codex login during construction and fails fast
// when it is unavailable.
func New(cfg *config.Config) (Assistant, error) {
	switch cfg.Codex.AuthMode {
	case config.AuthModeAPIKey:
		return NewHTTPAssistant(cfg), nil
	case config.AuthModeSubscription:
		return NewSubprocessAssistant(cfg)
	default:
		return nil, llmErrorf("unsupported auth mode %q", cfg.Codex.AuthMode)
	}
}

// userPayload is the JSON object the model receives, identical across both
// providers.
func userPayload(req Request) map[string]any {
	return map[string]any{
		"task": "Classify and draft response",
		"rules_baseline": map[string]any{
			"priority":   req.RulePriority,
			"actionable": req.RuleActionable,
			"reason":     req.RuleReason,
		},
		"email": req.Email,
		"requirements": map[string]any{
			"priority_values": []string{"high", "medium", "low"},
			"must_reply_text": true,
			"reply_style":     "concise, professional, no AI-fluff",
		},
		"output_schema": map[string]any{
			"priority":   "high|medium|low",
			"actionable": "boolean",
			"reason":     "short explanation",
			"summary":    "one-sentence summary",
			"reply_text": "draft reply body text",
		},
		"fallback_reply": req.FallbackReply,
	}
}

// parseJSONObject accepts a bare JSON object or the substring between the
// first "{" and the last "}".
func parseJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, llmErrorf("could not find JSON object in model output: %s", truncate(text, 300))
	}
	snippet := text[start : end+1]
	if err := json.Unmarshal([]byte(snippet), &parsed); err != nil {
		return nil, llmErrorf("failed to parse JSON from model output: %s", truncate(snippet, 300))
	}
	return parsed, nil
}

// normalizeResult validates the parsed object. Priority is strict; blank
// reason, summary, and reply fall back to the rule baseline.
func normalizeResult(parsed map[string]any, req Request) (*Result, error) {
	p := strings.ToLower(strings.TrimSpace(stringField(parsed, "priority")))
	if !priority.Valid(p) {
		return nil, llmErrorf("invalid priority from model: %q", p)
	}

	actionable := false
	switch v := parsed["actionable"].(type) {
	case bool:
		actionable = v
	default:
		switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
		case "1", "true", "yes", "y":
			actionable = true
		}
	}

	reason := strings.TrimSpace(stringField(parsed, "reason"))
	if reason == "" {
		reason = req.RuleReason
	}
	summary := strings.TrimSpace(stringField(parsed, "summary"))
	if summary == "" {
		summary = fmt.Sprintf("Email triaged by Codex (%s)", p)
	}
	replyText := strings.TrimSpace(stringField(parsed, "reply_text"))
	if replyText == "" {
		replyText = req.FallbackReply
	}

	return &Result{
		Priority:   p,
		Actionable: actionable,
		Reason:     reason,
		Summary:    summary,
		ReplyText:  replyText,
		Source:     "codex",
	}, nil
}

func stringField(parsed map[string]any, key string) string {
	if value, ok := parsed[key].(string); ok {
		return value
	}
	return ""
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
