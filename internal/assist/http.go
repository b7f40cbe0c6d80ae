package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"email-triage/internal/config"
)

// HTTPAssistant talks to the OpenAI Responses API with an API key.
type HTTPAssistant struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	model           string
	reasoningEffort string
}

// NewHTTPAssistant builds the API-key provider. The timeout floor is 10
// seconds regardless of configuration.
func NewHTTPAssistant(cfg *config.Config) *HTTPAssistant {
	timeout := time.Duration(cfg.Automation.CodexTimeoutSeconds) * time.Second
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	return &HTTPAssistant{
		httpClient:      &http.Client{Timeout: timeout},
		baseURL:         strings.TrimRight(cfg.Codex.BaseURL, "/"),
		apiKey:          cfg.Codex.APIKey,
		model:           cfg.Codex.Model,
		reasoningEffort: cfg.Codex.ReasoningEffort,
	}
}

// TriageEmail implements Assistant.
func (a *HTTPAssistant) TriageEmail(ctx context.Context, req Request) (*Result, error) {
	userJSON, err := json.Marshal(userPayload(req))
	if err != nil {
		return nil, &LLMError{Msg: "encoding request", Err: err}
	}

	body := map[string]any{
		"model": a.model,
		"input": "SYSTEM:\n" + systemPrompt + "\n\nUSER:\n" + string(userJSON),
	}
	if a.reasoningEffort != "" {
		body["reasoning"] = map[string]any{"effort": a.reasoningEffort}
	}

	response, err := a.postJSON(ctx, a.baseURL+"/responses", body)
	if err != nil {
		return nil, err
	}

	outputText := extractOutputText(response)
	if outputText == "" {
		return nil, llmErrorf("model returned no output text")
	}

	parsed, err := parseJSONObject(outputText)
	if err != nil {
		return nil, err
	}
	return normalizeResult(parsed, req)
}

func (a *HTTPAssistant) postJSON(ctx context.Context, url string, payload map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &LLMError{Msg: "encoding request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &LLMError{Msg: "creating request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &LLMError{Msg: "network error", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LLMError{Msg: "reading response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, llmErrorf("HTTP %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(respBody)), 500))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, llmErrorf("invalid JSON response: %s", truncate(string(respBody), 500))
	}
	return parsed, nil
}

// extractOutputText reads the Responses API output: a direct output_text
// field, or message items with output_text/text content parts joined by
// newlines.
func extractOutputText(response map[string]any) string {
	if direct, ok := response["output_text"].(string); ok && strings.TrimSpace(direct) != "" {
		return strings.TrimSpace(direct)
	}

	var pieces []string
	output, _ := response["output"].([]any)
	for _, item := range output {
		message, ok := item.(map[string]any)
		if !ok || message["type"] != "message" {
			continue
		}
		contents, _ := message["content"].([]any)
		for _, entry := range contents {
			content, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if ctype := content["type"]; ctype != "output_text" && ctype != "text" {
				continue
			}
			if text, ok := content["text"].(string); ok && strings.TrimSpace(text) != "" {
				pieces = append(pieces, strings.TrimSpace(text))
			}
		}
	}
	return strings.TrimSpace(strings.Join(pieces, "\n"))
}
