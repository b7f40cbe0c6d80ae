package assist

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"email-triage/internal/config"
)

// responseSchema constrains the CLI's structured output to exactly the
// triage result shape.
var responseSchema = map[string]any{
	"type":     "object",
	"required": []string{"priority", "actionable", "reason", "summary", "reply_text"},
	"properties": map[string]any{
		"priority":   map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
		"actionable": map[string]any{"type": "boolean"},
		"reason":     map[string]any{"type": "string"},
		"summary":    map[string]any{"type": "string"},
		"reply_text": map[string]any{"type": "string"},
	},
	"additionalProperties": false,
}

// SubprocessAssistant shells out to the local `codex` CLI, which uses the
// operator's ChatGPT subscription login instead of an API key.
type SubprocessAssistant struct {
	codexBin        string
	model           string
	reasoningEffort string
	timeout         time.Duration
}

// NewSubprocessAssistant locates the codex binary and verifies login once.
// The timeout floor is 20 seconds regardless of configuration.
func NewSubprocessAssistant(cfg *config.Config) (*SubprocessAssistant, error) {
	codexBin, err := exec.LookPath("codex")
	if err != nil {
		return nil, llmErrorf("`codex` CLI not found in PATH, install Codex CLI or use api_key auth mode")
	}

	timeout := time.Duration(cfg.Automation.CodexTimeoutSeconds) * time.Second
	if timeout < 20*time.Second {
		timeout = 20 * time.Second
	}

	a := &SubprocessAssistant{
		codexBin:        codexBin,
		model:           cfg.Codex.Model,
		reasoningEffort: cfg.Codex.ReasoningEffort,
		timeout:         timeout,
	}
	if err := a.ensureLoggedIn(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SubprocessAssistant) ensureLoggedIn() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.codexBin, "login", "status")
	output, err := cmd.CombinedOutput()
	if err != nil || !strings.Contains(strings.ToLower(string(output)), "logged in") {
		return llmErrorf("codex subscription login not found, run `codex login` (ChatGPT sign-in) and retry")
	}
	return nil
}

// TriageEmail implements Assistant.
func (a *SubprocessAssistant) TriageEmail(ctx context.Context, req Request) (*Result, error) {
	userJSON, err := json.Marshal(userPayload(req))
	if err != nil {
		return nil, &LLMError{Msg: "encoding request", Err: err}
	}
	prompt := "You are an email triage assistant. " +
		"Return STRICT JSON matching the schema, no markdown, no extra text.\n\n" +
		string(userJSON)

	tmpDir, err := os.MkdirTemp("", "codex_triage_")
	if err != nil {
		return nil, &LLMError{Msg: "creating temp dir", Err: err}
	}
	defer os.RemoveAll(tmpDir)

	schemaPath := filepath.Join(tmpDir, "schema.json")
	outPath := filepath.Join(tmpDir, "response.txt")
	schemaJSON, err := json.Marshal(responseSchema)
	if err != nil {
		return nil, &LLMError{Msg: "encoding schema", Err: err}
	}
	if err := os.WriteFile(schemaPath, schemaJSON, 0o600); err != nil {
		return nil, &LLMError{Msg: "writing schema", Err: err}
	}

	args := []string{
		"exec",
		"--ephemeral",
		"--skip-git-repo-check",
		"--sandbox", "read-only",
		"--model", a.model,
		"--color", "never",
		"--output-schema", schemaPath,
		"-o", outPath,
	}
	if a.reasoningEffort != "" {
		args = append(args, "-c", "reasoning.effort="+jsonQuote(a.reasoningEffort))
	}
	args = append(args, "-")

	execCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, a.codexBin, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, llmErrorf("codex CLI timed out after %s", a.timeout)
		}
		return nil, llmErrorf("codex CLI failed: %v. stdout=%q stderr=%q",
			err, tail(stdout.String(), 500), tail(stderr.String(), 500))
	}

	outputText := ""
	if raw, err := os.ReadFile(outPath); err == nil {
		outputText = strings.TrimSpace(string(raw))
	}
	if outputText == "" {
		outputText = strings.TrimSpace(stdout.String())
	}
	if outputText == "" {
		return nil, llmErrorf("codex CLI returned empty response")
	}

	parsed, err := parseJSONObject(outputText)
	if err != nil {
		return nil, err
	}
	return normalizeResult(parsed, req)
}

// jsonQuote quotes the reasoning effort for the -c override.
func jsonQuote(value string) string {
	raw, _ := json.Marshal(value)
	return string(raw)
}

func tail(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[len(text)-limit:]
}
