package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
fastmail:
  api_token: test-token
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.Fastmail.APIToken)
	assert.Equal(t, "https://api.fastmail.com/jmap/session", cfg.Fastmail.SessionURL)
	assert.Equal(t, "INBOX", cfg.Mail.Mailbox)
	assert.Equal(t, "Drafts", cfg.Mail.DraftsMailbox)
	assert.Equal(t, "Archive", cfg.Mail.ArchiveMailbox)

	assert.Equal(t, 20, cfg.Automation.MaxEmailsPerCycle)
	assert.True(t, cfg.Automation.AutoDraft)
	assert.True(t, cfg.Automation.ReplyAll)
	assert.True(t, cfg.Automation.DraftActionableOnly)
	assert.Equal(t, "high", cfg.Automation.MinPriorityForDraft)
	assert.Equal(t, 900, cfg.Automation.LoopIntervalSeconds)
	assert.True(t, cfg.Automation.UseCodex)
	assert.Equal(t, 60, cfg.Automation.CodexTimeoutSeconds)
	assert.True(t, cfg.Automation.CodexFallbackToRules)
	assert.Equal(t, 4000, cfg.Automation.CodexMaxBodyChars)

	// auto_archive_low_priority defaults on, so low and medium are archived.
	assert.Equal(t, []string{"low", "medium"}, cfg.Automation.AutoArchivePriorities)

	assert.Equal(t, "gpt-5-codex", cfg.Codex.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Codex.BaseURL)
	assert.Equal(t, AuthModeSubscription, cfg.Codex.AuthMode)
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("FASTMAIL_API_TOKEN", "")
	path := writeConfig(t, `
mail:
  mailbox: INBOX
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	var cfgErr *Error
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadTokenFromEnv(t *testing.T) {
	t.Setenv("FASTMAIL_API_TOKEN", "env-token")
	path := writeConfig(t, `
mail:
  mailbox: INBOX
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Fastmail.APIToken)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  backend: ollama
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai.backend")
}

func TestLoadRejectsInvalidAuthMode(t *testing.T) {
	path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  codex:
    auth_mode: oauth
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_mode")
}

func TestAuthModeAutoResolution(t *testing.T) {
	t.Run("api key present resolves to api_key", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  codex:
    auth_mode: auto
    api_key: sk-test
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, AuthModeAPIKey, cfg.Codex.AuthMode)
		assert.Equal(t, "sk-test", cfg.Codex.APIKey)
	})

	t.Run("no key resolves to subscription", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("CODEX_API_KEY", "")
		path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  codex:
    auth_mode: auto
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, AuthModeSubscription, cfg.Codex.AuthMode)
	})

	t.Run("key from environment", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-env")
		path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  codex:
    auth_mode: auto
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, AuthModeAPIKey, cfg.Codex.AuthMode)
		assert.Equal(t, "sk-env", cfg.Codex.APIKey)
	})
}

func TestAPIKeyModeRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CODEX_API_KEY", "")
	path := writeConfig(t, `
fastmail:
  api_token: t
ai:
  codex:
    auth_mode: api_key
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestAutoArchivePriorities(t *testing.T) {
	t.Run("explicit list wins", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
automation:
  auto_archive_priorities: ["low"]
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"low"}, cfg.Automation.AutoArchivePriorities)
	})

	t.Run("explicit empty list disables archival", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
automation:
  auto_archive_low_priority: true
  auto_archive_priorities: []
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.Automation.AutoArchivePriorities)
	})

	t.Run("boolean off yields empty set", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
automation:
  auto_archive_low_priority: false
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.Automation.AutoArchivePriorities)
	})

	t.Run("invalid values sanitized", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
automation:
  auto_archive_priorities: ["LOW", "urgent", "medium"]
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"low", "medium"}, cfg.Automation.AutoArchivePriorities)
	})
}

func TestSenderEmailsStringOrList(t *testing.T) {
	t.Run("single string", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
mail:
  sender_emails: "me@example.com, me+alias@example.com"
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"me@example.com, me+alias@example.com"}, cfg.Mail.SenderEmails)
	})

	t.Run("list", func(t *testing.T) {
		path := writeConfig(t, `
fastmail:
  api_token: t
mail:
  sender_emails:
    - me@example.com
    - me+alias@example.com
`)
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"me@example.com", "me+alias@example.com"}, cfg.Mail.SenderEmails)
	})
}

func TestResolveConfigFileMissing(t *testing.T) {
	t.Setenv("EMAIL_TRIAGE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	var cfgErr *Error
	assert.ErrorAs(t, err, &cfgErr)
}

func TestVIPFrequencyThresholdClamped(t *testing.T) {
	path := writeConfig(t, `
fastmail:
  api_token: t
triage:
  vip_frequency_threshold: -3
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Triage.VIPFrequencyThreshold)
}
