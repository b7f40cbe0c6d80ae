package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"email-triage/internal/priority"
)

// Error indicates a fatal configuration problem. The daemon refuses to start
// on a config Error; it is never retried.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "config: " + e.Reason
}

func errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Auth modes for the codex backend.
const (
	AuthModeSubscription = "subscription"
	AuthModeAPIKey       = "api_key"
	AuthModeAuto         = "auto"
)

// FastmailConfig carries JMAP transport settings.
type FastmailConfig struct {
	APIToken   string
	SessionURL string
}

// MailConfig names the mailboxes and sender identities the daemon works with.
type MailConfig struct {
	Mailbox        string
	SentMailbox    string
	DraftsMailbox  string
	TrashMailbox   string
	ArchiveMailbox string
	SenderName     string
	SenderEmail    string
	SenderEmails   []string
}

// AutomationConfig controls the triage cycle behavior.
type AutomationConfig struct {
	MaxEmailsPerCycle      int
	AutoDraft              bool
	ReplyAll               bool
	DraftActionableOnly    bool
	MinPriorityForDraft    string
	AutoArchiveLowPriority bool
	AutoArchivePriorities  []string
	LoopIntervalSeconds    int
	StateDB                string
	UseCodex               bool
	CodexTimeoutSeconds    int
	CodexFallbackToRules   bool
	CodexMaxBodyChars      int
	StatusAddr             string
}

// CodexConfig carries LLM assistant settings. AuthMode holds the resolved
// mode (never "auto" after Load).
type CodexConfig struct {
	Model           string
	ReasoningEffort string
	AuthMode        string
	APIKey          string
	BaseURL         string
}

// TriageConfig carries classifier inputs and VIP settings.
type TriageConfig struct {
	UrgentKeywords        []string
	VIPSenders            []string
	VIPFrequencyThreshold int
}

// DraftingConfig carries reply drafting settings.
type DraftingConfig struct {
	Signature string
}

// Config is the fully loaded and validated daemon configuration.
type Config struct {
	Fastmail   FastmailConfig
	Mail       MailConfig
	Automation AutomationConfig
	Codex      CodexConfig
	Triage     TriageConfig
	Drafting   DraftingConfig

	// Path of the config file actually loaded.
	Path string
}

// DefaultStateDB is used when automation.state_db is not configured.
const DefaultStateDB = "~/.config/email-triage/triage.db"

// Load resolves the config file (explicit path, then EMAIL_TRIAGE_CONFIG,
// then the default search locations), applies defaults and env overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	resolved, err := resolveConfigFile(path)
	if err != nil {
		return nil, err
	}
	return LoadFile(resolved)
}

// LoadFile loads configuration from a specific file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, errorf("failed to read %s: %v", path, err)
	}

	cfg := &Config{Path: path}
	unmarshal(v, cfg)
	if err := cfg.normalize(v); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigFile returns the first existing candidate config file.
func resolveConfigFile(explicit string) (string, error) {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, expandHome(explicit))
	}
	if env := os.Getenv("EMAIL_TRIAGE_CONFIG"); env != "" {
		candidates = append(candidates, expandHome(env))
	}
	for _, dir := range []string{"~/.config/email-triage", "~/.config/email-manager"} {
		for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
			candidates = append(candidates, expandHome(filepath.Join(dir, name)))
		}
	}

	seen := make(map[string]struct{})
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errorf("config file not found; searched %s (set EMAIL_TRIAGE_CONFIG or pass --config)",
		strings.Join(candidates, ", "))
}

// ExpandHome expands a leading ~ in path to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fastmail.session_url", "https://api.fastmail.com/jmap/session")

	v.SetDefault("mail.mailbox", "INBOX")
	v.SetDefault("mail.sent_mailbox", "Sent")
	v.SetDefault("mail.drafts_mailbox", "Drafts")
	v.SetDefault("mail.trash_mailbox", "Trash")
	v.SetDefault("mail.archive_mailbox", "Archive")

	v.SetDefault("automation.max_emails_per_cycle", 20)
	v.SetDefault("automation.auto_draft", true)
	v.SetDefault("automation.reply_all", true)
	v.SetDefault("automation.draft_actionable_only", true)
	v.SetDefault("automation.min_priority_for_draft", priority.High)
	v.SetDefault("automation.auto_archive_low_priority", true)
	v.SetDefault("automation.loop_interval_seconds", 900)
	v.SetDefault("automation.state_db", DefaultStateDB)
	v.SetDefault("automation.use_codex", true)
	v.SetDefault("automation.codex_timeout_seconds", 60)
	v.SetDefault("automation.codex_fallback_to_rules", true)
	v.SetDefault("automation.codex_max_body_chars", 4000)
	v.SetDefault("automation.status_addr", "")

	v.SetDefault("ai.backend", "codex")
	v.SetDefault("ai.codex.model", "gpt-5-codex")
	v.SetDefault("ai.codex.auth_mode", AuthModeSubscription)
	v.SetDefault("ai.codex.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("ai.codex.base_url", "https://api.openai.com/v1")

	v.SetDefault("triage.vip_frequency_threshold", 0)
}

func unmarshal(v *viper.Viper, cfg *Config) {
	cfg.Fastmail.APIToken = v.GetString("fastmail.api_token")
	cfg.Fastmail.SessionURL = v.GetString("fastmail.session_url")

	cfg.Mail.Mailbox = v.GetString("mail.mailbox")
	cfg.Mail.SentMailbox = v.GetString("mail.sent_mailbox")
	cfg.Mail.DraftsMailbox = v.GetString("mail.drafts_mailbox")
	cfg.Mail.TrashMailbox = v.GetString("mail.trash_mailbox")
	cfg.Mail.ArchiveMailbox = v.GetString("mail.archive_mailbox")
	cfg.Mail.SenderName = v.GetString("mail.sender_name")
	cfg.Mail.SenderEmail = v.GetString("mail.sender_email")
	cfg.Mail.SenderEmails = stringOrSlice(v.Get("mail.sender_emails"))

	cfg.Automation.MaxEmailsPerCycle = v.GetInt("automation.max_emails_per_cycle")
	cfg.Automation.AutoDraft = v.GetBool("automation.auto_draft")
	cfg.Automation.ReplyAll = v.GetBool("automation.reply_all")
	cfg.Automation.DraftActionableOnly = v.GetBool("automation.draft_actionable_only")
	cfg.Automation.MinPriorityForDraft = strings.ToLower(strings.TrimSpace(v.GetString("automation.min_priority_for_draft")))
	cfg.Automation.AutoArchiveLowPriority = v.GetBool("automation.auto_archive_low_priority")
	cfg.Automation.LoopIntervalSeconds = v.GetInt("automation.loop_interval_seconds")
	cfg.Automation.StateDB = v.GetString("automation.state_db")
	cfg.Automation.UseCodex = v.GetBool("automation.use_codex")
	cfg.Automation.CodexTimeoutSeconds = v.GetInt("automation.codex_timeout_seconds")
	cfg.Automation.CodexFallbackToRules = v.GetBool("automation.codex_fallback_to_rules")
	cfg.Automation.CodexMaxBodyChars = v.GetInt("automation.codex_max_body_chars")
	cfg.Automation.StatusAddr = v.GetString("automation.status_addr")

	cfg.Codex.Model = v.GetString("ai.codex.model")
	cfg.Codex.ReasoningEffort = strings.ToLower(strings.TrimSpace(v.GetString("ai.codex.reasoning_effort")))
	if cfg.Codex.ReasoningEffort == "" {
		cfg.Codex.ReasoningEffort = strings.ToLower(strings.TrimSpace(v.GetString("ai.codex.reasoning")))
	}
	cfg.Codex.AuthMode = strings.ToLower(strings.TrimSpace(v.GetString("ai.codex.auth_mode")))
	cfg.Codex.APIKey = v.GetString("ai.codex.api_key")
	cfg.Codex.BaseURL = strings.TrimRight(v.GetString("ai.codex.base_url"), "/")

	cfg.Triage.UrgentKeywords = stringOrSlice(v.Get("triage.urgent_keywords"))
	cfg.Triage.VIPSenders = stringOrSlice(v.Get("triage.vip_senders"))
	cfg.Triage.VIPFrequencyThreshold = v.GetInt("triage.vip_frequency_threshold")
	if cfg.Triage.VIPFrequencyThreshold < 0 {
		cfg.Triage.VIPFrequencyThreshold = 0
	}

	cfg.Drafting.Signature = strings.TrimSpace(v.GetString("drafting.signature"))

	apiKeyEnv := v.GetString("ai.codex.api_key_env")
	if cfg.Codex.APIKey == "" && apiKeyEnv != "" {
		cfg.Codex.APIKey = os.Getenv(apiKeyEnv)
	}
	if cfg.Codex.APIKey == "" {
		cfg.Codex.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Codex.APIKey == "" {
		cfg.Codex.APIKey = os.Getenv("CODEX_API_KEY")
	}
}

// normalize validates the loaded values and derives dependent settings.
func (c *Config) normalize(v *viper.Viper) error {
	if c.Fastmail.APIToken == "" {
		c.Fastmail.APIToken = os.Getenv("FASTMAIL_API_TOKEN")
	}
	if c.Fastmail.APIToken == "" {
		return errorf("missing Fastmail API token; set fastmail.api_token or FASTMAIL_API_TOKEN")
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("ai.backend")))
	if backend != "codex" {
		return errorf("unsupported ai.backend %q; this pipeline is codex-only", backend)
	}

	switch c.Codex.AuthMode {
	case AuthModeSubscription, AuthModeAPIKey:
	case AuthModeAuto:
		if c.Codex.APIKey != "" {
			c.Codex.AuthMode = AuthModeAPIKey
		} else {
			c.Codex.AuthMode = AuthModeSubscription
		}
	default:
		return errorf("invalid ai.codex.auth_mode %q; use subscription, api_key or auto", c.Codex.AuthMode)
	}

	if c.Codex.AuthMode == AuthModeAPIKey && c.Codex.APIKey == "" {
		return errorf("missing codex API key; set ai.codex.api_key or OPENAI_API_KEY (or CODEX_API_KEY)")
	}

	if !priority.Valid(c.Automation.MinPriorityForDraft) {
		c.Automation.MinPriorityForDraft = priority.High
	}
	if c.Automation.MaxEmailsPerCycle < 1 {
		c.Automation.MaxEmailsPerCycle = 1
	}
	if c.Automation.LoopIntervalSeconds < 1 {
		c.Automation.LoopIntervalSeconds = 1
	}
	if c.Automation.CodexMaxBodyChars < 1 {
		c.Automation.CodexMaxBodyChars = 4000
	}
	c.Automation.StateDB = expandHome(c.Automation.StateDB)

	// An explicitly configured list wins over the boolean, even when empty.
	if v.IsSet("automation.auto_archive_priorities") {
		c.Automation.AutoArchivePriorities = priority.Sanitize(stringOrSlice(v.Get("automation.auto_archive_priorities")))
	} else if c.Automation.AutoArchiveLowPriority {
		c.Automation.AutoArchivePriorities = []string{priority.Low, priority.Medium}
	} else {
		c.Automation.AutoArchivePriorities = []string{}
	}

	return nil
}

// stringOrSlice accepts a config value that may be a single scalar or a list
// and returns it as a string slice.
func stringOrSlice(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(typed) == "" {
			return nil
		}
		return []string{typed}
	case []string:
		return typed
	case []any:
		var out []string
		for _, item := range typed {
			s := strings.TrimSpace(fmt.Sprint(item))
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		s := strings.TrimSpace(fmt.Sprint(typed))
		if s == "" {
			return nil
		}
		return []string{s}
	}
}
