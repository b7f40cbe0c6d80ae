package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-triage/internal/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		stateDB = ""
		jsonOutput = false
		vipList = false
		vipAdd = nil
		vipRemove = nil
		draftBlockList = false
		draftBlockAdd = nil
		draftBlockRemove = nil
	})
}

func TestAdminRequested(t *testing.T) {
	resetFlags(t)
	assert.False(t, adminRequested())

	vipAdd = []string{"boss@example.com"}
	assert.True(t, adminRequested())

	vipAdd = nil
	draftBlockList = true
	assert.True(t, adminRequested())
}

func TestAdminVIPAddAndList(t *testing.T) {
	resetFlags(t)
	stateDB = filepath.Join(t.TempDir(), "triage.db")
	vipAdd = []string{"Boss <BOSS@Example.com>", "not-an-address"}
	vipList = true

	var buf bytes.Buffer
	require.NoError(t, runAdmin(&buf))

	out := buf.String()
	assert.Contains(t, out, "Added:\n- boss@example.com")
	assert.Contains(t, out, "Invalid:\n- not-an-address")
	assert.Contains(t, out, "VIP senders:\n- boss@example.com")

	// A second add of the same address reports it as already present.
	buf.Reset()
	vipAdd = []string{"boss@example.com"}
	require.NoError(t, runAdmin(&buf))
	assert.Contains(t, buf.String(), "Already present:\n- boss@example.com")
}

func TestAdminVIPRemoveJSON(t *testing.T) {
	resetFlags(t)
	stateDB = filepath.Join(t.TempDir(), "triage.db")
	jsonOutput = true
	vipAdd = []string{"a@example.com", "b@example.com"}
	vipRemove = []string{"a@example.com", "ghost@example.com"}

	var buf bytes.Buffer
	require.NoError(t, runAdmin(&buf))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, []any{"a@example.com", "b@example.com"}, payload["added"])
	assert.Equal(t, []any{"a@example.com"}, payload["removed"])
	assert.Equal(t, []any{"ghost@example.com"}, payload["not_present"])
	assert.Equal(t, []any{"b@example.com"}, payload["vip_senders"])
}

func TestAdminEmptyListPlain(t *testing.T) {
	resetFlags(t)
	stateDB = filepath.Join(t.TempDir(), "triage.db")
	draftBlockList = true

	var buf bytes.Buffer
	require.NoError(t, runAdmin(&buf))
	assert.Equal(t, "Draft-blocked senders:\n- none\n", buf.String())
}

func TestAdminDraftBlockRoundTrip(t *testing.T) {
	resetFlags(t)
	stateDB = filepath.Join(t.TempDir(), "triage.db")
	draftBlockAdd = []string{"alerts@example.com"}

	var buf bytes.Buffer
	require.NoError(t, runAdmin(&buf))
	assert.Contains(t, buf.String(), "Added:\n- alerts@example.com")

	buf.Reset()
	draftBlockAdd = nil
	draftBlockRemove = []string{"alerts@example.com"}
	require.NoError(t, runAdmin(&buf))
	assert.Contains(t, buf.String(), "Removed:\n- alerts@example.com")
	assert.Contains(t, buf.String(), "Draft-blocked senders:\n- none")
}

func TestBuildAssistantDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation.UseCodex = false

	assistant, err := buildAssistant(cfg, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, assistant)
}

func TestBuildAssistantFallsBackWhenUnavailable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation.UseCodex = true
	cfg.Automation.CodexFallbackToRules = true
	// An unresolved auth mode makes construction fail.
	cfg.Codex.AuthMode = "bogus"

	assistant, err := buildAssistant(cfg, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, assistant)
}

func TestBuildAssistantFatalWithoutFallback(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation.UseCodex = true
	cfg.Automation.CodexFallbackToRules = false
	cfg.Codex.AuthMode = "bogus"

	_, err := buildAssistant(cfg, slog.Default())
	require.Error(t, err)
}

func TestRootFlagsRegistered(t *testing.T) {
	for _, name := range []string{
		"config", "state-db", "apply", "limit", "reprocess", "json",
		"no-codex", "loop-seconds", "cycles",
		"vip-list", "vip-add", "vip-remove",
		"draft-block-list", "draft-block-add", "draft-block-remove",
	} {
		flag := rootCmd.Flags().Lookup(name)
		if flag == nil {
			flag = rootCmd.PersistentFlags().Lookup(name)
		}
		assert.NotNil(t, flag, "flag %s", name)
	}
}
