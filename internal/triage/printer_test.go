package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() *Summary {
	return &Summary{
		RunAt:         "2026-08-24T10:00:00Z",
		ApplyMode:     true,
		EmailsSeen:    3,
		TriagedCount:  3,
		ArchivedCount: 1,
		DraftedCount:  1,
		Emails: []EmailEntry{
			{EmailID: "m1", Priority: "low", Status: "archived"},
			{EmailID: "m2", Priority: "high", Status: "drafted", DraftID: "d2", Source: "codex"},
			{EmailID: "m3", Priority: "high", Status: "triaged", SenderEmail: "jane@example.com", AutoPromotedVIP: true},
		},
	}
}

func TestPrintSummaryPlain(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).PrintSummary(sampleSummary())

	out := buf.String()
	assert.Contains(t, out, "[APPLY] 2026-08-24T10:00:00Z | seen=3 triaged=3 archived=1 drafted=1 skipped=0 errors=0")
	assert.Contains(t, out, "Archived:\n- m1")
	assert.Contains(t, out, "Drafts created/linked:\n- m2 -> d2 (high, codex)")
	assert.Contains(t, out, "Auto-promoted VIP senders:\n- jane@example.com")
}

func TestPrintSummaryDryRunHeader(t *testing.T) {
	var buf bytes.Buffer
	summary := sampleSummary()
	summary.ApplyMode = false
	NewPrinter(&buf, false).PrintSummary(summary)
	assert.Contains(t, buf.String(), "[DRY-RUN]")
}

func TestPrintSummaryJSON(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).PrintSummary(sampleSummary())

	var decoded Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 3, decoded.EmailsSeen)
	require.Len(t, decoded.Emails, 3)
	assert.Equal(t, "d2", decoded.Emails[1].DraftID)
	assert.True(t, decoded.Emails[2].AutoPromotedVIP)
}

func TestPrintCycleError(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, false).PrintCycleError(errors.New("session failed"), 2)
	assert.Equal(t, "ERROR:session failed\n", buf.String())

	buf.Reset()
	NewPrinter(&buf, true).PrintCycleError(errors.New("session failed"), 2)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "session failed", decoded["error"])
	assert.Equal(t, float64(2), decoded["cycle"])
	assert.Equal(t, true, decoded["rolled_back"])
}
