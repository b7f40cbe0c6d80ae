package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"email-triage/internal/mailstore"
)

func TestEscapeField(t *testing.T) {
	assert.Equal(t, "a\\|b", escapeField("a|b"))
	assert.Equal(t, "line one\\nline two", escapeField("line one\r\nline two"))
	assert.Equal(t, "x\\ny", escapeField("x\ry"))
}

func TestFormatAddresses(t *testing.T) {
	people := []mailstore.EmailAddress{
		{Name: "Jane Doe", Email: "jane@example.com"},
		{Email: "sam@example.com"},
		{},
	}
	assert.Equal(t, "Jane Doe <jane@example.com>; sam@example.com", formatAddresses(people))
}

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["mailboxes"])
	assert.True(t, names["fetch"])
}
