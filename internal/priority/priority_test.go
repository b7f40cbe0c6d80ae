package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid(Low))
	assert.True(t, Valid(Medium))
	assert.True(t, Valid(High))
	assert.False(t, Valid("urgent"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("HIGH"))
}

func TestAtLeast(t *testing.T) {
	testCases := []struct {
		p, min   string
		expected bool
	}{
		{High, High, true},
		{Medium, High, false},
		{Low, High, false},
		{Medium, Medium, true},
		{High, Low, true},
		{Low, Low, true},
		{"unknown", Low, false},
		{High, "unknown", true}, // unknown threshold falls back to high
		{Medium, "unknown", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, AtLeast(tc.p, tc.min), "AtLeast(%q, %q)", tc.p, tc.min)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, []string{"low", "medium"}, Sanitize([]string{" Low ", "medium", "bogus", "LOW"}))
	assert.Empty(t, Sanitize([]string{"bogus", ""}))
	assert.Empty(t, Sanitize(nil))
}
