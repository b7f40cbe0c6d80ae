// Package composer builds reply draft bodies: the template fallback used
// when no LLM reply is available, and the signature append applied to
// every outgoing draft body.
package composer

import (
	"fmt"
	"regexp"
	"strings"

	"email-triage/internal/priority"
)

// FallbackReply returns the template acknowledgement for a message, keyed
// by triage priority. The result has no signature attached.
func FallbackReply(subject, p string) string {
	cleaned := strings.TrimSpace(subject)
	if cleaned == "" {
		cleaned = "your message"
	}

	switch p {
	case priority.High:
		return fmt.Sprintf("Thanks for your email about %q. I received this and I'm prioritizing it now.", cleaned) +
			"\n\nI'll follow up shortly with a full response."
	case priority.Medium:
		return fmt.Sprintf("Thanks for the note about %q. I received it and will review it shortly.", cleaned) +
			"\n\nI'll send a full response after I've gone through the details."
	default:
		return fmt.Sprintf("Thanks for sharing this update about %q.", cleaned) +
			"\n\nI've received it and will follow up if anything is needed from my side."
	}
}

// AppendSignature appends the configured signature to a reply body. Any
// trailing signature already present, whether a "--" separator block or a
// common sign-off, is stripped first so the operation is idempotent.
func AppendSignature(replyText, signature string) string {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return replyText
	}

	normalized := strings.TrimRight(replyText, " \t\r\n")
	if normalized == "" {
		return signature
	}

	body := stripTrailingSignature(normalized)
	if strings.HasSuffix(body, signature) {
		return body
	}
	if body == "" {
		return signature
	}
	return strings.TrimRight(body, " \t\r\n") + "\n\n" + signature
}

var separatorLine = regexp.MustCompile(`^--\s*$`)

var signatureMarkers = []string{
	"regards",
	"best",
	"sincerely",
	"thanks",
	"thank you",
	"cheers",
	"best regards",
	"kind regards",
	"with appreciation",
	"sent from",
	"best,",
	"regards,",
	"sincerely,",
	"thanks,",
	"thank you,",
	"cheers,",
}

// stripTrailingSignature removes a trailing signature block. It scans
// bottom-up for an explicit "--" separator first, then for a sign-off
// line, extending upward through the contiguous block of non-blank lines.
func stripTrailingSignature(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return text
	}

	for idx := len(lines) - 1; idx >= 0; idx-- {
		candidate := strings.TrimSpace(lines[idx])
		if candidate == "" {
			continue
		}
		if separatorLine.MatchString(candidate) {
			return strings.TrimRight(strings.Join(lines[:idx], "\n"), " \t\r\n")
		}
	}

	for idx := len(lines) - 1; idx >= 0; idx-- {
		lower := strings.ToLower(strings.TrimSpace(lines[idx]))
		matched := false
		for _, marker := range signatureMarkers {
			if strings.HasPrefix(lower, marker) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		start := idx
		for start > 0 && strings.TrimSpace(lines[start-1]) != "" {
			start--
		}
		return strings.TrimRight(strings.Join(lines[:start], "\n"), " \t\r\n")
	}

	return text
}
