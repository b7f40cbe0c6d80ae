// Package classifier assigns deterministic priority and actionability to
// incoming messages using configured keywords, sender identities, and the
// current VIP set. It is the baseline the LLM pass refines and the fallback
// when that pass fails.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"email-triage/internal/addr"
	"email-triage/internal/config"
	"email-triage/internal/mailstore"
	"email-triage/internal/priority"
)

var actionPatterns = compilePatterns(
	`\bplease\b`,
	`\bcan you\b`,
	`\bcould you\b`,
	`\bwould you\b`,
	`\bneed you\b`,
	`\baction required\b`,
	`\blet me know\b`,
	`\bfollow up\b`,
	`\bdeadline\b`,
	`\basap\b`,
	`\beod\b`,
)

var lowSignalPatterns = compilePatterns(
	`\bnewsletter\b`,
	`\bdigest\b`,
	`\bnotification\b`,
	`\bpromo\b`,
	`\bmarketing\b`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// Result is a rule classification of one message.
type Result struct {
	Priority   string
	Actionable bool
	Reason     string
	Summary    string
}

// Classifier holds the per-run configuration of the rule pass.
type Classifier struct {
	urgentKeywords []string
	identities     map[string]struct{}
}

// New builds a classifier from configuration. Sender identities come from
// mail.sender_emails only.
func New(cfg *config.Config) *Classifier {
	var keywords []string
	for _, kw := range cfg.Triage.UrgentKeywords {
		if cleaned := strings.ToLower(strings.TrimSpace(kw)); cleaned != "" {
			keywords = append(keywords, cleaned)
		}
	}
	return &Classifier{
		urgentKeywords: keywords,
		identities:     addr.IdentitySet(cfg.Mail.SenderEmails...),
	}
}

// Classify runs the rule signals against one message. vipSenders is the
// normalized VIP set in effect for the cycle.
func (c *Classifier) Classify(email *mailstore.Email, vipSenders map[string]struct{}) Result {
	senderEmail := email.SenderEmail()
	combined := strings.ToLower(email.Subject + "\n" + email.Body)

	var reasons []string

	isVIP := false
	if senderEmail != "" {
		_, isVIP = vipSenders[senderEmail]
	}
	if isVIP {
		reasons = append(reasons, "VIP sender")
	}

	targetsIdentity := addr.TargetsIdentity(email.ToEmails(), email.CCEmails(), c.identities, true)
	if targetsIdentity {
		reasons = append(reasons, "sent to configured sender address")
	}

	var keywordHits []string
	for _, kw := range c.urgentKeywords {
		if strings.Contains(combined, kw) {
			keywordHits = append(keywordHits, kw)
		}
	}
	if len(keywordHits) > 0 {
		shown := keywordHits
		if len(shown) > 3 {
			shown = shown[:3]
		}
		reasons = append(reasons, "urgent keywords: "+strings.Join(shown, ", "))
	}

	actionable := strings.Contains(combined, "?")
	if !actionable {
		for _, pattern := range actionPatterns {
			if pattern.MatchString(combined) {
				actionable = true
				break
			}
		}
	}
	if actionable {
		reasons = append(reasons, "contains request/question language")
	}

	lowSignal := senderEmail != "" &&
		(strings.Contains(senderEmail, "noreply") ||
			strings.Contains(senderEmail, "no-reply") ||
			strings.Contains(senderEmail, "notification"))
	if !lowSignal {
		for _, pattern := range lowSignalPatterns {
			if pattern.MatchString(combined) {
				lowSignal = true
				break
			}
		}
	}
	if lowSignal {
		reasons = append(reasons, "low-signal/newsletter indicators")
	}

	// VIP, identity, and keyword signals outrank low-signal indicators.
	var p string
	switch {
	case isVIP || len(keywordHits) > 0 || targetsIdentity:
		p = priority.High
	case actionable && !lowSignal:
		p = priority.Medium
	default:
		p = priority.Low
	}

	return Result{
		Priority:   p,
		Actionable: actionable,
		Reason:     joinReasons(reasons),
		Summary:    summarize(email, senderEmail),
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "default low-priority classification"
	}
	seen := make(map[string]bool, len(reasons))
	deduped := reasons[:0]
	for _, reason := range reasons {
		if !seen[reason] {
			seen[reason] = true
			deduped = append(deduped, reason)
		}
	}
	return strings.Join(deduped, "; ")
}

func summarize(email *mailstore.Email, senderEmail string) string {
	sender := email.SenderDisplay()
	if sender == "" {
		sender = senderEmail
	}
	if sender == "" {
		sender = "unknown sender"
	}
	subject := email.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	return fmt.Sprintf("From %s about '%s'", sender, subject)
}
