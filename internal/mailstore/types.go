package mailstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Error is returned for any remote mailbox operation failure. The triage
// cycle treats these as per-message errors, never cycle aborts.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mailstore: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func opErrf(op, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}

// EmailAddress is one entry of a JMAP address list.
type EmailAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Display renders the address in `Name <email>` form, degrading to
// whichever part is present.
func (a EmailAddress) Display() string {
	name := strings.TrimSpace(a.Name)
	email := strings.TrimSpace(a.Email)
	if name != "" && email != "" {
		return name + " <" + email + ">"
	}
	if email != "" {
		return email
	}
	return name
}

// Email is a decoded JMAP message. Raw preserves the original wire object
// for debugging storage.
type Email struct {
	ID         string
	Subject    string
	From       []EmailAddress
	To         []EmailAddress
	CC         []EmailAddress
	ReceivedAt string
	SentAt     string
	Preview    string
	MessageID  []string
	References []string
	Body       string
	Raw        json.RawMessage
}

// SenderEmail returns the first From address, lowercased and trimmed.
func (e *Email) SenderEmail() string {
	if len(e.From) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(e.From[0].Email))
}

// SenderDisplay returns the first From address in display form.
func (e *Email) SenderDisplay() string {
	if len(e.From) == 0 {
		return ""
	}
	return e.From[0].Display()
}

// ToEmails returns the raw To recipient addresses.
func (e *Email) ToEmails() []string {
	return addressEmails(e.To)
}

// CCEmails returns the raw CC recipient addresses.
func (e *Email) CCEmails() []string {
	return addressEmails(e.CC)
}

func addressEmails(people []EmailAddress) []string {
	var out []string
	for _, p := range people {
		if p.Email != "" {
			out = append(out, p.Email)
		}
	}
	return out
}

// Mailbox is a decoded JMAP mailbox.
type Mailbox struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	ParentID     string `json:"parentId"`
	TotalEmails  int    `json:"totalEmails"`
	UnreadEmails int    `json:"unreadEmails"`
}

// MailStore is the remote mailbox capability the triage engine consumes.
type MailStore interface {
	// ListMailboxes returns all mailboxes of the account.
	ListMailboxes(ctx context.Context) ([]Mailbox, error)

	// QueryUnread returns up to limit unread messages from the mailbox,
	// newest first.
	QueryUnread(ctx context.Context, mailboxID string, limit int) ([]*Email, error)

	// GetEmail fetches one message by id.
	GetEmail(ctx context.Context, id string) (*Email, error)

	// CreateReplyDraft creates a reply draft to the original message in the
	// Drafts mailbox and returns the new draft id. The draft is never sent.
	CreateReplyDraft(ctx context.Context, original *Email, replyText string, replyAll bool) (string, error)

	// MoveToMailbox moves a message into the named mailbox.
	MoveToMailbox(ctx context.Context, emailID, mailboxName, roleHint string) error

	// AccountEmail returns the account's own address, or "" when unknown.
	AccountEmail(ctx context.Context) string
}

// RoleHint maps a configured mailbox name to its likely JMAP role.
func RoleHint(mailboxName string) string {
	hints := map[string]string{
		"inbox":         "inbox",
		"sent":          "sent",
		"sent messages": "sent",
		"drafts":        "drafts",
		"trash":         "trash",
		"deleted":       "trash",
		"junk":          "junk",
		"spam":          "junk",
		"archive":       "archive",
	}
	return hints[strings.ToLower(strings.TrimSpace(mailboxName))]
}

// FindMailbox locates a mailbox by role first, then by case-insensitive
// name.
func FindMailbox(mailboxes []Mailbox, name, role string) (*Mailbox, error) {
	if role != "" {
		for i := range mailboxes {
			if strings.EqualFold(mailboxes[i].Role, role) {
				return &mailboxes[i], nil
			}
		}
	}
	if name != "" {
		wanted := strings.ToLower(strings.TrimSpace(name))
		for i := range mailboxes {
			if strings.ToLower(strings.TrimSpace(mailboxes[i].Name)) == wanted {
				return &mailboxes[i], nil
			}
		}
	}
	return nil, opErrf("find mailbox", "mailbox not found (name=%q, role=%q)", name, role)
}

// EnsureReplySubject prefixes the subject with "Re: " unless already present.
func EnsureReplySubject(subject string) string {
	cleaned := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(cleaned), "re:") {
		return cleaned
	}
	if cleaned == "" {
		return "Re:"
	}
	return "Re: " + cleaned
}

// QuoteLines prefixes every line of text with "> ".
func QuoteLines(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
