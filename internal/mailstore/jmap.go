package mailstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"email-triage/internal/config"
)

const (
	coreCapability = "urn:ietf:params:jmap:core"
	mailCapability = "urn:ietf:params:jmap:mail"

	// maxBodyValueBytes caps how much body text the server returns per part.
	maxBodyValueBytes = 120000
)

var emailProperties = []string{
	"id", "subject", "from", "to", "cc",
	"receivedAt", "sentAt", "preview",
	"textBody", "bodyValues", "keywords",
	"messageId", "references", "mailboxIds",
}

// Client is a JMAP client backed by a Fastmail-style session endpoint.
// It implements MailStore. The session is discovered lazily on first use
// and cached for the lifetime of the client.
type Client struct {
	httpClient *http.Client
	sessionURL string
	token      string
	mail       config.MailConfig

	mu        sync.Mutex
	session   map[string]json.RawMessage
	apiURL    string
	accountID string
}

// NewClient creates a JMAP client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessionURL: cfg.Fastmail.SessionURL,
		token:      cfg.Fastmail.APIToken,
		mail:       cfg.Mail,
	}
}

// ensureSession performs session discovery once and records the apiUrl and
// accountId, preferring the primary mail account.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}

	var session map[string]json.RawMessage
	if err := c.httpJSON(ctx, http.MethodGet, c.sessionURL, nil, &session); err != nil {
		return opErr("session", err)
	}

	var apiURL string
	if raw, ok := session["apiUrl"]; ok {
		_ = json.Unmarshal(raw, &apiURL)
	}
	if apiURL == "" {
		return opErrf("session", "no apiUrl found in session response")
	}

	accountID := ""
	if raw, ok := session["primaryAccounts"]; ok {
		var primaries map[string]string
		if err := json.Unmarshal(raw, &primaries); err == nil {
			accountID = primaries[mailCapability]
		}
	}
	if accountID == "" {
		if raw, ok := session["accounts"]; ok {
			var accounts map[string]json.RawMessage
			if err := json.Unmarshal(raw, &accounts); err == nil {
				for id := range accounts {
					accountID = id
					break
				}
			}
		}
	}
	if accountID == "" {
		return opErrf("session", "no usable accountId found in session response")
	}

	c.session = session
	c.apiURL = apiURL
	c.accountID = accountID
	return nil
}

// invocation is one [name, arguments, callId] triple of a JMAP request
// or response.
type invocation struct {
	Name   string
	Args   json.RawMessage
	CallID string
}

func (inv invocation) MarshalJSON() ([]byte, error) {
	args := inv.Args
	if args == nil {
		args = json.RawMessage("{}")
	}
	return json.Marshal([]any{inv.Name, args, inv.CallID})
}

func (inv *invocation) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("invocation has %d elements, want 3", len(parts))
	}
	if err := json.Unmarshal(parts[0], &inv.Name); err != nil {
		return err
	}
	inv.Args = parts[1]
	if err := json.Unmarshal(parts[2], &inv.CallID); err != nil {
		return err
	}
	return nil
}

func call(name string, args any, callID string) invocation {
	raw, _ := json.Marshal(args)
	return invocation{Name: name, Args: raw, CallID: callID}
}

type apiResponse struct {
	MethodResponses []invocation `json:"methodResponses"`
}

// jmapMethodError is the arguments object of an "error" method response.
type jmapMethodError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// call posts a batch of method calls and fails on any error response.
func (c *Client) call(ctx context.Context, calls ...invocation) (*apiResponse, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"using":       []string{coreCapability, mailCapability},
		"methodCalls": calls,
	}

	var resp apiResponse
	if err := c.httpJSON(ctx, http.MethodPost, c.apiURL, payload, &resp); err != nil {
		return nil, opErr("api call", err)
	}

	for _, inv := range resp.MethodResponses {
		if inv.Name == "error" {
			var methodErr jmapMethodError
			_ = json.Unmarshal(inv.Args, &methodErr)
			return nil, opErrf("api call", "jmap error (%s): %s %s",
				inv.CallID, methodErr.Type, methodErr.Description)
		}
	}
	return &resp, nil
}

// getCall returns the arguments of the response matching callID.
func getCall(resp *apiResponse, callID string) (json.RawMessage, error) {
	for _, inv := range resp.MethodResponses {
		if inv.CallID == callID {
			return inv.Args, nil
		}
	}
	return nil, opErrf("api call", "missing call response for %s", callID)
}

func (c *Client) httpJSON(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}

// ListMailboxes implements MailStore.
func (c *Client) ListMailboxes(ctx context.Context) ([]Mailbox, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx,
		call("Mailbox/query", map[string]any{
			"accountId": c.accountID,
			"sort":      []map[string]any{{"property": "name", "isAscending": true}},
		}, "mbq"),
		call("Mailbox/get", map[string]any{
			"accountId":  c.accountID,
			"#ids":       map[string]any{"resultOf": "mbq", "name": "Mailbox/query", "path": "/ids"},
			"properties": []string{"id", "name", "role", "parentId", "totalEmails", "unreadEmails"},
		}, "mbg"),
	)
	if err != nil {
		return nil, err
	}

	args, err := getCall(resp, "mbg")
	if err != nil {
		return nil, err
	}
	var result struct {
		List []Mailbox `json:"list"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return nil, opErr("list mailboxes", err)
	}
	return result.List, nil
}

// QueryUnread implements MailStore. Messages come back newest first with
// bodies fetched in the same batch.
func (c *Client) QueryUnread(ctx context.Context, mailboxID string, limit int) ([]*Email, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 1
	}

	resp, err := c.call(ctx,
		call("Email/query", map[string]any{
			"accountId": c.accountID,
			"filter": map[string]any{
				"inMailbox":  mailboxID,
				"notKeyword": "$seen",
			},
			"sort":     []map[string]any{{"property": "receivedAt", "isAscending": false}},
			"position": 0,
			"limit":    limit,
		}, "eq"),
		call("Email/get", map[string]any{
			"accountId":          c.accountID,
			"#ids":               map[string]any{"resultOf": "eq", "name": "Email/query", "path": "/ids"},
			"properties":         emailProperties,
			"fetchTextBodyValues": true,
			"maxBodyValueBytes":  maxBodyValueBytes,
		}, "eg"),
	)
	if err != nil {
		return nil, err
	}

	return decodeEmailList(resp, "eg")
}

// GetEmail implements MailStore.
func (c *Client) GetEmail(ctx context.Context, id string) (*Email, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	resp, err := c.call(ctx,
		call("Email/get", map[string]any{
			"accountId":          c.accountID,
			"ids":                []string{id},
			"properties":         emailProperties,
			"fetchTextBodyValues": true,
			"maxBodyValueBytes":  maxBodyValueBytes,
		}, "eg"),
	)
	if err != nil {
		return nil, err
	}

	emails, err := decodeEmailList(resp, "eg")
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, opErrf("get email", "message not found with id %s", id)
	}
	return emails[0], nil
}

func decodeEmailList(resp *apiResponse, callID string) ([]*Email, error) {
	args, err := getCall(resp, callID)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return nil, opErr("decode emails", err)
	}

	emails := make([]*Email, 0, len(result.List))
	for _, raw := range result.List {
		email, err := decodeEmail(raw)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// jmapEmail is the wire shape of an Email/get result entry.
type jmapEmail struct {
	ID         string         `json:"id"`
	Subject    string         `json:"subject"`
	From       []EmailAddress `json:"from"`
	To         []EmailAddress `json:"to"`
	CC         []EmailAddress `json:"cc"`
	ReceivedAt string         `json:"receivedAt"`
	SentAt     string         `json:"sentAt"`
	Preview    string         `json:"preview"`
	TextBody   []struct {
		PartID string `json:"partId"`
	} `json:"textBody"`
	BodyValues map[string]struct {
		Value string `json:"value"`
	} `json:"bodyValues"`
	MessageID  messageIDList `json:"messageId"`
	References []string      `json:"references"`
}

// messageIDList accepts both a bare string and a list of strings, which
// servers vary on.
type messageIDList []string

func (m *messageIDList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*m = []string{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	out := many[:0]
	for _, id := range many {
		if id != "" {
			out = append(out, id)
		}
	}
	*m = out
	return nil
}

func decodeEmail(raw json.RawMessage) (*Email, error) {
	var wire jmapEmail
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, opErr("decode email", err)
	}

	return &Email{
		ID:         wire.ID,
		Subject:    wire.Subject,
		From:       wire.From,
		To:         wire.To,
		CC:         wire.CC,
		ReceivedAt: wire.ReceivedAt,
		SentAt:     wire.SentAt,
		Preview:    wire.Preview,
		MessageID:  wire.MessageID,
		References: wire.References,
		Body:       extractTextContent(&wire),
		Raw:        raw,
	}, nil
}

// extractTextContent joins the text body parts, falling back to the first
// body value and then the preview.
func extractTextContent(wire *jmapEmail) string {
	var chunks []string
	for _, part := range wire.TextBody {
		if part.PartID == "" {
			continue
		}
		if value := wire.BodyValues[part.PartID].Value; value != "" {
			chunks = append(chunks, value)
		}
	}
	if len(chunks) > 0 {
		return strings.TrimSpace(strings.Join(chunks, "\n\n"))
	}

	for _, value := range wire.BodyValues {
		if value.Value != "" {
			return strings.TrimSpace(value.Value)
		}
	}
	return strings.TrimSpace(wire.Preview)
}

// CreateReplyDraft implements MailStore. The draft quotes the original
// message and threads via inReplyTo and references. With replyAll set, the
// original To and CC recipients are carried on CC minus the original sender
// and the account's own addresses.
func (c *Client) CreateReplyDraft(ctx context.Context, original *Email, replyText string, replyAll bool) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	if len(original.From) == 0 {
		return "", opErrf("create draft", "original message has no sender")
	}

	toRecipients := []EmailAddress{original.From[0]}

	var ccRecipients []EmailAddress
	if replyAll {
		seen := map[string]bool{
			strings.ToLower(strings.TrimSpace(original.From[0].Email)): true,
		}
		if own := c.resolveSenderEmail(); own != "" {
			seen[own] = true
		}
		for _, person := range append(append([]EmailAddress{}, original.To...), original.CC...) {
			email := strings.ToLower(strings.TrimSpace(person.Email))
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			ccRecipients = append(ccRecipients, person)
		}
	}

	subject := EnsureReplySubject(original.Subject)
	originalDate := original.ReceivedAt
	if originalDate == "" {
		originalDate = original.SentAt
	}
	quoteHeader := fmt.Sprintf("On %s, %s wrote:", originalDate, original.From[0].Display())
	fullBody := replyText + "\n\n" + quoteHeader + "\n\n" + QuoteLines(original.Body)

	refs := append([]string{}, original.References...)
	for _, msgID := range original.MessageID {
		found := false
		for _, ref := range refs {
			if ref == msgID {
				found = true
				break
			}
		}
		if !found {
			refs = append(refs, msgID)
		}
	}

	mailboxes, err := c.ListMailboxes(ctx)
	if err != nil {
		return "", err
	}
	draftsRole := RoleHint(c.mail.DraftsMailbox)
	if draftsRole == "" {
		draftsRole = "drafts"
	}
	draftsBox, err := FindMailbox(mailboxes, c.mail.DraftsMailbox, draftsRole)
	if err != nil {
		return "", err
	}

	emailObj := map[string]any{
		"mailboxIds": map[string]bool{draftsBox.ID: true},
		"keywords":   map[string]bool{"$draft": true},
		"to":         toRecipients,
		"subject":    subject,
		"textBody":   []map[string]any{{"partId": "1", "type": "text/plain"}},
		"bodyValues": map[string]any{"1": map[string]any{"value": fullBody}},
	}
	if len(ccRecipients) > 0 {
		emailObj["cc"] = ccRecipients
	}
	if sender := c.resolveSenderEmail(); sender != "" {
		from := EmailAddress{Email: sender, Name: strings.TrimSpace(c.mail.SenderName)}
		emailObj["from"] = []EmailAddress{from}
	}
	if len(original.MessageID) > 0 {
		emailObj["inReplyTo"] = []string(original.MessageID)
	}
	if len(refs) > 0 {
		emailObj["references"] = refs
	}

	resp, err := c.call(ctx,
		call("Email/set", map[string]any{
			"accountId": c.accountID,
			"create":    map[string]any{"draft-1": emailObj},
		}, "es"),
	)
	if err != nil {
		return "", err
	}

	args, err := getCall(resp, "es")
	if err != nil {
		return "", err
	}
	var result struct {
		Created map[string]struct {
			ID string `json:"id"`
		} `json:"created"`
		NotCreated map[string]jmapMethodError `json:"notCreated"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return "", opErr("create draft", err)
	}
	if setErr, ok := result.NotCreated["draft-1"]; ok {
		reason := setErr.Description
		if reason == "" {
			reason = setErr.Type
		}
		return "", opErrf("create draft", "draft create failed: %s", reason)
	}
	created, ok := result.Created["draft-1"]
	if !ok || created.ID == "" {
		return "", opErrf("create draft", "draft created but no id returned")
	}
	return created.ID, nil
}

// MoveToMailbox implements MailStore.
func (c *Client) MoveToMailbox(ctx context.Context, emailID, mailboxName, roleHint string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	mailboxes, err := c.ListMailboxes(ctx)
	if err != nil {
		return err
	}
	role := RoleHint(mailboxName)
	if role == "" {
		role = roleHint
	}
	target, err := FindMailbox(mailboxes, mailboxName, role)
	if err != nil {
		return err
	}

	resp, err := c.call(ctx,
		call("Email/set", map[string]any{
			"accountId": c.accountID,
			"update": map[string]any{
				emailID: map[string]any{
					"mailboxIds": map[string]bool{target.ID: true},
				},
			},
		}, "es"),
	)
	if err != nil {
		return err
	}

	args, err := getCall(resp, "es")
	if err != nil {
		return err
	}
	var result struct {
		NotUpdated map[string]jmapMethodError `json:"notUpdated"`
	}
	if err := json.Unmarshal(args, &result); err != nil {
		return opErr("move email", err)
	}
	if setErr, ok := result.NotUpdated[emailID]; ok {
		reason := setErr.Description
		if reason == "" {
			reason = setErr.Type
		}
		return opErrf("move email", "move failed: %s", reason)
	}
	return nil
}

// AccountEmail implements MailStore. It prefers the configured sender
// address and falls back to whatever the session advertises for the
// account.
func (c *Client) AccountEmail(ctx context.Context) string {
	if err := c.ensureSession(ctx); err != nil {
		return strings.ToLower(strings.TrimSpace(c.mail.SenderEmail))
	}
	return c.resolveSenderEmail()
}

func (c *Client) resolveSenderEmail() string {
	if configured := strings.ToLower(strings.TrimSpace(c.mail.SenderEmail)); configured != "" {
		return configured
	}

	c.mu.Lock()
	session := c.session
	accountID := c.accountID
	c.mu.Unlock()
	if session == nil {
		return ""
	}

	var accounts map[string]map[string]any
	if raw, ok := session["accounts"]; ok {
		_ = json.Unmarshal(raw, &accounts)
	}
	account := accounts[accountID]
	if account == nil {
		return ""
	}

	var candidates []any
	for _, key := range []string{"email", "emailAddress", "email_address", "address"} {
		if value, ok := account[key]; ok && value != nil {
			candidates = append(candidates, value)
		}
	}
	for _, key := range []string{"emailAddresses", "addresses"} {
		if value, ok := account[key]; ok && value != nil {
			candidates = append(candidates, value)
		}
	}

	for _, candidate := range candidates {
		for _, email := range extractEmailValues(candidate) {
			if strings.Contains(email, "@") {
				return email
			}
		}
	}
	return ""
}

func extractEmailValues(value any) []string {
	switch v := value.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(strings.ReplaceAll(v, ";", ","), ",") {
			if cleaned := strings.ToLower(strings.TrimSpace(part)); cleaned != "" {
				out = append(out, cleaned)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, extractEmailValues(item)...)
		}
		return out
	case map[string]any:
		var out []string
		for _, key := range []string{"email", "address", "mail"} {
			if nested, ok := v[key]; ok {
				out = append(out, extractEmailValues(nested)...)
			}
		}
		return out
	}
	return nil
}
