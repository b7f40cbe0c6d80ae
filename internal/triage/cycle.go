// Package triage runs the inbox triage cycle: ingest unread mail, classify
// it, optionally refine with Codex, then archive or draft replies per
// policy, persisting everything in one transaction per cycle.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"email-triage/internal/assist"
	"email-triage/internal/classifier"
	"email-triage/internal/composer"
	"email-triage/internal/config"
	"email-triage/internal/mailstore"
	"email-triage/internal/policy"
	"email-triage/internal/store"
)

// EmailEntry is one message's line in the cycle summary.
type EmailEntry struct {
	EmailID         string `json:"email_id"`
	Priority        string `json:"priority,omitempty"`
	Actionable      bool   `json:"actionable"`
	Status          string `json:"status"`
	DraftID         string `json:"draft_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Source          string `json:"source,omitempty"`
	SenderEmail     string `json:"sender_email,omitempty"`
	AutoPromotedVIP bool   `json:"auto_promoted_vip"`
}

// Summary is the result of one cycle. Counters are mutually exclusive per
// message: an error row is not triaged, a skipped row is neither triaged,
// archived, nor drafted.
type Summary struct {
	RunAt         string       `json:"run_at"`
	ApplyMode     bool         `json:"apply_mode"`
	EmailsSeen    int          `json:"emails_seen"`
	TriagedCount  int          `json:"triaged_count"`
	ArchivedCount int          `json:"archived_count"`
	DraftedCount  int          `json:"drafted_count"`
	SkippedCount  int          `json:"skipped_count"`
	ErrorCount    int          `json:"error_count"`
	Emails        []EmailEntry `json:"emails"`
}

// Options are the per-invocation switches of a cycle.
type Options struct {
	Apply     bool
	Reprocess bool
	Limit     int
}

// Engine runs triage cycles against one state store.
type Engine struct {
	cfg        *config.Config
	store      *store.Store
	classifier *classifier.Classifier
	policy     *policy.Engine
	assistant  assist.Assistant
	logger     *slog.Logger
}

// NewEngine builds a cycle engine. assistant may be nil for rule-only
// triage.
func NewEngine(cfg *config.Config, st *store.Store, assistant assist.Assistant, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		classifier: classifier.New(cfg),
		policy:     policy.New(cfg),
		assistant:  assistant,
		logger:     logger,
	}
}

// RunCycle executes one triage cycle. All state writes happen in a single
// transaction; any error returned here has already been rolled back.
func (e *Engine) RunCycle(ctx context.Context, mail mailstore.MailStore, opts Options) (*Summary, error) {
	mailboxes, err := mail.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	inboxName := e.cfg.Mail.Mailbox
	inboxRole := mailstore.RoleHint(inboxName)
	if inboxRole == "" {
		inboxRole = "inbox"
	}
	inbox, err := mailstore.FindMailbox(mailboxes, inboxName, inboxRole)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit < 1 {
		limit = e.cfg.Automation.MaxEmailsPerCycle
	}
	if limit < 1 {
		limit = 1
	}

	emails, err := mail.QueryUnread(ctx, inbox.ID, limit)
	if err != nil {
		return nil, err
	}

	tx, err := e.store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	summary, err := e.runCycleTx(ctx, tx, mail, emails, opts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return summary, nil
}

func (e *Engine) runCycleTx(ctx context.Context, tx *store.Tx, mail mailstore.MailStore, emails []*mailstore.Email, opts Options) (*Summary, error) {
	summary := &Summary{
		RunAt:      store.UTCNow(),
		ApplyMode:  opts.Apply,
		EmailsSeen: len(emails),
		Emails:     []EmailEntry{},
	}

	// One snapshot of both sets per cycle; promotions made during the
	// cycle take effect from the next one.
	vipSenders, err := tx.VIPSenders()
	if err != nil {
		return nil, err
	}
	blockedSenders, err := tx.DraftBlockedSenders()
	if err != nil {
		return nil, err
	}

	for _, email := range emails {
		if email.ID == "" {
			summary.ErrorCount++
			continue
		}

		now := store.UTCNow()
		existing, err := tx.GetState(email.ID)
		if err != nil {
			return nil, err
		}
		existingDraftID := ""
		if existing != nil {
			existingDraftID = existing.DraftID
		}

		if existingDraftID != "" && !opts.Reprocess {
			if err := tx.TouchSeen(email.ID, now); err != nil {
				return nil, err
			}
			summary.SkippedCount++
			summary.Emails = append(summary.Emails, EmailEntry{
				EmailID:  email.ID,
				Status:   "skipped",
				Reason:   "already has draft",
				DraftID:  existingDraftID,
				Priority: existing.Priority,
			})
			continue
		}

		rules := e.classifier.Classify(email, vipSenders)
		fallbackReply := composer.FallbackReply(email.Subject, rules.Priority)

		decision, err := e.refine(ctx, email, rules, fallbackReply)
		if err != nil {
			return nil, err
		}

		senderEmail := email.SenderEmail()
		previousPriority := ""
		if existing != nil {
			previousPriority = existing.Priority
		}
		autoPromoted, err := e.policy.MaybeAutoPromoteVIP(tx, senderEmail, previousPriority, decision.Priority)
		if err != nil {
			return nil, err
		}

		status := "triaged"
		errorText := ""
		draftID := ""
		if existingDraftID != "" && !opts.Reprocess {
			draftID = existingDraftID
		}

		if e.policy.ShouldArchive(opts.Apply, decision.Priority) {
			if err := mail.MoveToMailbox(ctx, email.ID, e.cfg.Mail.ArchiveMailbox, "archive"); err != nil {
				status = "error"
				errorText = err.Error()
				summary.ErrorCount++
				e.logger.Warn("archive failed", "email_id", email.ID, "error", err)
			} else {
				status = "archived"
				summary.ArchivedCount++
			}
		} else if e.policy.ShouldCreateDraft(policy.DraftRequest{
			Apply:           opts.Apply,
			Reprocess:       opts.Reprocess,
			Email:           email,
			Priority:        decision.Priority,
			Actionable:      decision.Actionable,
			ExistingDraftID: existingDraftID,
			BlockedSenders:  blockedSenders,
			AccountEmail:    mail.AccountEmail(ctx),
		}) {
			newDraftID, err := mail.CreateReplyDraft(ctx, email, decision.ReplyText, e.cfg.Automation.ReplyAll)
			if err != nil {
				status = "error"
				errorText = err.Error()
				if existingDraftID != "" && draftID == "" {
					draftID = existingDraftID
				}
				summary.ErrorCount++
				e.logger.Warn("draft creation failed", "email_id", email.ID, "error", err)
			} else {
				draftID = newDraftID
				status = "drafted"
				summary.DraftedCount++
			}
		}

		if status != "error" {
			summary.TriagedCount++
		}

		firstSeenAt := now
		if existing != nil {
			firstSeenAt = existing.FirstSeenAt
		}
		if err := tx.UpsertState(&store.TriageState{
			EmailID:     email.ID,
			Subject:     email.Subject,
			Sender:      email.SenderDisplay(),
			SenderEmail: senderEmail,
			ReceivedAt:  email.ReceivedAt,
			Priority:    decision.Priority,
			Actionable:  decision.Actionable,
			Reason:      decision.Reason,
			Summary:     decision.Summary,
			ReplyText:   decision.ReplyText,
			Drafted:     draftID != "",
			DraftID:     draftID,
			Status:      status,
			Error:       errorText,
			RawEmail:    string(email.Raw),
			FirstSeenAt: firstSeenAt,
			LastSeenAt:  now,
			UpdatedAt:   now,
		}); err != nil {
			return nil, err
		}

		summary.Emails = append(summary.Emails, EmailEntry{
			EmailID:         email.ID,
			Priority:        decision.Priority,
			Actionable:      decision.Actionable,
			Status:          status,
			DraftID:         draftID,
			Reason:          decision.Reason,
			Source:          decision.Source,
			SenderEmail:     senderEmail,
			AutoPromotedVIP: autoPromoted,
		})
	}

	details, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding run details: %w", err)
	}
	mode := "dry-run"
	if opts.Apply {
		mode = "apply"
	}
	if err := tx.RecordRun(store.RunRecord{
		RunAt:        summary.RunAt,
		Mode:         mode,
		EmailsSeen:   summary.EmailsSeen,
		TriagedCount: summary.TriagedCount,
		DraftedCount: summary.DraftedCount,
		SkippedCount: summary.SkippedCount,
		ErrorCount:   summary.ErrorCount,
		DetailsJSON:  string(details),
	}); err != nil {
		return nil, err
	}

	return summary, nil
}

// decision is the adopted triage outcome for one message, after the LLM
// pass or its fallback.
type decision struct {
	Priority   string
	Actionable bool
	Reason     string
	Summary    string
	ReplyText  string
	Source     string
}

// refine applies the Codex pass on top of the rule result. Without an
// assistant the rule result is adopted as-is; with one, its failure either
// falls back to rules or aborts the cycle depending on configuration.
func (e *Engine) refine(ctx context.Context, email *mailstore.Email, rules classifier.Result, fallbackReply string) (decision, error) {
	signature := e.cfg.Drafting.Signature

	if e.assistant == nil {
		return decision{
			Priority:   rules.Priority,
			Actionable: rules.Actionable,
			Reason:     "[rules] " + rules.Reason,
			Summary:    rules.Summary,
			ReplyText:  composer.AppendSignature(fallbackReply, signature),
			Source:     "rules",
		}, nil
	}

	result, err := e.assistant.TriageEmail(ctx, assist.Request{
		Email:          assist.BuildPayload(email, e.cfg.Automation.CodexMaxBodyChars),
		RulePriority:   rules.Priority,
		RuleActionable: rules.Actionable,
		RuleReason:     rules.Reason,
		FallbackReply:  fallbackReply,
	})
	if err != nil {
		if !e.cfg.Automation.CodexFallbackToRules {
			return decision{}, err
		}
		e.logger.Warn("codex triage failed, using rules", "email_id", email.ID, "error", err)
		return decision{
			Priority:   rules.Priority,
			Actionable: rules.Actionable,
			Reason:     fmt.Sprintf("[rules-fallback] %s; codex_error=%v", rules.Reason, err),
			Summary:    rules.Summary,
			ReplyText:  composer.AppendSignature(fallbackReply, signature),
			Source:     "rules_fallback",
		}, nil
	}

	return decision{
		Priority:   result.Priority,
		Actionable: result.Actionable,
		Reason:     "[codex] " + result.Reason,
		Summary:    result.Summary,
		ReplyText:  composer.AppendSignature(result.ReplyText, signature),
		Source:     "codex",
	}, nil
}
