// Package policy decides what a cycle does with a classified message:
// whether a reply draft is created, whether the message is archived, and
// whether its sender is auto-promoted to VIP.
package policy

import (
	"fmt"
	"strings"

	"email-triage/internal/addr"
	"email-triage/internal/config"
	"email-triage/internal/mailstore"
	"email-triage/internal/priority"
)

// Engine holds the configuration-derived policy inputs of one run.
type Engine struct {
	autoDraft           bool
	draftActionableOnly bool
	minPriorityForDraft string
	archivePriorities   map[string]struct{}
	identities          map[string]struct{}
	vipThreshold        int
}

// New builds the policy engine from configuration.
func New(cfg *config.Config) *Engine {
	archive := make(map[string]struct{}, len(cfg.Automation.AutoArchivePriorities))
	for _, p := range priority.Sanitize(cfg.Automation.AutoArchivePriorities) {
		archive[p] = struct{}{}
	}
	return &Engine{
		autoDraft:           cfg.Automation.AutoDraft,
		draftActionableOnly: cfg.Automation.DraftActionableOnly,
		minPriorityForDraft: cfg.Automation.MinPriorityForDraft,
		archivePriorities:   archive,
		identities:          addr.IdentitySet(cfg.Mail.SenderEmails...),
		vipThreshold:        cfg.Triage.VIPFrequencyThreshold,
	}
}

// DraftRequest carries the per-message state the draft decision needs.
type DraftRequest struct {
	Apply           bool
	Reprocess       bool
	Email           *mailstore.Email
	Priority        string
	Actionable      bool
	ExistingDraftID string
	BlockedSenders  map[string]struct{}
	AccountEmail    string
}

// ShouldCreateDraft reports whether a reply draft is created. Every
// condition must hold; the self-addressed check ignores CC and fails
// closed when no identity is known.
func (e *Engine) ShouldCreateDraft(req DraftRequest) bool {
	if !req.Apply || !e.autoDraft {
		return false
	}

	if sender := req.Email.SenderEmail(); sender != "" {
		if _, blocked := req.BlockedSenders[sender]; blocked {
			return false
		}
	}

	if req.ExistingDraftID != "" && !req.Reprocess {
		return false
	}

	identities := e.identities
	if len(identities) == 0 {
		account := addr.Normalize(req.AccountEmail)
		if account == "" {
			return false
		}
		identities = map[string]struct{}{account: {}}
	}
	if !addr.TargetsIdentity(req.Email.ToEmails(), req.Email.CCEmails(), identities, false) {
		return false
	}

	if !priority.AtLeast(req.Priority, e.minPriorityForDraft) {
		return false
	}
	if e.draftActionableOnly && !req.Actionable {
		return false
	}
	return true
}

// ShouldArchive reports whether the message is moved to the archive
// mailbox. Archive eligibility takes precedence over draft creation.
func (e *Engine) ShouldArchive(apply bool, p string) bool {
	if !apply {
		return false
	}
	_, ok := e.archivePriorities[p]
	return ok
}

// PromotionStore is the transaction surface auto-promotion needs.
type PromotionStore interface {
	CountHighPrioritySender(senderEmail string) (int, error)
	VIPSenders() (map[string]struct{}, error)
	PromoteVIP(email, note string) error
}

// MaybeAutoPromoteVIP promotes a sender to VIP once their high-priority
// message count reaches the configured threshold. It runs before the
// current message's state row is written, so the count includes the
// current message as +1. The promotion never changes the current cycle's
// decision for this message.
func (e *Engine) MaybeAutoPromoteVIP(st PromotionStore, senderEmail, previousPriority, currentPriority string) (bool, error) {
	if e.vipThreshold <= 0 {
		return false, nil
	}

	normalized := addr.Normalize(senderEmail)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return false, nil
	}
	if currentPriority != priority.High {
		return false, nil
	}
	if strings.ToLower(previousPriority) == priority.High {
		return false, nil
	}

	count, err := st.CountHighPrioritySender(normalized)
	if err != nil {
		return false, err
	}
	if count+1 < e.vipThreshold {
		return false, nil
	}

	vips, err := st.VIPSenders()
	if err != nil {
		return false, err
	}
	if _, already := vips[normalized]; already {
		return false, nil
	}

	note := fmt.Sprintf("auto-promoted after %d high-priority emails", count+1)
	if err := st.PromoteVIP(normalized, note); err != nil {
		return false, err
	}
	return true, nil
}
