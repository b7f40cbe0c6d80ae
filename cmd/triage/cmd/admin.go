package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"email-triage/internal/addr"
	"email-triage/internal/config"
	"email-triage/internal/store"
)

// adminRequested reports whether any list-management flag was given.
// These short-circuit the normal triage run.
func adminRequested() bool {
	return vipList || len(vipAdd) > 0 || len(vipRemove) > 0 ||
		draftBlockList || len(draftBlockAdd) > 0 || len(draftBlockRemove) > 0
}

// adminReport collects the outcome of one list-management invocation.
type adminReport struct {
	Added          []string `json:"added,omitempty"`
	AlreadyPresent []string `json:"already_present,omitempty"`
	Removed        []string `json:"removed,omitempty"`
	NotPresent     []string `json:"not_present,omitempty"`
	Invalid        []string `json:"invalid,omitempty"`
}

// senderTable abstracts the two sender lists the admin flags manage.
type senderTable struct {
	label   string
	jsonKey string
	add     func(email string) (bool, error)
	remove  func(email string) (bool, error)
	list    func() ([]string, error)
}

func runAdmin(out io.Writer) error {
	path := stateDB
	if path == "" {
		path = config.DefaultStateDB
	}
	st, err := store.Open(config.ExpandHome(path))
	if err != nil {
		return err
	}
	defer st.Close()

	if vipList || len(vipAdd) > 0 || len(vipRemove) > 0 {
		table := senderTable{
			label:   "VIP senders",
			jsonKey: "vip_senders",
			add:     func(e string) (bool, error) { return st.AddVIPSender(e, store.SourceManual) },
			remove:  st.RemoveVIPSender,
			list:    st.ListVIPSenders,
		}
		if err := manageSenders(out, table, vipAdd, vipRemove); err != nil {
			return err
		}
	}

	if draftBlockList || len(draftBlockAdd) > 0 || len(draftBlockRemove) > 0 {
		table := senderTable{
			label:   "Draft-blocked senders",
			jsonKey: "draft_blocked_senders",
			add:     func(e string) (bool, error) { return st.AddDraftBlockedSender(e, store.SourceManual) },
			remove:  st.RemoveDraftBlockedSender,
			list:    st.ListDraftBlockedSenders,
		}
		if err := manageSenders(out, table, draftBlockAdd, draftBlockRemove); err != nil {
			return err
		}
	}
	return nil
}

func manageSenders(out io.Writer, table senderTable, add, remove []string) error {
	var report adminReport

	// SplitList normalizes and dedupes, so each entry is handled once.
	for _, email := range addr.SplitList(add...) {
		if !strings.Contains(email, "@") {
			report.Invalid = append(report.Invalid, email)
			continue
		}
		inserted, err := table.add(email)
		if err != nil {
			return err
		}
		if inserted {
			report.Added = append(report.Added, email)
		} else {
			report.AlreadyPresent = append(report.AlreadyPresent, email)
		}
	}

	for _, email := range addr.SplitList(remove...) {
		if !strings.Contains(email, "@") {
			report.Invalid = append(report.Invalid, email)
			continue
		}
		deleted, err := table.remove(email)
		if err != nil {
			return err
		}
		if deleted {
			report.Removed = append(report.Removed, email)
		} else {
			report.NotPresent = append(report.NotPresent, email)
		}
	}

	current, err := table.list()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printAdminJSON(out, table.jsonKey, report, current)
	}
	printAdminPlain(out, table.label, report, current)
	return nil
}

func printAdminJSON(out io.Writer, key string, report adminReport, current []string) error {
	if current == nil {
		current = []string{}
	}
	payload := map[string]any{key: current}
	if len(report.Added) > 0 {
		payload["added"] = report.Added
	}
	if len(report.AlreadyPresent) > 0 {
		payload["already_present"] = report.AlreadyPresent
	}
	if len(report.Removed) > 0 {
		payload["removed"] = report.Removed
	}
	if len(report.NotPresent) > 0 {
		payload["not_present"] = report.NotPresent
	}
	if len(report.Invalid) > 0 {
		payload["invalid"] = report.Invalid
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func printAdminPlain(out io.Writer, label string, report adminReport, current []string) {
	printBucket(out, "Added", report.Added)
	printBucket(out, "Already present", report.AlreadyPresent)
	printBucket(out, "Removed", report.Removed)
	printBucket(out, "Not present", report.NotPresent)
	printBucket(out, "Invalid", report.Invalid)

	fmt.Fprintf(out, "%s:\n", label)
	if len(current) == 0 {
		fmt.Fprintln(out, "- none")
		return
	}
	for _, email := range current {
		fmt.Fprintf(out, "- %s\n", email)
	}
}

func printBucket(out io.Writer, title string, entries []string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", title)
	for _, email := range entries {
		fmt.Fprintf(out, "- %s\n", email)
	}
}
