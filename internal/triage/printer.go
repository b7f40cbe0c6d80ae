package triage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Printer renders cycle summaries to stdout. JSON mode emits the full
// summary object; plain mode emits a one-line counter summary, with the
// itemized sections added only on a terminal so piped output stays one
// line per cycle.
type Printer struct {
	out      io.Writer
	asJSON   bool
	itemized bool
}

// NewPrinter builds a printer for the given writer.
func NewPrinter(out io.Writer, asJSON bool) *Printer {
	itemized := true
	if f, ok := out.(*os.File); ok {
		itemized = isatty.IsTerminal(f.Fd())
	}
	return &Printer{out: out, asJSON: asJSON, itemized: itemized}
}

// PrintSummary renders one cycle summary.
func (p *Printer) PrintSummary(summary *Summary) {
	if p.asJSON {
		encoded, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			fmt.Fprintf(p.out, "{\"error\": %q}\n", err.Error())
			return
		}
		fmt.Fprintln(p.out, string(encoded))
		return
	}

	mode := "DRY-RUN"
	if summary.ApplyMode {
		mode = "APPLY"
	}
	fmt.Fprintf(p.out, "[%s] %s | seen=%d triaged=%d archived=%d drafted=%d skipped=%d errors=%d\n",
		mode, summary.RunAt, summary.EmailsSeen, summary.TriagedCount, summary.ArchivedCount,
		summary.DraftedCount, summary.SkippedCount, summary.ErrorCount)

	if !p.itemized {
		return
	}

	var archived []EmailEntry
	var drafted []EmailEntry
	var promoted []EmailEntry
	for _, entry := range summary.Emails {
		if entry.Status == "archived" {
			archived = append(archived, entry)
		}
		if entry.DraftID != "" {
			drafted = append(drafted, entry)
		}
		if entry.AutoPromotedVIP {
			promoted = append(promoted, entry)
		}
	}

	if len(archived) > 0 {
		fmt.Fprintln(p.out, "Archived:")
		for _, entry := range archived {
			fmt.Fprintf(p.out, "- %s\n", entry.EmailID)
		}
	}
	if len(drafted) > 0 {
		fmt.Fprintln(p.out, "Drafts created/linked:")
		for _, entry := range drafted {
			priority := entry.Priority
			if priority == "" {
				priority = "unknown"
			}
			source := entry.Source
			if source == "" {
				source = "unknown"
			}
			fmt.Fprintf(p.out, "- %s -> %s (%s, %s)\n", entry.EmailID, entry.DraftID, priority, source)
		}
	}
	if len(promoted) > 0 {
		fmt.Fprintln(p.out, "Auto-promoted VIP senders:")
		for _, entry := range promoted {
			fmt.Fprintf(p.out, "- %s\n", entry.SenderEmail)
		}
	}
}

// PrintCycleError renders a failed cycle. The cycle's writes have already
// been rolled back by the time this is called.
func (p *Printer) PrintCycleError(err error, cycle int) {
	if p.asJSON {
		encoded, _ := json.Marshal(map[string]any{
			"error":       err.Error(),
			"cycle":       cycle,
			"rolled_back": true,
		})
		fmt.Fprintln(p.out, string(encoded))
		return
	}
	fmt.Fprintf(p.out, "ERROR:%v\n", err)
}
