package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"email-triage/internal/config"
	"email-triage/internal/mailstore"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <message-id>",
	Short: "Print one message by JMAP id",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	client := mailstore.NewClient(cfg)

	email, err := client.GetEmail(cmd.Context(), args[0])
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "ERROR:%v\n", err)
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{
			"id":          email.ID,
			"subject":     email.Subject,
			"from":        email.SenderDisplay(),
			"to":          email.ToEmails(),
			"cc":          email.CCEmails(),
			"received_at": email.ReceivedAt,
			"body":        email.Body,
		})
	}

	fmt.Fprintln(out, "EMAIL_START")
	fmt.Fprintf(out, "ID:%s\n", email.ID)
	fmt.Fprintf(out, "SUBJECT:%s\n", escapeField(email.Subject))
	fmt.Fprintf(out, "FROM:%s\n", escapeField(formatAddresses(email.From)))
	fmt.Fprintf(out, "DATE:%s\n", escapeField(email.ReceivedAt))
	fmt.Fprintf(out, "CONTENT:%s\n", escapeField(email.Body))
	fmt.Fprintln(out, "EMAIL_END")
	return nil
}

// escapeField keeps the plain line-oriented output single-line: pipes are
// escaped and newlines become literal \n.
func escapeField(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\r", "\n")
	return strings.ReplaceAll(value, "\n", "\\n")
}

func formatAddresses(people []mailstore.EmailAddress) string {
	parts := make([]string, 0, len(people))
	for _, p := range people {
		if display := p.Display(); display != "" {
			parts = append(parts, display)
		}
	}
	return strings.Join(parts, "; ")
}
