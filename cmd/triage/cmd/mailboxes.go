package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"email-triage/internal/config"
	"email-triage/internal/mailstore"
)

var mailboxesCmd = &cobra.Command{
	Use:   "mailboxes",
	Short: "List account mailboxes with role and unread counts",
	Args:  cobra.NoArgs,
	RunE:  runMailboxes,
}

func init() {
	rootCmd.AddCommand(mailboxesCmd)
}

func runMailboxes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	client := mailstore.NewClient(cfg)

	mailboxes, err := client.ListMailboxes(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "ERROR:%v\n", err)
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{"mailboxes": mailboxes})
	}

	account := client.AccountEmail(cmd.Context())
	if account == "" {
		account = "Fastmail"
	}
	fmt.Fprintf(out, "ACCOUNT:%s\n", account)
	for _, mb := range mailboxes {
		fmt.Fprintf(out, "  MAILBOX:%s|%s|%d\n", escapeField(mb.Name), mb.Role, mb.UnreadEmails)
	}
	return nil
}
