package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"email-triage/internal/assist"
	"email-triage/internal/config"
	"email-triage/internal/mailstore"
	"email-triage/internal/status"
	"email-triage/internal/store"
	"email-triage/internal/triage"
)

const (
	Version   = "1.0.0"
	BuildDate = "development"
)

var (
	configFile  string
	stateDB     string
	apply       bool
	limit       int
	reprocess   bool
	jsonOutput  bool
	noCodex     bool
	loopSeconds int
	cycles      int

	vipList   bool
	vipAdd    []string
	vipRemove []string

	draftBlockList   bool
	draftBlockAdd    []string
	draftBlockRemove []string
)

// rootCmd runs the triage daemon when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Inbox triage daemon for Fastmail JMAP accounts",
	Long: `Inbox triage daemon

DESCRIPTION:
    Periodically scans an inbox for unread mail, classifies each message
    by priority and actionability, and either files a reply draft or
    archives the message. Classification starts from deterministic rules
    and is optionally refined by the codex model. All decisions are
    recorded in a local SQLite state database.

    Without --apply the daemon runs in dry-run mode: decisions are
    computed and persisted but no drafts are created and nothing is
    moved.

CONFIGURATION:
    Settings are read from a YAML/TOML config file, resolved from
    --config, the EMAIL_TRIAGE_CONFIG environment variable, or the
    default search locations. FASTMAIL_API_TOKEN and OPENAI_API_KEY
    override their config keys.

EXAMPLES:
    # Dry-run one cycle against the configured inbox
    triage --config triage.yaml

    # Apply decisions, looping every 15 minutes
    triage --config triage.yaml --apply --loop-seconds 900

    # Three rule-only cycles with a JSON summary per cycle
    triage --config triage.yaml --no-codex --cycles 3 --json

    # Manage the VIP list without touching mail
    triage --vip-add boss@example.com --vip-list`,
	Version:       Version,
	RunE:          runTriage,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

func init() {
	persistent := rootCmd.PersistentFlags()
	persistent.StringVar(&configFile, "config", "", "config file (default resolved from EMAIL_TRIAGE_CONFIG or search path)")
	persistent.StringVar(&stateDB, "state-db", "", "state database path (overrides automation.state_db)")
	persistent.BoolVar(&jsonOutput, "json", false, "emit JSON instead of plain text")

	flags := rootCmd.Flags()
	flags.BoolVar(&apply, "apply", false, "create drafts and move mail; default is dry-run")
	flags.IntVar(&limit, "limit", 0, "max emails per cycle (overrides automation.max_emails_per_cycle)")
	flags.BoolVar(&reprocess, "reprocess", false, "re-triage emails that already have a draft")
	flags.BoolVar(&noCodex, "no-codex", false, "skip the codex refinement and use rules only")
	flags.IntVar(&loopSeconds, "loop-seconds", 0, "sleep between cycles; 0 runs a single cycle")
	flags.IntVar(&cycles, "cycles", 0, "stop after N cycles in loop mode; 0 means unbounded")

	flags.BoolVar(&vipList, "vip-list", false, "print the VIP sender list and exit")
	flags.StringSliceVar(&vipAdd, "vip-add", nil, "add VIP sender(s) and exit (repeatable, comma-separated)")
	flags.StringSliceVar(&vipRemove, "vip-remove", nil, "remove VIP sender(s) and exit (repeatable, comma-separated)")

	flags.BoolVar(&draftBlockList, "draft-block-list", false, "print the draft-block list and exit")
	flags.StringSliceVar(&draftBlockAdd, "draft-block-add", nil, "block sender(s) from auto-drafting and exit (repeatable, comma-separated)")
	flags.StringSliceVar(&draftBlockRemove, "draft-block-remove", nil, "unblock sender(s) and exit (repeatable, comma-separated)")
}

func runTriage(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Admin flags manage the state database directly and never need the
	// mail or model configuration.
	if adminRequested() {
		return runAdmin(cmd.OutOrStdout())
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return err
	}
	if stateDB != "" {
		cfg.Automation.StateDB = config.ExpandHome(stateDB)
	}
	if noCodex {
		cfg.Automation.UseCodex = false
	}

	logger.Info("starting triage daemon",
		"version", Version,
		"config", cfg.Path,
		"apply", apply,
		"use_codex", cfg.Automation.UseCodex)

	st, err := store.Open(cfg.Automation.StateDB)
	if err != nil {
		logger.Error("failed to open state database", "error", err, "path", cfg.Automation.StateDB)
		return err
	}
	defer st.Close()

	if seeded, err := st.SeedVIPSenders(cfg.Triage.VIPSenders); err != nil {
		logger.Error("failed to seed VIP senders", "error", err)
		return err
	} else if seeded > 0 {
		logger.Info("seeded VIP senders from config", "count", seeded)
	}

	assistant, err := buildAssistant(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize codex", "error", err)
		return err
	}

	if statusAddr := cfg.Automation.StatusAddr; statusAddr != "" {
		srv := status.NewServer(statusAddr, st, logger)
		go srv.Start()
		defer srv.Shutdown(context.Background())
	}

	engine := triage.NewEngine(cfg, st, assistant, logger)
	printer := triage.NewPrinter(os.Stdout, jsonOutput)
	daemon := triage.NewDaemon(engine, func() mailstore.MailStore {
		return mailstore.NewClient(cfg)
	}, printer, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := triage.LoopOptions{
		Options:     triage.Options{Apply: apply, Reprocess: reprocess, Limit: limit},
		LoopSeconds: loopSeconds,
		Cycles:      cycles,
	}
	// --cycles without --loop-seconds loops at the configured interval.
	if cycles > 0 && !cmd.Flags().Changed("loop-seconds") {
		opts.LoopSeconds = cfg.Automation.LoopIntervalSeconds
	}

	return daemon.Run(ctx, opts)
}

// buildAssistant returns nil for rule-only triage. A codex that cannot be
// constructed degrades to rules when fallback is enabled and is fatal
// otherwise.
func buildAssistant(cfg *config.Config, logger *slog.Logger) (assist.Assistant, error) {
	if !cfg.Automation.UseCodex {
		return nil, nil
	}
	assistant, err := assist.New(cfg)
	if err != nil {
		if cfg.Automation.CodexFallbackToRules {
			logger.Warn("codex unavailable, falling back to rules", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return assistant, nil
}
