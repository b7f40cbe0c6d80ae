package triage

import (
	"context"
	"log/slog"
	"time"

	"email-triage/internal/mailstore"
)

// Daemon drives repeated cycles. Each iteration gets a fresh MailStore
// handle so transient session failures heal on the next cycle.
type Daemon struct {
	engine       *Engine
	newMailStore func() mailstore.MailStore
	printer      *Printer
	logger       *slog.Logger
}

// NewDaemon builds the cycle loop.
func NewDaemon(engine *Engine, newMailStore func() mailstore.MailStore, printer *Printer, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		engine:       engine,
		newMailStore: newMailStore,
		printer:      printer,
		logger:       logger,
	}
}

// LoopOptions bound the daemon loop. LoopSeconds zero means run a single
// cycle and return; Cycles zero means unbounded.
type LoopOptions struct {
	Options
	LoopSeconds int
	Cycles      int
}

// Run executes the loop. In single-cycle mode a failed cycle returns its
// error; in loop mode cycle errors are printed and the loop continues.
func (d *Daemon) Run(ctx context.Context, opts LoopOptions) error {
	cycle := 0
	for {
		cycle++

		mail := d.newMailStore()
		summary, err := d.engine.RunCycle(ctx, mail, opts.Options)
		if err != nil {
			d.printer.PrintCycleError(err, cycle)
			d.logger.Error("cycle failed", "cycle", cycle, "error", err)
			if opts.LoopSeconds <= 0 {
				return err
			}
		} else {
			d.printer.PrintSummary(summary)
			d.logger.Info("cycle complete",
				"cycle", cycle,
				"seen", summary.EmailsSeen,
				"triaged", summary.TriagedCount,
				"archived", summary.ArchivedCount,
				"drafted", summary.DraftedCount,
				"skipped", summary.SkippedCount,
				"errors", summary.ErrorCount)
		}

		if opts.LoopSeconds <= 0 {
			return nil
		}
		if opts.Cycles > 0 && cycle >= opts.Cycles {
			return nil
		}

		sleep := time.Duration(opts.LoopSeconds) * time.Second
		if sleep < time.Second {
			sleep = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
