package triage

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"email-triage/internal/mailstore"
)

func TestDaemonSingleCycle(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	engine := NewEngine(cfg, st, nil, slog.Default())

	var buf bytes.Buffer
	factoryCalls := 0
	daemon := NewDaemon(engine, func() mailstore.MailStore {
		factoryCalls++
		return inboxMail(lowPriorityEmail("m1"))
	}, NewPrinter(&buf, false), slog.Default())

	err := daemon.Run(context.Background(), LoopOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, factoryCalls)
	assert.Contains(t, buf.String(), "[DRY-RUN]")
}

func TestDaemonSingleCycleErrorPropagates(t *testing.T) {
	cfg := testConfig()
	cfg.Mail.Mailbox = "Nope"
	st := testStore(t)
	engine := NewEngine(cfg, st, nil, slog.Default())

	var buf bytes.Buffer
	daemon := NewDaemon(engine, func() mailstore.MailStore {
		mail := inboxMail()
		mail.mailboxes = nil
		return mail
	}, NewPrinter(&buf, false), slog.Default())

	err := daemon.Run(context.Background(), LoopOptions{})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "ERROR:")
}

func TestDaemonLoopBoundedAndFreshMailStore(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	engine := NewEngine(cfg, st, nil, slog.Default())

	var buf bytes.Buffer
	factoryCalls := 0
	daemon := NewDaemon(engine, func() mailstore.MailStore {
		factoryCalls++
		return inboxMail()
	}, NewPrinter(&buf, false), slog.Default())

	err := daemon.Run(context.Background(), LoopOptions{LoopSeconds: 1, Cycles: 2})
	require.NoError(t, err)
	// A fresh handle per cycle.
	assert.Equal(t, 2, factoryCalls)
	assert.Equal(t, 2, strings.Count(buf.String(), "[DRY-RUN]"))
}

func TestDaemonLoopContinuesAfterError(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	engine := NewEngine(cfg, st, nil, slog.Default())

	var buf bytes.Buffer
	calls := 0
	daemon := NewDaemon(engine, func() mailstore.MailStore {
		calls++
		if calls == 1 {
			// No mailboxes makes the first cycle fail.
			return &fakeMail{}
		}
		return inboxMail()
	}, NewPrinter(&buf, false), slog.Default())

	err := daemon.Run(context.Background(), LoopOptions{LoopSeconds: 1, Cycles: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, buf.String(), "ERROR:")
	assert.Contains(t, buf.String(), "[DRY-RUN]")
}

func TestDaemonHonorsContextCancellation(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	engine := NewEngine(cfg, st, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	daemon := NewDaemon(engine, func() mailstore.MailStore {
		cancel()
		return inboxMail()
	}, NewPrinter(&buf, false), slog.Default())

	err := daemon.Run(ctx, LoopOptions{LoopSeconds: 60, Cycles: 5})
	require.ErrorIs(t, err, context.Canceled)
}
