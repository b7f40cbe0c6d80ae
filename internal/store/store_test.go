package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesParentDirs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "a", "b", "triage.db"))
	require.NoError(t, err)
	defer s.Close()
}

func TestOpenIdempotentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestVIPSenders(t *testing.T) {
	s := openTestStore(t)

	added, err := s.AddVIPSender("Boss <Boss@Example.com>", SourceManual)
	require.NoError(t, err)
	assert.True(t, added)

	// Duplicate add is a no-op.
	added, err = s.AddVIPSender("boss@example.com", SourceManual)
	require.NoError(t, err)
	assert.False(t, added)

	// Invalid addresses are rejected without error.
	added, err = s.AddVIPSender("not-an-address", SourceManual)
	require.NoError(t, err)
	assert.False(t, added)

	vips, err := s.VIPSenders()
	require.NoError(t, err)
	assert.Contains(t, vips, "boss@example.com")
	assert.Len(t, vips, 1)

	removed, err := s.RemoveVIPSender("BOSS@example.com")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveVIPSender("boss@example.com")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDraftBlockedSenders(t *testing.T) {
	s := openTestStore(t)

	added, err := s.AddDraftBlockedSender("alerts@example.com", SourceManual)
	require.NoError(t, err)
	assert.True(t, added)

	blocked, err := s.DraftBlockedSenders()
	require.NoError(t, err)
	assert.Contains(t, blocked, "alerts@example.com")

	listed, err := s.ListDraftBlockedSenders()
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts@example.com"}, listed)

	removed, err := s.RemoveDraftBlockedSender("alerts@example.com")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestSeedVIPSenders(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AddVIPSender("existing@example.com", SourceManual)
	require.NoError(t, err)

	added, err := s.SeedVIPSenders([]string{"existing@example.com", "new@example.com", "bogus"})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	listed, err := s.ListVIPSenders()
	require.NoError(t, err)
	assert.Equal(t, []string{"existing@example.com", "new@example.com"}, listed)
}

func TestStateUpsertPreservesFirstSeen(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)

	state := &TriageState{
		EmailID:     "m1",
		Subject:     "Hello",
		SenderEmail: "jane@example.com",
		Priority:    "high",
		Actionable:  true,
		Status:      "triaged",
		FirstSeenAt: "2026-08-01T00:00:00Z",
		LastSeenAt:  "2026-08-01T00:00:00Z",
		UpdatedAt:   "2026-08-01T00:00:00Z",
	}
	require.NoError(t, tx.UpsertState(state))

	state.Subject = "Hello again"
	state.FirstSeenAt = "2026-08-02T00:00:00Z"
	state.LastSeenAt = "2026-08-02T00:00:00Z"
	state.UpdatedAt = "2026-08-02T00:00:00Z"
	require.NoError(t, tx.UpsertState(state))
	require.NoError(t, tx.Commit())

	tx, err = s.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.GetState("m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello again", got.Subject)
	assert.Equal(t, "2026-08-01T00:00:00Z", got.FirstSeenAt)
	assert.Equal(t, "2026-08-02T00:00:00Z", got.LastSeenAt)
	assert.True(t, got.Actionable)
}

func TestGetStateMissing(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := tx.GetState("missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRollbackDiscardsCycle(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.UpsertState(&TriageState{
		EmailID: "m1", Status: "triaged",
		FirstSeenAt: "x", LastSeenAt: "x", UpdatedAt: "x",
	}))
	require.NoError(t, tx.Rollback())

	tx, err = s.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	got, err := tx.GetState("m1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountHighPrioritySender(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	for i, p := range []string{"high", "high", "low"} {
		require.NoError(t, tx.UpsertState(&TriageState{
			EmailID:     string(rune('a' + i)),
			SenderEmail: "busy@example.com",
			Priority:    p,
			Status:      "triaged",
			FirstSeenAt: "x", LastSeenAt: "x", UpdatedAt: "x",
		}))
	}

	count, err := tx.CountHighPrioritySender("busy@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = tx.CountHighPrioritySender("other@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	require.NoError(t, tx.Commit())
}

func TestPromoteVIPVisibleInTx(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.PromoteVIP("busy@example.com", "auto-promoted after 3 high-priority emails"))

	vips, err := tx.VIPSenders()
	require.NoError(t, err)
	assert.Contains(t, vips, "busy@example.com")
	require.NoError(t, tx.Commit())

	listed, err := s.ListVIPSenders()
	require.NoError(t, err)
	assert.Equal(t, []string{"busy@example.com"}, listed)
}

func TestRecordRunAndRecentRuns(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		tx, err := s.Begin()
		require.NoError(t, err)
		require.NoError(t, tx.RecordRun(RunRecord{
			RunAt:        UTCNow(),
			Mode:         "dry-run",
			EmailsSeen:   i,
			TriagedCount: i,
			DetailsJSON:  "{}",
		}))
		require.NoError(t, tx.Commit())
	}

	runs, err := s.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Newest first.
	assert.Equal(t, 2, runs[0].EmailsSeen)
	assert.Equal(t, 1, runs[1].EmailsSeen)
	assert.Equal(t, "dry-run", runs[0].Mode)
}
