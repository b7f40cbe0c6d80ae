// Package store persists triage state in an embedded SQLite database:
// per-message triage rows, cycle run history, and the VIP and draft-block
// sender lists.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"email-triage/internal/addr"
)

// VIP and draft-block rows carry the source that added them.
const (
	SourceConfig = "config"
	SourceManual = "manual"
	SourceAuto   = "auto_frequency"
)

// StorageError wraps any database failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// TriageState is one row of triage_state, keyed by the message id.
type TriageState struct {
	EmailID     string
	Subject     string
	Sender      string
	SenderEmail string
	ReceivedAt  string
	Priority    string
	Actionable  bool
	Reason      string
	Summary     string
	ReplyText   string
	Drafted     bool
	DraftID     string
	Status      string
	Error       string
	RawEmail    string
	FirstSeenAt string
	LastSeenAt  string
	UpdatedAt   string
}

// RunRecord is one row of triage_runs.
type RunRecord struct {
	ID           int64  `json:"id"`
	RunAt        string `json:"run_at"`
	Mode         string `json:"mode"`
	EmailsSeen   int    `json:"emails_seen"`
	TriagedCount int    `json:"triaged_count"`
	DraftedCount int    `json:"drafted_count"`
	SkippedCount int    `json:"skipped_count"`
	ErrorCount   int    `json:"error_count"`
	DetailsJSON  string `json:"details_json,omitempty"`
}

// Store owns the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file (and parent directories) if missing and
// applies the schema. The schema is idempotent across versions.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, storeErr("create state directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeErr("open database", err)
	}

	// WAL keeps the status endpoint readable while a cycle transaction
	// is open.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storeErr("enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		db.Close()
		return nil, storeErr("set busy timeout", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS triage_state (
		email_id TEXT PRIMARY KEY,
		subject TEXT,
		sender TEXT,
		sender_email TEXT,
		received_at TEXT,
		priority TEXT,
		actionable INTEGER NOT NULL,
		reason TEXT,
		summary TEXT,
		reply_text TEXT,
		drafted INTEGER NOT NULL DEFAULT 0,
		draft_id TEXT,
		status TEXT NOT NULL,
		error TEXT,
		raw_email TEXT,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS triage_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_at TEXT NOT NULL,
		mode TEXT NOT NULL,
		emails_seen INTEGER NOT NULL,
		triaged_count INTEGER NOT NULL,
		drafted_count INTEGER NOT NULL,
		skipped_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		details_json TEXT
	);

	CREATE TABLE IF NOT EXISTS vip_senders (
		email TEXT PRIMARY KEY,
		added_at TEXT NOT NULL,
		source TEXT NOT NULL,
		note TEXT
	);

	CREATE TABLE IF NOT EXISTS draft_blocked_senders (
		email TEXT PRIMARY KEY,
		added_at TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_triage_state_sender_email ON triage_state(sender_email);
	CREATE INDEX IF NOT EXISTS idx_triage_runs_run_at ON triage_runs(run_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return storeErr("create schema", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// UTCNow returns the timestamp format used for every column in the store.
func UTCNow() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Exec(query string, args ...any) (sql.Result, error)
}

func senderSet(q querier, table string) (map[string]struct{}, error) {
	rows, err := q.Query("SELECT email FROM " + table)
	if err != nil {
		return nil, storeErr("read "+table, err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, storeErr("read "+table, err)
		}
		if cleaned := strings.ToLower(strings.TrimSpace(email)); cleaned != "" {
			set[cleaned] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read "+table, err)
	}
	return set, nil
}

func senderList(q querier, table string) ([]string, error) {
	rows, err := q.Query("SELECT email FROM " + table + " ORDER BY email")
	if err != nil {
		return nil, storeErr("list "+table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, storeErr("list "+table, err)
		}
		if email != "" {
			out = append(out, email)
		}
	}
	return out, rows.Err()
}

func addSender(q querier, table, email, source string, withNote bool) (bool, error) {
	normalized := addr.Normalize(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return false, nil
	}

	var exists int
	err := q.QueryRow("SELECT 1 FROM "+table+" WHERE email = ?", normalized).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, storeErr("check "+table, err)
	}

	if withNote {
		_, err = q.Exec("INSERT INTO "+table+" (email, added_at, source, note) VALUES (?, ?, ?, NULL)",
			normalized, UTCNow(), source)
	} else {
		_, err = q.Exec("INSERT INTO "+table+" (email, added_at, source) VALUES (?, ?, ?)",
			normalized, UTCNow(), source)
	}
	if err != nil {
		return false, storeErr("insert "+table, err)
	}
	return true, nil
}

func removeSender(q querier, table, email string) (bool, error) {
	normalized := addr.Normalize(email)
	if normalized == "" {
		return false, nil
	}

	result, err := q.Exec("DELETE FROM "+table+" WHERE email = ?", normalized)
	if err != nil {
		return false, storeErr("delete from "+table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("delete from "+table, err)
	}
	return affected > 0, nil
}

// VIPSenders returns the normalized VIP set.
func (s *Store) VIPSenders() (map[string]struct{}, error) {
	return senderSet(s.db, "vip_senders")
}

// ListVIPSenders returns VIP addresses ordered by address.
func (s *Store) ListVIPSenders() ([]string, error) {
	return senderList(s.db, "vip_senders")
}

// AddVIPSender adds one VIP address. It returns false without error when
// the address is invalid or already present.
func (s *Store) AddVIPSender(email, source string) (bool, error) {
	return addSender(s.db, "vip_senders", email, source, true)
}

// RemoveVIPSender removes one VIP address, reporting whether a row was
// deleted.
func (s *Store) RemoveVIPSender(email string) (bool, error) {
	return removeSender(s.db, "vip_senders", email)
}

// DraftBlockedSenders returns the normalized draft-block set.
func (s *Store) DraftBlockedSenders() (map[string]struct{}, error) {
	return senderSet(s.db, "draft_blocked_senders")
}

// ListDraftBlockedSenders returns draft-blocked addresses ordered by
// address.
func (s *Store) ListDraftBlockedSenders() ([]string, error) {
	return senderList(s.db, "draft_blocked_senders")
}

// AddDraftBlockedSender adds one address to the draft-block list.
func (s *Store) AddDraftBlockedSender(email, source string) (bool, error) {
	return addSender(s.db, "draft_blocked_senders", email, source, false)
}

// RemoveDraftBlockedSender removes one address from the draft-block list.
func (s *Store) RemoveDraftBlockedSender(email string) (bool, error) {
	return removeSender(s.db, "draft_blocked_senders", email)
}

// SeedVIPSenders inserts configured VIP addresses that are not yet present
// and returns how many were added.
func (s *Store) SeedVIPSenders(addresses []string) (int, error) {
	added := 0
	for _, address := range addresses {
		ok, err := s.AddVIPSender(address, SourceConfig)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// RecentRuns returns up to limit run records, newest first.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.Query(`
		SELECT id, run_at, mode, emails_seen, triaged_count, drafted_count,
		       skipped_count, error_count
		FROM triage_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("read runs", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(&run.ID, &run.RunAt, &run.Mode, &run.EmailsSeen,
			&run.TriagedCount, &run.DraftedCount, &run.SkippedCount, &run.ErrorCount); err != nil {
			return nil, storeErr("read runs", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Begin opens the cycle transaction. All triage writes of one cycle go
// through it and commit or roll back together.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is one cycle's transaction.
type Tx struct {
	tx *sql.Tx
}

// Commit commits the cycle.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// Rollback discards the cycle. Calling it after Commit is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return storeErr("rollback", err)
	}
	return nil
}

// GetState returns the stored row for a message, or nil when the message
// has never been seen.
func (t *Tx) GetState(emailID string) (*TriageState, error) {
	row := t.tx.QueryRow(`
		SELECT email_id, subject, sender, sender_email, received_at,
		       priority, actionable, reason, summary, reply_text,
		       drafted, draft_id, status, error, raw_email,
		       first_seen_at, last_seen_at, updated_at
		FROM triage_state WHERE email_id = ?`, emailID)

	var state TriageState
	var actionable, drafted int
	var subject, sender, senderEmail, receivedAt, priority sql.NullString
	var reason, summary, replyText, draftID, errText, rawEmail sql.NullString
	err := row.Scan(&state.EmailID, &subject, &sender, &senderEmail, &receivedAt,
		&priority, &actionable, &reason, &summary, &replyText,
		&drafted, &draftID, &state.Status, &errText, &rawEmail,
		&state.FirstSeenAt, &state.LastSeenAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read state", err)
	}

	state.Subject = subject.String
	state.Sender = sender.String
	state.SenderEmail = senderEmail.String
	state.ReceivedAt = receivedAt.String
	state.Priority = priority.String
	state.Actionable = actionable != 0
	state.Reason = reason.String
	state.Summary = summary.String
	state.ReplyText = replyText.String
	state.Drafted = drafted != 0
	state.DraftID = draftID.String
	state.Error = errText.String
	state.RawEmail = rawEmail.String
	return &state, nil
}

// UpsertState writes one triage row. On conflict every column except
// first_seen_at is replaced, so the first-seen timestamp survives
// reprocessing.
func (t *Tx) UpsertState(state *TriageState) error {
	_, err := t.tx.Exec(`
		INSERT INTO triage_state (
			email_id, subject, sender, sender_email, received_at,
			priority, actionable, reason, summary, reply_text,
			drafted, draft_id, status, error, raw_email,
			first_seen_at, last_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email_id) DO UPDATE SET
			subject=excluded.subject,
			sender=excluded.sender,
			sender_email=excluded.sender_email,
			received_at=excluded.received_at,
			priority=excluded.priority,
			actionable=excluded.actionable,
			reason=excluded.reason,
			summary=excluded.summary,
			reply_text=excluded.reply_text,
			drafted=excluded.drafted,
			draft_id=excluded.draft_id,
			status=excluded.status,
			error=excluded.error,
			raw_email=excluded.raw_email,
			last_seen_at=excluded.last_seen_at,
			updated_at=excluded.updated_at`,
		state.EmailID, state.Subject, state.Sender, state.SenderEmail, state.ReceivedAt,
		state.Priority, boolInt(state.Actionable), state.Reason, state.Summary, state.ReplyText,
		boolInt(state.Drafted), state.DraftID, state.Status, state.Error, state.RawEmail,
		state.FirstSeenAt, state.LastSeenAt, state.UpdatedAt)
	if err != nil {
		return storeErr("upsert state", err)
	}
	return nil
}

// CountHighPrioritySender counts stored high-priority rows for one sender.
func (t *Tx) CountHighPrioritySender(senderEmail string) (int, error) {
	var count int
	err := t.tx.QueryRow(
		"SELECT COUNT(*) FROM triage_state WHERE sender_email = ? AND priority = 'high'",
		senderEmail).Scan(&count)
	if err != nil {
		return 0, storeErr("count high-priority rows", err)
	}
	return count, nil
}

// TouchSeen refreshes the seen timestamps of a skipped message without
// rewriting its triage result.
func (t *Tx) TouchSeen(emailID, now string) error {
	_, err := t.tx.Exec(
		"UPDATE triage_state SET last_seen_at = ?, updated_at = ? WHERE email_id = ?",
		now, now, emailID)
	if err != nil {
		return storeErr("touch state", err)
	}
	return nil
}

// VIPSenders returns the VIP set as seen inside the transaction.
func (t *Tx) VIPSenders() (map[string]struct{}, error) {
	return senderSet(t.tx, "vip_senders")
}

// DraftBlockedSenders returns the draft-block set as seen inside the
// transaction.
func (t *Tx) DraftBlockedSenders() (map[string]struct{}, error) {
	return senderSet(t.tx, "draft_blocked_senders")
}

// PromoteVIP inserts or refreshes an auto-promoted VIP row.
func (t *Tx) PromoteVIP(email, note string) error {
	normalized := addr.Normalize(email)
	if normalized == "" {
		return storeErr("promote vip", fmt.Errorf("empty sender address"))
	}
	_, err := t.tx.Exec(`
		INSERT INTO vip_senders (email, added_at, source, note)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			added_at = excluded.added_at,
			source = excluded.source,
			note = excluded.note`,
		normalized, UTCNow(), SourceAuto, note)
	if err != nil {
		return storeErr("promote vip", err)
	}
	return nil
}

// RecordRun appends the cycle summary to the run history.
func (t *Tx) RecordRun(run RunRecord) error {
	_, err := t.tx.Exec(`
		INSERT INTO triage_runs (
			run_at, mode, emails_seen, triaged_count, drafted_count,
			skipped_count, error_count, details_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunAt, run.Mode, run.EmailsSeen, run.TriagedCount, run.DraftedCount,
		run.SkippedCount, run.ErrorCount, run.DetailsJSON)
	if err != nil {
		return storeErr("record run", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
