/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists bills, their occurrences and approval decisions in a single
  SQLite file. The Postgres backend (store/postgres) runs the same schema
  with dialect changes only.

INTERFACES IMPLEMENTED:
  billing.BillStore:       Bill records (rule embedded as JSON)
  billing.OccurrenceStore: Occurrence rows, sweep selection, guarded transitions
  billing.ApprovalStore:   One decision per (occurrence, approver)

KEY TABLES:
  bills:            Obligations, recurring rule in rule_json
  bill_occurrences: Expected payments, UNIQUE(bill_id, sequence)
  approvals:        Decisions, UNIQUE(occurrence_id, approver_id)

INDEXES:
  - idx_occurrences_state_due: Daily sweep selection (hot path)
  - idx_occurrences_org_due:   Reports and CSV export

CONSTRAINTS DO THE WORK:
  Upserts are INSERT ... ON CONFLICT on the natural keys above, never
  lookup-then-branch. A collision on a primary key surfaces as
  generic.ErrConflict.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction excludes every other writer. WithBillLock therefore only
  needs WithTx; Postgres uses an advisory lock instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  regen := billing.NewRegenerator(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
  - store/postgres: pgx implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		project_id TEXT,
		vendor_id TEXT,
		title TEXT NOT NULL DEFAULT '',
		amount_total TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		due_date TEXT,
		rule_json TEXT,
		installments_total INTEGER,
		auto_approve INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bills_org
		ON bills(org_id, status);

	CREATE TABLE IF NOT EXISTS bill_occurrences (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		bill_id TEXT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
		project_id TEXT,
		vendor_id TEXT,
		sequence INTEGER NOT NULL,
		amount_due TEXT NOT NULL,
		due_date TEXT NOT NULL,
		suggested_submission_date TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (bill_id, sequence)
	);

	-- Daily sweep: state = 'scheduled' AND due_date <= ?
	CREATE INDEX IF NOT EXISTS idx_occurrences_state_due
		ON bill_occurrences(state, due_date);

	CREATE INDEX IF NOT EXISTS idx_occurrences_org_due
		ON bill_occurrences(org_id, due_date);

	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		occurrence_id TEXT NOT NULL REFERENCES bill_occurrences(id) ON DELETE CASCADE,
		approver_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		comment TEXT,
		decided_at TEXT NOT NULL,
		UNIQUE (occurrence_id, approver_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Store and txStore bind it to the
// connection or to an open transaction.
type queries struct {
	q   querier
	now func() time.Time
}

func (s *Store) conn() queries { return queries{q: s.db, now: s.now} }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Storage("begin transaction", err)
	}
	defer sqlTx.Rollback()

	txStore := &txStore{queries: queries{q: sqlTx, now: s.now}}
	if err := fn(txStore); err != nil {
		return err
	}

	return generic.Storage("commit", sqlTx.Commit())
}

// WithBillLock runs fn in a transaction. The store lock already excludes
// every other writer.
func (s *Store) WithBillLock(ctx context.Context, _ billing.BillID, fn func(store billing.Store) error) error {
	return s.WithTx(ctx, fn)
}

// txStore is the billing.Store handed to WithTx callbacks.
type txStore struct {
	queries
}

func (ts *txStore) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	return fn(ts)
}

func (ts *txStore) WithBillLock(ctx context.Context, _ billing.BillID, fn func(store billing.Store) error) error {
	return fn(ts)
}

// =============================================================================
// BILL STORE
// =============================================================================

// SaveBill inserts or updates a bill.
func (s *Store) SaveBill(ctx context.Context, bill billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().SaveBill(ctx, bill)
}

// GetBill retrieves a bill by ID.
func (s *Store) GetBill(ctx context.Context, id billing.BillID) (billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetBill(ctx, id)
}

// ListBills returns bills matching the filter, oldest first.
func (s *Store) ListBills(ctx context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListBills(ctx, filter)
}

const billColumns = `id, org_id, project_id, vendor_id, title, amount_total, currency,
	due_date, rule_json, installments_total, auto_approve, status, created_at, updated_at`

func (q queries) SaveBill(ctx context.Context, bill billing.Bill) error {
	var ruleJSON sql.NullString
	if bill.Rule != nil {
		b, err := json.Marshal(bill.Rule)
		if err != nil {
			return fmt.Errorf("failed to encode rule: %w", err)
		}
		ruleJSON = sql.NullString{String: string(b), Valid: true}
	}
	var installments sql.NullInt64
	if bill.InstallmentsTotal != nil {
		installments = sql.NullInt64{Int64: int64(*bill.InstallmentsTotal), Valid: true}
	}
	status := bill.Status
	if status == "" {
		status = billing.BillActive
	}

	now := q.now().UTC()
	createdAt := bill.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO bills (` + billColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			org_id = excluded.org_id,
			project_id = excluded.project_id,
			vendor_id = excluded.vendor_id,
			title = excluded.title,
			amount_total = excluded.amount_total,
			currency = excluded.currency,
			due_date = excluded.due_date,
			rule_json = excluded.rule_json,
			installments_total = excluded.installments_total,
			auto_approve = excluded.auto_approve,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := q.q.ExecContext(ctx, query,
		bill.ID,
		bill.OrgID,
		nullString(bill.ProjectID),
		nullString(bill.VendorID),
		bill.Title,
		bill.AmountTotal.String(),
		bill.Currency,
		nullDate(bill.DueDate),
		ruleJSON,
		installments,
		bill.AutoApprove,
		status,
		formatTime(createdAt),
		formatTime(now),
	)
	return wrapWrite("save bill", err)
}

func (q queries) GetBill(ctx context.Context, id billing.BillID) (billing.Bill, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = ?`, id)
	bill, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Bill{}, &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	if err != nil {
		return billing.Bill{}, generic.Storage("get bill", err)
	}
	return bill, nil
}

func (q queries) ListBills(ctx context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	var where []string
	var args []any
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + billColumns + ` FROM bills` + whereClause(where) + ` ORDER BY created_at, id`
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Storage("list bills", err)
	}
	defer rows.Close()

	var bills []billing.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, generic.Storage("list bills", err)
		}
		bills = append(bills, bill)
	}
	return bills, generic.Storage("list bills", rows.Err())
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBill(row scanner) (billing.Bill, error) {
	var (
		b                            billing.Bill
		projectID, vendorID, dueDate sql.NullString
		ruleJSON                     sql.NullString
		installments                 sql.NullInt64
		autoApprove                  sql.NullBool
		amount, createdAt, updatedAt string
	)
	err := row.Scan(&b.ID, &b.OrgID, &projectID, &vendorID, &b.Title, &amount, &b.Currency,
		&dueDate, &ruleJSON, &installments, &autoApprove, &b.Status, &createdAt, &updatedAt)
	if err != nil {
		return billing.Bill{}, err
	}

	b.ProjectID = projectID.String
	b.VendorID = vendorID.String
	b.AutoApprove = autoApprove.Valid && autoApprove.Bool
	if b.AmountTotal, err = generic.ParseMoney(amount); err != nil {
		return billing.Bill{}, err
	}
	if b.DueDate, err = parseNullDate(dueDate); err != nil {
		return billing.Bill{}, err
	}
	if ruleJSON.Valid {
		var rule billing.RecurringRule
		if err := json.Unmarshal([]byte(ruleJSON.String), &rule); err != nil {
			return billing.Bill{}, fmt.Errorf("failed to decode rule: %w", err)
		}
		b.Rule = &rule
	}
	if installments.Valid {
		n := int(installments.Int64)
		b.InstallmentsTotal = &n
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// OCCURRENCE STORE
// =============================================================================

// ListOccurrences returns a bill's occurrences ordered by sequence.
func (s *Store) ListOccurrences(ctx context.Context, billID billing.BillID) ([]billing.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListOccurrences(ctx, billID)
}

// GetOccurrence retrieves an occurrence by ID.
func (s *Store) GetOccurrence(ctx context.Context, id billing.OccurrenceID) (billing.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetOccurrence(ctx, id)
}

// FindOccurrences returns occurrences matching the filter.
func (s *Store) FindOccurrences(ctx context.Context, filter billing.OccurrenceFilter) ([]billing.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().FindOccurrences(ctx, filter)
}

// UpsertOccurrences inserts or refreshes occurrences keyed by (bill, sequence).
func (s *Store) UpsertOccurrences(ctx context.Context, occurrences []billing.Occurrence) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.UpsertOccurrences(ctx, occurrences)
	})
}

// DeleteScheduledAfter prunes scheduled occurrences above maxSequence.
func (s *Store) DeleteScheduledAfter(ctx context.Context, billID billing.BillID, maxSequence int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteScheduledAfter(ctx, billID, maxSequence)
}

// DueOccurrences selects scheduled occurrences due on or before asOf.
func (s *Store) DueOccurrences(ctx context.Context, asOf generic.Date) ([]billing.DueOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().DueOccurrences(ctx, asOf)
}

// TransitionOccurrences moves ids from one state to another.
func (s *Store) TransitionOccurrences(ctx context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) ([]billing.OccurrenceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().TransitionOccurrences(ctx, ids, from, to)
}

const occurrenceColumns = `id, org_id, bill_id, project_id, vendor_id, sequence, amount_due,
	due_date, suggested_submission_date, state, created_at, updated_at`

func (q queries) ListOccurrences(ctx context.Context, billID billing.BillID) ([]billing.Occurrence, error) {
	return q.FindOccurrences(ctx, billing.OccurrenceFilter{BillID: billID})
}

func (q queries) GetOccurrence(ctx context.Context, id billing.OccurrenceID) (billing.Occurrence, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+occurrenceColumns+` FROM bill_occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Occurrence{}, &generic.NotFoundError{Kind: "occurrence", ID: string(id)}
	}
	if err != nil {
		return billing.Occurrence{}, generic.Storage("get occurrence", err)
	}
	return o, nil
}

func (q queries) FindOccurrences(ctx context.Context, filter billing.OccurrenceFilter) ([]billing.Occurrence, error) {
	var where []string
	var args []any
	if filter.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, filter.OrgID)
	}
	if filter.BillID != "" {
		where = append(where, "bill_id = ?")
		args = append(args, filter.BillID)
	}
	if !filter.DueFrom.IsZero() {
		where = append(where, "due_date >= ?")
		args = append(args, filter.DueFrom.String())
	}
	if !filter.DueTo.IsZero() {
		where = append(where, "due_date <= ?")
		args = append(args, filter.DueTo.String())
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(filter.States))+")")
		for _, st := range filter.States {
			args = append(args, st)
		}
	}

	order := " ORDER BY due_date, bill_id, sequence"
	if filter.BillID != "" {
		order = " ORDER BY sequence"
	}

	query := `SELECT ` + occurrenceColumns + ` FROM bill_occurrences` + whereClause(where) + order
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Storage("find occurrences", err)
	}
	defer rows.Close()

	var out []billing.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, generic.Storage("find occurrences", err)
		}
		out = append(out, o)
	}
	return out, generic.Storage("find occurrences", rows.Err())
}

func (q queries) UpsertOccurrences(ctx context.Context, occurrences []billing.Occurrence) error {
	query := `
		INSERT INTO bill_occurrences (` + occurrenceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bill_id, sequence) DO UPDATE SET
			org_id = excluded.org_id,
			project_id = excluded.project_id,
			vendor_id = excluded.vendor_id,
			amount_due = excluded.amount_due,
			due_date = excluded.due_date,
			suggested_submission_date = excluded.suggested_submission_date,
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	now := formatTime(q.now().UTC())
	for _, o := range occurrences {
		_, err := q.q.ExecContext(ctx, query,
			o.ID,
			o.OrgID,
			o.BillID,
			nullString(o.ProjectID),
			nullString(o.VendorID),
			o.Sequence,
			o.AmountDue.String(),
			o.DueDate.String(),
			o.SuggestedSubmissionDate.String(),
			o.State,
			now,
			now,
		)
		if err != nil {
			return wrapWrite("upsert occurrences", err)
		}
	}
	return nil
}

func (q queries) DeleteScheduledAfter(ctx context.Context, billID billing.BillID, maxSequence int) (int, error) {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM bill_occurrences WHERE bill_id = ? AND sequence > ? AND state = ?`,
		billID, maxSequence, billing.StateScheduled)
	if err != nil {
		return 0, generic.Storage("delete scheduled occurrences", err)
	}
	n, err := res.RowsAffected()
	return int(n), generic.Storage("delete scheduled occurrences", err)
}

func (q queries) DueOccurrences(ctx context.Context, asOf generic.Date) ([]billing.DueOccurrence, error) {
	query := `
		SELECT o.id, o.org_id, o.bill_id, o.project_id, o.vendor_id, o.sequence, o.amount_due,
		       o.due_date, o.suggested_submission_date, o.state, o.created_at, o.updated_at,
		       b.auto_approve
		FROM bill_occurrences o
		LEFT JOIN bills b ON b.id = o.bill_id
		WHERE o.state = ? AND o.due_date <= ?
		ORDER BY o.due_date, o.id
	`
	rows, err := q.q.QueryContext(ctx, query, billing.StateScheduled, asOf.String())
	if err != nil {
		return nil, generic.Storage("select due occurrences", err)
	}
	defer rows.Close()

	var out []billing.DueOccurrence
	for rows.Next() {
		var (
			d           billing.DueOccurrence
			autoApprove sql.NullBool
		)
		o, err := scanOccurrence(rows, &autoApprove)
		if err != nil {
			return nil, generic.Storage("select due occurrences", err)
		}
		d.Occurrence = o
		if autoApprove.Valid {
			flag := autoApprove.Bool
			d.AutoApprove = &flag
		}
		out = append(out, d)
	}
	return out, generic.Storage("select due occurrences", rows.Err())
}

func (q queries) TransitionOccurrences(ctx context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) ([]billing.OccurrenceID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{to, formatTime(q.now().UTC()), from}
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE bill_occurrences SET state = ?, updated_at = ?
		WHERE state = ? AND id IN (` + placeholders(len(ids)) + `)
		RETURNING id`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Storage("transition occurrences", err)
	}
	defer rows.Close()

	var moved []billing.OccurrenceID
	for rows.Next() {
		var id billing.OccurrenceID
		if err := rows.Scan(&id); err != nil {
			return nil, generic.Storage("transition occurrences", err)
		}
		moved = append(moved, id)
	}
	if err := rows.Err(); err != nil {
		return nil, generic.Storage("transition occurrences", err)
	}
	return moved, nil
}

// scanOccurrence reads the occurrence columns followed by any extra columns.
func scanOccurrence(row scanner, extra ...any) (billing.Occurrence, error) {
	var (
		o                      billing.Occurrence
		projectID, vendorID    sql.NullString
		amount, due, suggested string
		createdAt, updatedAt   string
	)
	dest := []any{&o.ID, &o.OrgID, &o.BillID, &projectID, &vendorID, &o.Sequence, &amount,
		&due, &suggested, &o.State, &createdAt, &updatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return billing.Occurrence{}, err
	}

	var err error
	o.ProjectID = projectID.String
	o.VendorID = vendorID.String
	if o.AmountDue, err = generic.ParseMoney(amount); err != nil {
		return billing.Occurrence{}, err
	}
	if o.DueDate, err = generic.ParseDate(due); err != nil {
		return billing.Occurrence{}, err
	}
	if o.SuggestedSubmissionDate, err = generic.ParseDate(suggested); err != nil {
		return billing.Occurrence{}, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

// UpsertApproval records a decision; the (occurrence, approver) key decides
// between insert and update.
func (s *Store) UpsertApproval(ctx context.Context, approval billing.Approval) (billing.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().UpsertApproval(ctx, approval)
}

// ListApprovals returns the decisions on an occurrence, oldest first.
func (s *Store) ListApprovals(ctx context.Context, occurrenceID billing.OccurrenceID) ([]billing.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListApprovals(ctx, occurrenceID)
}

func (q queries) UpsertApproval(ctx context.Context, approval billing.Approval) (billing.Approval, error) {
	query := `
		INSERT INTO approvals (id, occurrence_id, approver_id, decision, comment, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(occurrence_id, approver_id) DO UPDATE SET
			decision = excluded.decision,
			comment = excluded.comment,
			decided_at = excluded.decided_at
		RETURNING id
	`
	err := q.q.QueryRowContext(ctx, query,
		approval.ID,
		approval.OccurrenceID,
		approval.ApproverID,
		approval.Decision,
		nullString(approval.Comment),
		formatTime(approval.DecidedAt.UTC()),
	).Scan(&approval.ID)
	if err != nil {
		return billing.Approval{}, wrapWrite("upsert approval", err)
	}
	return approval, nil
}

func (q queries) ListApprovals(ctx context.Context, occurrenceID billing.OccurrenceID) ([]billing.Approval, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, occurrence_id, approver_id, decision, comment, decided_at
		FROM approvals WHERE occurrence_id = ? ORDER BY decided_at, id`, occurrenceID)
	if err != nil {
		return nil, generic.Storage("list approvals", err)
	}
	defer rows.Close()

	var out []billing.Approval
	for rows.Next() {
		var (
			a         billing.Approval
			comment   sql.NullString
			decidedAt string
		)
		if err := rows.Scan(&a.ID, &a.OccurrenceID, &a.ApproverID, &a.Decision, &comment, &decidedAt); err != nil {
			return nil, generic.Storage("list approvals", err)
		}
		a.Comment = comment.String
		a.DecidedAt = parseTime(decidedAt)
		out = append(out, a)
	}
	return out, generic.Storage("list approvals", rows.Err())
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d generic.Date) sql.NullString {
	return nullString(d.String())
}

func parseNullDate(s sql.NullString) (generic.Date, error) {
	if !s.Valid || s.String == "" {
		return generic.Date{}, nil
	}
	return generic.ParseDate(s.String)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// wrapWrite maps constraint violations to generic.ErrConflict.
func wrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return &generic.StorageError{Op: op, Err: fmt.Errorf("%w: %v", generic.ErrConflict, err)}
	}
	return generic.Storage(op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
