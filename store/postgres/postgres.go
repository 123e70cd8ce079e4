/*
Package postgres provides a PostgreSQL-backed billing.Store on pgx.

PURPOSE:
  Production storage. Same tables and natural keys as store/sqlite, with
  native DATE / NUMERIC / JSONB columns.

CONCURRENCY:
  WithBillLock takes pg_advisory_xact_lock(hashtext(bill_id)) inside the
  transaction, so concurrent regenerations of one bill queue up while other
  bills proceed. The lock is released on commit or rollback.

ERRORS:
  - pgx.ErrNoRows            -> *generic.NotFoundError
  - unique_violation (23505) -> generic.ErrConflict
  - anything else            -> *generic.StorageError

SEE ALSO:
  - store/sqlite: Development backend
  - billing/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

const schema = `
CREATE TABLE IF NOT EXISTS bills (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	project_id TEXT,
	vendor_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	amount_total NUMERIC(14, 2) NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	due_date DATE,
	rule_json JSONB,
	installments_total INTEGER,
	auto_approve BOOLEAN,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bills_org ON bills(org_id, status);

CREATE TABLE IF NOT EXISTS bill_occurrences (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	bill_id TEXT NOT NULL REFERENCES bills(id) ON DELETE CASCADE,
	project_id TEXT,
	vendor_id TEXT,
	sequence INTEGER NOT NULL,
	amount_due NUMERIC(14, 2) NOT NULL,
	due_date DATE NOT NULL,
	suggested_submission_date DATE NOT NULL,
	state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (bill_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_occurrences_state_due ON bill_occurrences(state, due_date);
CREATE INDEX IF NOT EXISTS idx_occurrences_org_due ON bill_occurrences(org_id, due_date);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	occurrence_id TEXT NOT NULL REFERENCES bill_occurrences(id) ON DELETE CASCADE,
	approver_id TEXT NOT NULL,
	decision TEXT NOT NULL,
	comment TEXT,
	decided_at TIMESTAMPTZ NOT NULL,
	UNIQUE (occurrence_id, approver_id)
);
`

// Store implements billing.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type queries struct {
	q querier
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&txStore{queries{q: tx}})
	})
}

// WithBillLock executes fn in a transaction holding the bill's advisory lock.
func (s *Store) WithBillLock(ctx context.Context, billID billing.BillID, fn func(billing.Store) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(billID)); err != nil {
			return generic.Storage("lock bill", err)
		}
		return fn(&txStore{queries{q: tx}})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return generic.Storage("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return generic.Storage("commit", tx.Commit(ctx))
}

type txStore struct {
	queries
}

func (ts *txStore) WithTx(_ context.Context, fn func(billing.Store) error) error {
	return fn(ts)
}

func (ts *txStore) WithBillLock(ctx context.Context, billID billing.BillID, fn func(billing.Store) error) error {
	if _, err := ts.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(billID)); err != nil {
		return generic.Storage("lock bill", err)
	}
	return fn(ts)
}

// =============================================================================
// BILL STORE
// =============================================================================

func (s *Store) SaveBill(ctx context.Context, bill billing.Bill) error {
	return queries{q: s.pool}.SaveBill(ctx, bill)
}

func (s *Store) GetBill(ctx context.Context, id billing.BillID) (billing.Bill, error) {
	return queries{q: s.pool}.GetBill(ctx, id)
}

func (s *Store) ListBills(ctx context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	return queries{q: s.pool}.ListBills(ctx, filter)
}

const billColumns = `id, org_id, project_id, vendor_id, title, amount_total::text, currency,
	due_date::text, rule_json, installments_total, auto_approve, status, created_at, updated_at`

func (q queries) SaveBill(ctx context.Context, bill billing.Bill) error {
	var rule []byte
	if bill.Rule != nil {
		var err error
		if rule, err = json.Marshal(bill.Rule); err != nil {
			return fmt.Errorf("failed to encode rule: %w", err)
		}
	}
	status := bill.Status
	if status == "" {
		status = billing.BillActive
	}

	_, err := q.q.Exec(ctx, `
		INSERT INTO bills (id, org_id, project_id, vendor_id, title, amount_total, currency,
			due_date, rule_json, installments_total, auto_approve, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			project_id = EXCLUDED.project_id,
			vendor_id = EXCLUDED.vendor_id,
			title = EXCLUDED.title,
			amount_total = EXCLUDED.amount_total,
			currency = EXCLUDED.currency,
			due_date = EXCLUDED.due_date,
			rule_json = EXCLUDED.rule_json,
			installments_total = EXCLUDED.installments_total,
			auto_approve = EXCLUDED.auto_approve,
			status = EXCLUDED.status,
			updated_at = now()`,
		string(bill.ID),
		string(bill.OrgID),
		nullString(bill.ProjectID),
		nullString(bill.VendorID),
		bill.Title,
		bill.AmountTotal.String(),
		bill.Currency,
		nullString(bill.DueDate.String()),
		rule,
		bill.InstallmentsTotal,
		bill.AutoApprove,
		string(status),
	)
	return wrapWrite("save bill", err)
}

func (q queries) GetBill(ctx context.Context, id billing.BillID) (billing.Bill, error) {
	bill, err := scanBill(q.q.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Bill{}, &generic.NotFoundError{Kind: "bill", ID: string(id)}
	}
	if err != nil {
		return billing.Bill{}, generic.Storage("get bill", err)
	}
	return bill, nil
}

func (q queries) ListBills(ctx context.Context, filter billing.BillFilter) ([]billing.Bill, error) {
	var w where
	if filter.OrgID != "" {
		w.add("org_id = %s", string(filter.OrgID))
	}
	if filter.Status != "" {
		w.add("status = %s", string(filter.Status))
	}

	rows, err := q.q.Query(ctx, `SELECT `+billColumns+` FROM bills`+w.String()+` ORDER BY created_at, id`, w.args...)
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

func scanBill(row pgx.Row) (billing.Bill, error) {
	var (
		b                   billing.Bill
		id, org, status     string
		projectID, vendorID *string
		amount              string
		dueDate             *string
		rule                []byte
		installments        *int32
		autoApprove         *bool
	)
	err := row.Scan(&id, &org, &projectID, &vendorID, &b.Title, &amount, &b.Currency,
		&dueDate, &rule, &installments, &autoApprove, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return billing.Bill{}, err
	}

	b.ID = billing.BillID(id)
	b.OrgID = billing.OrgID(org)
	b.Status = billing.BillStatus(status)
	b.ProjectID = deref(projectID)
	b.VendorID = deref(vendorID)
	b.AutoApprove = autoApprove != nil && *autoApprove
	if b.AmountTotal, err = generic.ParseMoney(amount); err != nil {
		return billing.Bill{}, err
	}
	if dueDate != nil {
		if b.DueDate, err = generic.ParseDate(*dueDate); err != nil {
			return billing.Bill{}, err
		}
	}
	if len(rule) > 0 {
		var r billing.RecurringRule
		if err := json.Unmarshal(rule, &r); err != nil {
			return billing.Bill{}, fmt.Errorf("failed to decode rule: %w", err)
		}
		b.Rule = &r
	}
	if installments != nil {
		n := int(*installments)
		b.InstallmentsTotal = &n
	}
	return b, nil
}

// =============================================================================
// OCCURRENCE STORE
// =============================================================================

func (s *Store) ListOccurrences(ctx context.Context, billID billing.BillID) ([]billing.Occurrence, error) {
	return queries{q: s.pool}.ListOccurrences(ctx, billID)
}

func (s *Store) GetOccurrence(ctx context.Context, id billing.OccurrenceID) (billing.Occurrence, error) {
	return queries{q: s.pool}.GetOccurrence(ctx, id)
}

func (s *Store) FindOccurrences(ctx context.Context, filter billing.OccurrenceFilter) ([]billing.Occurrence, error) {
	return queries{q: s.pool}.FindOccurrences(ctx, filter)
}

// UpsertOccurrences writes the batch in one transaction.
func (s *Store) UpsertOccurrences(ctx context.Context, occurrences []billing.Occurrence) error {
	return s.WithTx(ctx, func(tx billing.Store) error {
		return tx.UpsertOccurrences(ctx, occurrences)
	})
}

func (s *Store) DeleteScheduledAfter(ctx context.Context, billID billing.BillID, maxSequence int) (int, error) {
	return queries{q: s.pool}.DeleteScheduledAfter(ctx, billID, maxSequence)
}

func (s *Store) DueOccurrences(ctx context.Context, asOf generic.Date) ([]billing.DueOccurrence, error) {
	return queries{q: s.pool}.DueOccurrences(ctx, asOf)
}

func (s *Store) TransitionOccurrences(ctx context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) ([]billing.OccurrenceID, error) {
	return queries{q: s.pool}.TransitionOccurrences(ctx, ids, from, to)
}

const occurrenceColumns = `o.id, o.org_id, o.bill_id, o.project_id, o.vendor_id, o.sequence,
	o.amount_due::text, o.due_date::text, o.suggested_submission_date::text, o.state,
	o.created_at, o.updated_at`

func (q queries) ListOccurrences(ctx context.Context, billID billing.BillID) ([]billing.Occurrence, error) {
	return q.FindOccurrences(ctx, billing.OccurrenceFilter{BillID: billID})
}

func (q queries) GetOccurrence(ctx context.Context, id billing.OccurrenceID) (billing.Occurrence, error) {
	o, err := scanOccurrence(q.q.QueryRow(ctx,
		`SELECT `+occurrenceColumns+` FROM bill_occurrences o WHERE o.id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.Occurrence{}, &generic.NotFoundError{Kind: "occurrence", ID: string(id)}
	}
	if err != nil {
		return billing.Occurrence{}, generic.Storage("get occurrence", err)
	}
	return o, nil
}

func (q queries) FindOccurrences(ctx context.Context, filter billing.OccurrenceFilter) ([]billing.Occurrence, error) {
	var w where
	if filter.OrgID != "" {
		w.add("o.org_id = %s", string(filter.OrgID))
	}
	if filter.BillID != "" {
		w.add("o.bill_id = %s", string(filter.BillID))
	}
	if !filter.DueFrom.IsZero() {
		w.add("o.due_date >= %s::date", filter.DueFrom.String())
	}
	if !filter.DueTo.IsZero() {
		w.add("o.due_date <= %s::date", filter.DueTo.String())
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		w.add("o.state = ANY(%s)", states)
	}

	order := " ORDER BY o.due_date, o.bill_id, o.sequence"
	if filter.BillID != "" {
		order = " ORDER BY o.sequence"
	}

	rows, err := q.q.Query(ctx, `SELECT `+occurrenceColumns+` FROM bill_occurrences o`+w.String()+order, w.args...)
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
	const query = `
		INSERT INTO bill_occurrences (id, org_id, bill_id, project_id, vendor_id, sequence,
			amount_due, due_date, suggested_submission_date, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (bill_id, sequence) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			project_id = EXCLUDED.project_id,
			vendor_id = EXCLUDED.vendor_id,
			amount_due = EXCLUDED.amount_due,
			due_date = EXCLUDED.due_date,
			suggested_submission_date = EXCLUDED.suggested_submission_date,
			state = EXCLUDED.state,
			updated_at = now()`

	batch := &pgx.Batch{}
	for _, o := range occurrences {
		batch.Queue(query,
			string(o.ID),
			string(o.OrgID),
			string(o.BillID),
			nullString(o.ProjectID),
			nullString(o.VendorID),
			o.Sequence,
			o.AmountDue.String(),
			o.DueDate.String(),
			o.SuggestedSubmissionDate.String(),
			string(o.State),
		)
	}

	results := q.q.SendBatch(ctx, batch)
	defer results.Close()
	for range occurrences {
		if _, err := results.Exec(); err != nil {
			return wrapWrite("upsert occurrences", err)
		}
	}
	return nil
}

func (q queries) DeleteScheduledAfter(ctx context.Context, billID billing.BillID, maxSequence int) (int, error) {
	tag, err := q.q.Exec(ctx,
		`DELETE FROM bill_occurrences WHERE bill_id = $1 AND sequence > $2 AND state = $3`,
		string(billID), maxSequence, string(billing.StateScheduled))
	if err != nil {
		return 0, generic.Storage("delete scheduled occurrences", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q queries) DueOccurrences(ctx context.Context, asOf generic.Date) ([]billing.DueOccurrence, error) {
	rows, err := q.q.Query(ctx, `
		SELECT `+occurrenceColumns+`, b.auto_approve
		FROM bill_occurrences o
		LEFT JOIN bills b ON b.id = o.bill_id
		WHERE o.state = $1 AND o.due_date <= $2::date
		ORDER BY o.due_date, o.id`,
		string(billing.StateScheduled), asOf.String())
	if err != nil {
		return nil, generic.Storage("select due occurrences", err)
	}
	defer rows.Close()

	var out []billing.DueOccurrence
	for rows.Next() {
		var autoApprove *bool
		o, err := scanOccurrence(rows, &autoApprove)
		if err != nil {
			return nil, generic.Storage("select due occurrences", err)
		}
		out = append(out, billing.DueOccurrence{Occurrence: o, AutoApprove: autoApprove})
	}
	return out, generic.Storage("select due occurrences", rows.Err())
}

func (q queries) TransitionOccurrences(ctx context.Context, ids []billing.OccurrenceID, from, to billing.OccurrenceState) ([]billing.OccurrenceID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := q.q.Query(ctx,
		`UPDATE bill_occurrences SET state = $1, updated_at = now()
		 WHERE state = $2 AND id = ANY($3)
		 RETURNING id`,
		string(to), string(from), raw)
	if err != nil {
		return nil, generic.Storage("transition occurrences", err)
	}
	defer rows.Close()

	var moved []billing.OccurrenceID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, generic.Storage("transition occurrences", err)
		}
		moved = append(moved, billing.OccurrenceID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, generic.Storage("transition occurrences", err)
	}
	return moved, nil
}

func scanOccurrence(row pgx.Row, extra ...any) (billing.Occurrence, error) {
	var (
		o                      billing.Occurrence
		id, org, bill, state   string
		projectID, vendorID    *string
		amount, due, suggested string
	)
	dest := []any{&id, &org, &bill, &projectID, &vendorID, &o.Sequence, &amount,
		&due, &suggested, &state, &o.CreatedAt, &o.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return billing.Occurrence{}, err
	}

	var err error
	o.ID = billing.OccurrenceID(id)
	o.OrgID = billing.OrgID(org)
	o.BillID = billing.BillID(bill)
	o.State = billing.OccurrenceState(state)
	o.ProjectID = deref(projectID)
	o.VendorID = deref(vendorID)
	if o.AmountDue, err = generic.ParseMoney(amount); err != nil {
		return billing.Occurrence{}, err
	}
	if o.DueDate, err = generic.ParseDate(due); err != nil {
		return billing.Occurrence{}, err
	}
	if o.SuggestedSubmissionDate, err = generic.ParseDate(suggested); err != nil {
		return billing.Occurrence{}, err
	}
	return o, nil
}

// =============================================================================
// APPROVAL STORE
// =============================================================================

func (s *Store) UpsertApproval(ctx context.Context, approval billing.Approval) (billing.Approval, error) {
	return queries{q: s.pool}.UpsertApproval(ctx, approval)
}

func (s *Store) ListApprovals(ctx context.Context, occurrenceID billing.OccurrenceID) ([]billing.Approval, error) {
	return queries{q: s.pool}.ListApprovals(ctx, occurrenceID)
}

func (q queries) UpsertApproval(ctx context.Context, approval billing.Approval) (billing.Approval, error) {
	var id string
	err := q.q.QueryRow(ctx, `
		INSERT INTO approvals (id, occurrence_id, approver_id, decision, comment, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (occurrence_id, approver_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			comment = EXCLUDED.comment,
			decided_at = EXCLUDED.decided_at
		RETURNING id`,
		string(approval.ID),
		string(approval.OccurrenceID),
		approval.ApproverID,
		string(approval.Decision),
		nullString(approval.Comment),
		approval.DecidedAt,
	).Scan(&id)
	if err != nil {
		return billing.Approval{}, wrapWrite("upsert approval", err)
	}
	approval.ID = billing.ApprovalID(id)
	return approval, nil
}

func (q queries) ListApprovals(ctx context.Context, occurrenceID billing.OccurrenceID) ([]billing.Approval, error) {
	rows, err := q.q.Query(ctx, `
		SELECT id, occurrence_id, approver_id, decision, comment, decided_at
		FROM approvals WHERE occurrence_id = $1 ORDER BY decided_at, id`, string(occurrenceID))
	if err != nil {
		return nil, generic.Storage("list approvals", err)
	}
	defer rows.Close()

	var out []billing.Approval
	for rows.Next() {
		var (
			a                      billing.Approval
			id, occ, approver, dec string
			comment                *string
		)
		if err := rows.Scan(&id, &occ, &approver, &dec, &comment, &a.DecidedAt); err != nil {
			return nil, generic.Storage("list approvals", err)
		}
		a.ID = billing.ApprovalID(id)
		a.OccurrenceID = billing.OccurrenceID(occ)
		a.ApproverID = approver
		a.Decision = billing.Decision(dec)
		a.Comment = deref(comment)
		out = append(out, a)
	}
	return out, generic.Storage("list approvals", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

// add appends a condition whose single %s is replaced by the next $n.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, "$"+strconv.Itoa(len(w.args))))
}

func (w where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// wrapWrite maps unique violations to generic.ErrConflict.
func wrapWrite(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return &generic.StorageError{Op: op, Err: fmt.Errorf("%w: %s", generic.ErrConflict, pgErr.ConstraintName)}
	}
	return generic.Storage(op, err)
}
