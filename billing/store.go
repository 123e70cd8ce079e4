/*
store.go - Persistence interface for bills, occurrences and approvals

PURPOSE:
  Defines the interface between the billing core and the database. The core
  never issues SQL; it calls these methods and the backends (memory, SQLite,
  PostgreSQL) implement them.

KEY INTERFACES:
  BillStore:       Bill rows (recurring rule embedded)
  OccurrenceStore: Occurrence rows keyed by (bill, sequence)
  ApprovalStore:   Approval rows keyed by (occurrence, approver)
  Store:           All of the above plus transactions and per-bill locking

UPSERT CONTRACT:
  UpsertOccurrences is an update-or-insert on (bill_id, sequence). The row ID
  of an existing row is kept; the caller's ID is used only on insert.

LOCKING:
  WithBillLock serializes regenerations of the same bill and runs fn in a
  transaction. PostgreSQL uses an advisory transaction lock, SQLite and the
  memory store use an in-process mutex.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory for tests/dev
  - store/sqlite/sqlite.go: Embedded default backend
  - store/postgres/postgres.go: Production backend

SEE ALSO:
  - regenerate.go, sweep.go, approval.go: The callers
*/
package billing

import (
	"context"

	"github.com/warp/bill-engine/generic"
)

// BillFilter narrows ListBills. Zero fields are ignored.
type BillFilter struct {
	OrgID  OrgID
	Status BillStatus
}

// OccurrenceFilter narrows FindOccurrences. Zero fields are ignored.
type OccurrenceFilter struct {
	OrgID   OrgID
	BillID  BillID
	States  []OccurrenceState
	DueFrom generic.Date
	DueTo   generic.Date
}

// BillStore persists bills.
type BillStore interface {
	// SaveBill inserts or updates a bill by ID.
	SaveBill(ctx context.Context, bill Bill) error

	// GetBill returns a *generic.NotFoundError when the bill does not exist.
	GetBill(ctx context.Context, id BillID) (Bill, error)

	ListBills(ctx context.Context, filter BillFilter) ([]Bill, error)
}

// OccurrenceStore persists occurrences.
type OccurrenceStore interface {
	// ListOccurrences returns a bill's occurrences ordered by sequence.
	ListOccurrences(ctx context.Context, billID BillID) ([]Occurrence, error)

	// GetOccurrence returns a *generic.NotFoundError when missing.
	GetOccurrence(ctx context.Context, id OccurrenceID) (Occurrence, error)

	// FindOccurrences returns matches ordered by due date, then sequence.
	FindOccurrences(ctx context.Context, filter OccurrenceFilter) ([]Occurrence, error)

	// UpsertOccurrences writes rows keyed by (bill_id, sequence).
	UpsertOccurrences(ctx context.Context, occurrences []Occurrence) error

	// DeleteScheduledAfter removes scheduled occurrences of billID whose
	// sequence is greater than maxSequence and returns how many were removed.
	DeleteScheduledAfter(ctx context.Context, billID BillID, maxSequence int) (int, error)

	// DueOccurrences returns scheduled occurrences due on or before asOf,
	// joined with their bill's auto_approve flag.
	DueOccurrences(ctx context.Context, asOf generic.Date) ([]DueOccurrence, error)

	// TransitionOccurrences moves the given occurrences from one state to
	// another. Rows no longer in from are left alone; the IDs of the rows
	// that moved are returned.
	TransitionOccurrences(ctx context.Context, ids []OccurrenceID, from, to OccurrenceState) ([]OccurrenceID, error)
}

// ApprovalStore persists approval decisions.
type ApprovalStore interface {
	// UpsertApproval inserts the approval or, when (occurrence, approver)
	// already exists, updates its decision. The stored row is returned.
	UpsertApproval(ctx context.Context, approval Approval) (Approval, error)

	ListApprovals(ctx context.Context, occurrenceID OccurrenceID) ([]Approval, error)
}

// Store is the full persistence surface used by the core.
type Store interface {
	BillStore
	OccurrenceStore
	ApprovalStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error

	// WithBillLock executes fn within a transaction while holding the
	// per-bill lock for billID.
	WithBillLock(ctx context.Context, billID BillID, fn func(Store) error) error
}
