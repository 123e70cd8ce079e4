/*
Package billing is the shared core of the bill engine.

PURPOSE:
  One implementation of occurrence generation used by both the on-demand
  HTTP endpoint and the scheduled sweep, so the two call sites can never
  drift apart.

KEY CONCEPTS IN THIS FILE (types.go):
  - Bill: A tracked payment obligation, possibly recurring
  - RecurringRule: frequency/interval/end-date embedded on a Bill
  - Occurrence: One expected payment instance derived from a bill
  - OccurrenceState: Lifecycle of an occurrence
  - Approval: One approver's decision on one occurrence

OCCURRENCE LIFECYCLE:
  scheduled ──sweep──> pending_approval ──decision──> approved
      │                                                  │
      └──sweep (auto_approve)──> approved ──> paid | failed | on_hold | canceled

SEE ALSO:
  - recurrence.go: Rule expansion into due dates
  - materialize.go: Dates into occurrence rows + reconciliation
  - sweep.go: Daily scheduled -> approved/pending_approval promotion
  - approval.go: Decision-driven transitions
*/
package billing

import (
	"time"

	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BillID string
type OccurrenceID string
type ApprovalID string
type OrgID string

// =============================================================================
// BILL
// =============================================================================

type BillStatus string

const (
	BillDraft     BillStatus = "draft"
	BillActive    BillStatus = "active"
	BillPaid      BillStatus = "paid"
	BillCancelled BillStatus = "cancelled"
)

func (s BillStatus) Valid() bool {
	switch s {
	case BillDraft, BillActive, BillPaid, BillCancelled:
		return true
	}
	return false
}

// Bill identifies an obligation.
type Bill struct {
	ID                BillID
	OrgID             OrgID
	ProjectID         string // optional
	VendorID          string // optional
	Title             string
	AmountTotal       generic.Money
	Currency          string
	DueDate           generic.Date // one-off due date; zero when unset
	Rule              *RecurringRule
	InstallmentsTotal *int
	AutoApprove       bool
	Status            BillStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsRecurring reports whether the occurrence generator applies to the bill.
func (b Bill) IsRecurring() bool { return b.Rule != nil }

// =============================================================================
// RECURRING RULE
// =============================================================================

type Frequency string

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// RecurringRule is embedded on a Bill and has no identity of its own.
type RecurringRule struct {
	Frequency Frequency    `json:"frequency"`
	Interval  int          `json:"interval"`
	StartDate generic.Date `json:"start_date"`
	EndDate   generic.Date `json:"end_date,omitempty"`
}

// =============================================================================
// OCCURRENCE
// =============================================================================

type OccurrenceState string

const (
	StateScheduled       OccurrenceState = "scheduled"
	StatePendingApproval OccurrenceState = "pending_approval"
	StateApproved        OccurrenceState = "approved"
	StatePaid            OccurrenceState = "paid"
	StateFailed          OccurrenceState = "failed"
	StateOnHold          OccurrenceState = "on_hold"
	StateCanceled        OccurrenceState = "canceled"
)

func (s OccurrenceState) Valid() bool {
	switch s {
	case StateScheduled, StatePendingApproval, StateApproved,
		StatePaid, StateFailed, StateOnHold, StateCanceled:
		return true
	}
	return false
}

// preservedStates survive regeneration; everything else is reset to scheduled.
var preservedStates = map[OccurrenceState]bool{
	StatePaid:     true,
	StateFailed:   true,
	StateApproved: true,
	StateOnHold:   true,
}

// IsPreserved reports whether regeneration keeps this state.
func (s OccurrenceState) IsPreserved() bool { return preservedStates[s] }

// IsSettled reports whether no further payment is expected.
func (s OccurrenceState) IsSettled() bool { return s == StatePaid || s == StateCanceled }

// Occurrence is one expected payment event for a bill.
// (BillID, Sequence) is unique.
type Occurrence struct {
	ID                      OccurrenceID
	OrgID                   OrgID
	BillID                  BillID
	ProjectID               string
	VendorID                string
	Sequence                int
	AmountDue               generic.Money
	DueDate                 generic.Date
	SuggestedSubmissionDate generic.Date
	State                   OccurrenceState
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// DueOccurrence is an occurrence joined with its bill's auto-approve flag.
// AutoApprove is nil when the flag is absent in storage.
type DueOccurrence struct {
	Occurrence
	AutoApprove *bool
}

// =============================================================================
// APPROVAL
// =============================================================================

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionHold    Decision = "hold"
	DecisionPay     Decision = "pay"
	DecisionFail    Decision = "fail"
	DecisionCancel  Decision = "cancel"
)

// Approval is a decision record. At most one per (OccurrenceID, ApproverID);
// the storage layer enforces it.
type Approval struct {
	ID           ApprovalID
	OccurrenceID OccurrenceID
	ApproverID   string
	Decision     Decision
	Comment      string
	DecidedAt    time.Time
}
