package billing

import (
	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// OCCURRENCE MATERIALIZER - Dates into occurrence rows
// =============================================================================

// Materialize turns expanded due dates into occurrence records for bill.
//
// Amounts split the bill total across len(dates) installments with the
// rounding remainder on sequence 1. Every record starts as scheduled;
// Reconcile decides which states survive. IDs are left empty.
func Materialize(bill Bill, dates []generic.Date) []Occurrence {
	if len(dates) == 0 {
		return nil
	}
	amounts := bill.AmountTotal.Split(len(dates))

	occurrences := make([]Occurrence, len(dates))
	for i, due := range dates {
		occurrences[i] = Occurrence{
			OrgID:                   bill.OrgID,
			BillID:                  bill.ID,
			ProjectID:               bill.ProjectID,
			VendorID:                bill.VendorID,
			Sequence:                i + 1,
			AmountDue:               amounts[i],
			DueDate:                 due,
			SuggestedSubmissionDate: SuggestedSubmissionDate(due),
			State:                   StateScheduled,
		}
	}
	return occurrences
}

// SuggestedSubmissionDate is the due date pulled back to a weekday.
// Holidays are not considered.
func SuggestedSubmissionDate(due generic.Date) generic.Date {
	return due.PreviousBusinessDay()
}

// =============================================================================
// RECONCILIATION - Preserve progressed work across regeneration
// =============================================================================

// Plan is the persistence effect of one regeneration.
type Plan struct {
	// Upserts are keyed by (bill, sequence).
	Upserts []Occurrence

	// MaxSequence is the highest sequence in Upserts, 0 when empty.
	// Scheduled occurrences above it are pruned.
	MaxSequence int
}

// Reconcile merges freshly materialized occurrences with the persisted ones.
//
// For each fresh occurrence, a persisted occurrence at the same sequence in a
// preserved state (paid, failed, approved, on_hold) lends its state and ID;
// amount and dates are always refreshed. Anything else becomes scheduled,
// keeping the persisted ID when there is one.
func Reconcile(fresh []Occurrence, existing []Occurrence) Plan {
	bySequence := make(map[int]Occurrence, len(existing))
	for _, o := range existing {
		bySequence[o.Sequence] = o
	}

	plan := Plan{Upserts: make([]Occurrence, 0, len(fresh))}
	for _, o := range fresh {
		o.State = StateScheduled
		if prev, ok := bySequence[o.Sequence]; ok {
			o.ID = prev.ID
			o.CreatedAt = prev.CreatedAt
			if prev.State.IsPreserved() {
				o.State = prev.State
			}
		}
		if o.Sequence > plan.MaxSequence {
			plan.MaxSequence = o.Sequence
		}
		plan.Upserts = append(plan.Upserts, o)
	}
	return plan
}

// Prunable lists which persisted occurrences the plan removes: still
// scheduled and beyond the new maximum sequence.
func (p Plan) Prunable(existing []Occurrence) []Occurrence {
	var out []Occurrence
	for _, o := range existing {
		if o.Sequence > p.MaxSequence && o.State == StateScheduled {
			out = append(out, o)
		}
	}
	return out
}
