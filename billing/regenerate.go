package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// REGENERATOR - load -> expand -> materialize -> upsert -> prune
// =============================================================================

// Regenerator rebuilds a bill's occurrences. It is the only writer of
// occurrence rows besides state transitions.
type Regenerator struct {
	Store         Store
	Log           logrus.FieldLogger
	HorizonMonths int
	NewID         func() string
}

// NewRegenerator creates a regenerator with uuid identifiers.
func NewRegenerator(store Store, log logrus.FieldLogger) *Regenerator {
	return &Regenerator{
		Store:         store,
		Log:           log,
		HorizonMonths: DefaultHorizonMonths,
		NewID:         uuid.NewString,
	}
}

// RegenerateResult summarizes one regeneration.
type RegenerateResult struct {
	BillID      BillID
	Skipped     bool // bill has no recurring rule
	Generated   int
	Preserved   int
	Pruned      int
	MaxSequence int
	Occurrences []Occurrence
}

// PlanFor computes the reconciliation plan for bill against its persisted
// occurrences without touching storage.
func PlanFor(bill Bill, existing []Occurrence, horizonMonths int) (Plan, error) {
	if bill.Rule == nil {
		return Plan{}, nil
	}
	start := bill.Rule.StartDate
	if start.IsZero() {
		start = bill.DueDate
	}

	opts := ExpandOptions{HorizonMonths: horizonMonths}
	if bill.InstallmentsTotal != nil {
		opts.Limit = *bill.InstallmentsTotal
	}

	dates, err := Expand(start, *bill.Rule, opts)
	if err != nil {
		return Plan{}, fmt.Errorf("expand bill %s: %w", bill.ID, err)
	}
	return Reconcile(Materialize(bill, dates), existing), nil
}

// Regenerate rebuilds the occurrences of billID under the bill's lock.
// Non-recurring bills are left untouched. A failed expansion writes nothing.
func (r *Regenerator) Regenerate(ctx context.Context, billID BillID) (RegenerateResult, error) {
	result := RegenerateResult{BillID: billID}

	err := r.Store.WithBillLock(ctx, billID, func(s Store) error {
		bill, err := s.GetBill(ctx, billID)
		if err != nil {
			return err
		}
		if !bill.IsRecurring() {
			result.Skipped = true
			return nil
		}
		return r.rebuild(ctx, s, bill, &result)
	})
	if err != nil {
		r.Log.WithError(err).WithField("bill_id", billID).Warn("occurrence regeneration failed")
		return RegenerateResult{BillID: billID}, err
	}

	r.logResult(result)
	return result, nil
}

// Save writes bill and brings its occurrences in line in one transaction
// under the bill's lock: a recurring bill is regenerated, a bill whose rule
// was removed loses its scheduled occurrences. Nothing is written when any
// step fails. CreatedAt of an existing bill is kept.
func (r *Regenerator) Save(ctx context.Context, bill Bill) (Bill, RegenerateResult, error) {
	result := RegenerateResult{BillID: bill.ID}
	var stored Bill

	err := r.Store.WithBillLock(ctx, bill.ID, func(s Store) error {
		previous, err := s.GetBill(ctx, bill.ID)
		switch {
		case err == nil:
			bill.CreatedAt = previous.CreatedAt
		case generic.IsNotFound(err):
		default:
			return err
		}

		if err := s.SaveBill(ctx, bill); err != nil {
			return err
		}
		if stored, err = s.GetBill(ctx, bill.ID); err != nil {
			return err
		}

		if stored.IsRecurring() {
			return r.rebuild(ctx, s, stored, &result)
		}

		result.Skipped = true
		if previous.IsRecurring() {
			if result.Pruned, err = s.DeleteScheduledAfter(ctx, bill.ID, 0); err != nil {
				return err
			}
		}
		result.Occurrences, err = s.ListOccurrences(ctx, bill.ID)
		return err
	})
	if err != nil {
		r.Log.WithError(err).WithField("bill_id", bill.ID).Warn("bill save failed")
		return Bill{}, RegenerateResult{BillID: bill.ID}, err
	}

	r.logResult(result)
	return stored, result, nil
}

// rebuild runs load -> expand -> materialize -> upsert -> prune against s,
// which must already hold the bill's lock.
func (r *Regenerator) rebuild(ctx context.Context, s Store, bill Bill, result *RegenerateResult) error {
	existing, err := s.ListOccurrences(ctx, bill.ID)
	if err != nil {
		return err
	}

	plan, err := PlanFor(bill, existing, r.HorizonMonths)
	if err != nil {
		return err
	}

	for i := range plan.Upserts {
		if plan.Upserts[i].ID == "" {
			plan.Upserts[i].ID = OccurrenceID(r.NewID())
		}
		if plan.Upserts[i].State != StateScheduled {
			result.Preserved++
		}
	}

	if len(plan.Upserts) > 0 {
		if err := s.UpsertOccurrences(ctx, plan.Upserts); err != nil {
			return err
		}
	}

	pruned, err := s.DeleteScheduledAfter(ctx, bill.ID, plan.MaxSequence)
	if err != nil {
		return err
	}

	result.Generated = len(plan.Upserts)
	result.Pruned = pruned
	result.MaxSequence = plan.MaxSequence
	result.Occurrences, err = s.ListOccurrences(ctx, bill.ID)
	return err
}

func (r *Regenerator) logResult(result RegenerateResult) {
	r.Log.WithFields(logrus.Fields{
		"bill_id":      result.BillID,
		"generated":    result.Generated,
		"preserved":    result.Preserved,
		"pruned":       result.Pruned,
		"max_sequence": result.MaxSequence,
		"skipped":      result.Skipped,
	}).Info("occurrences regenerated")
}

// ValidateBill checks the fields the core depends on.
func ValidateBill(bill Bill) error {
	if !bill.AmountTotal.IsPositive() {
		return fmt.Errorf("%w: amount_total must be positive", generic.ErrValidation)
	}
	if !bill.AmountTotal.Decimal.Equal(bill.AmountTotal.Decimal.Round(2)) {
		return fmt.Errorf("%w: amount_total %s has more than 2 decimal places", generic.ErrValidation, bill.AmountTotal.Decimal.String())
	}
	if bill.Status != "" && !bill.Status.Valid() {
		return fmt.Errorf("%w: unknown bill status %q", generic.ErrValidation, bill.Status)
	}
	if bill.InstallmentsTotal != nil && *bill.InstallmentsTotal < 1 {
		return fmt.Errorf("%w: installments_total must be at least 1", generic.ErrValidation)
	}
	if bill.Rule != nil {
		if err := ValidateRule(*bill.Rule); err != nil {
			return err
		}
		if bill.Rule.StartDate.IsZero() && bill.DueDate.IsZero() {
			return fmt.Errorf("%w: recurring bill needs a start date or due date", generic.ErrValidation)
		}
	}
	return nil
}
