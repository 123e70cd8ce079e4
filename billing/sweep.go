package billing

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// DAILY TRANSITION SWEEP - scheduled -> approved | pending_approval
// =============================================================================

// Notifier is told about occurrences after their state write committed.
//
//go:generate mockgen -destination=../mocks/notifier_mock.go -package=mocks github.com/warp/bill-engine/billing Notifier
type Notifier interface {
	OccurrencesTransitioned(ctx context.Context, to OccurrenceState, occurrences []Occurrence) error
}

// Sweeper promotes occurrences whose due date has arrived.
//
// Selection: state = scheduled AND due_date <= asOf.
// Transition: bill.auto_approve true -> approved, otherwise pending_approval.
//
// The two target states are written as independent batches. Each batch is a
// single guarded update (rows that left scheduled in the meantime are not
// touched), a failing batch does not stop the other one, and the first error
// is returned alongside the counts of whatever committed.
type Sweeper struct {
	Store    Store
	Notifier Notifier // optional
	Log      logrus.FieldLogger
}

// NewSweeper creates a sweeper. notifier may be nil.
func NewSweeper(store Store, notifier Notifier, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{Store: store, Notifier: notifier, Log: log}
}

// SweepResult reports one sweep run.
type SweepResult struct {
	AsOf            generic.Date
	Selected        int
	Approved        int
	PendingApproval int
}

type sweepBatch struct {
	to          OccurrenceState
	occurrences []Occurrence
}

// Run sweeps occurrences due on or before asOf. Re-running for the same day
// is a no-op for rows already promoted.
func (s *Sweeper) Run(ctx context.Context, asOf generic.Date) (SweepResult, error) {
	result := SweepResult{AsOf: asOf}
	log := s.Log.WithField("as_of", asOf.String())

	due, err := s.Store.DueOccurrences(ctx, asOf)
	if err != nil {
		log.WithError(err).Error("sweep selection failed")
		return result, err
	}
	result.Selected = len(due)
	if len(due) == 0 {
		log.Debug("sweep found nothing due")
		return result, nil
	}

	approveNow := sweepBatch{to: StateApproved}
	needsApproval := sweepBatch{to: StatePendingApproval}
	for _, d := range due {
		if d.AutoApprove != nil && *d.AutoApprove {
			approveNow.occurrences = append(approveNow.occurrences, d.Occurrence)
		} else {
			needsApproval.occurrences = append(needsApproval.occurrences, d.Occurrence)
		}
	}

	var firstErr error
	for _, batch := range []sweepBatch{approveNow, needsApproval} {
		n, err := s.apply(ctx, batch)
		if err != nil {
			log.WithError(err).WithField("state", batch.to).Error("sweep batch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		switch batch.to {
		case StateApproved:
			result.Approved = n
		case StatePendingApproval:
			result.PendingApproval = n
		}
	}

	log.WithFields(logrus.Fields{
		"selected":         result.Selected,
		"approved":         result.Approved,
		"pending_approval": result.PendingApproval,
	}).Info("sweep completed")
	return result, firstErr
}

func (s *Sweeper) apply(ctx context.Context, batch sweepBatch) (int, error) {
	if len(batch.occurrences) == 0 {
		return 0, nil
	}
	ids := make([]OccurrenceID, len(batch.occurrences))
	for i, o := range batch.occurrences {
		ids[i] = o.ID
	}

	movedIDs, err := s.Store.TransitionOccurrences(ctx, ids, StateScheduled, batch.to)
	if err != nil {
		return 0, err
	}

	// Rows a concurrent writer already took out of scheduled are not announced.
	if s.Notifier != nil && len(movedIDs) > 0 {
		wasMoved := make(map[OccurrenceID]bool, len(movedIDs))
		for _, id := range movedIDs {
			wasMoved[id] = true
		}
		moved := make([]Occurrence, 0, len(movedIDs))
		for _, o := range batch.occurrences {
			if wasMoved[o.ID] {
				o.State = batch.to
				moved = append(moved, o)
			}
		}
		if err := s.Notifier.OccurrencesTransitioned(ctx, batch.to, moved); err != nil {
			s.Log.WithError(err).WithField("state", batch.to).Warn("sweep notification failed")
		}
	}
	return len(movedIDs), nil
}
