package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// TRANSITIONS - Decision-driven occurrence state machine
// =============================================================================

var transitions = map[OccurrenceState][]OccurrenceState{
	StateScheduled:       {StateApproved, StatePendingApproval, StateOnHold, StateCanceled},
	StatePendingApproval: {StateApproved, StateOnHold, StateCanceled},
	StateApproved:        {StatePaid, StateFailed, StateOnHold, StateCanceled},
	StateOnHold:          {StatePendingApproval, StateApproved, StateCanceled},
	StateFailed:          {StateApproved, StateCanceled},
	StatePaid:            nil,
	StateCanceled:        nil,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to OccurrenceState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Target returns the state a decision moves an occurrence to.
func (d Decision) Target() (OccurrenceState, error) {
	switch d {
	case DecisionApprove:
		return StateApproved, nil
	case DecisionReject, DecisionHold:
		return StateOnHold, nil
	case DecisionPay:
		return StatePaid, nil
	case DecisionFail:
		return StateFailed, nil
	case DecisionCancel:
		return StateCanceled, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", generic.ErrValidation, d)
	}
}

// recordsApproval is true for decisions made by an approver.
func (d Decision) recordsApproval() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionHold
}

// =============================================================================
// APPROVALS - Apply a decision to one occurrence
// =============================================================================

// Approvals applies decisions to occurrences.
type Approvals struct {
	Store    Store
	Notifier Notifier // optional
	Log      logrus.FieldLogger
	Now      func() time.Time
	NewID    func() string
}

// NewApprovals creates the decision service.
func NewApprovals(store Store, notifier Notifier, log logrus.FieldLogger) *Approvals {
	return &Approvals{
		Store:    store,
		Notifier: notifier,
		Log:      log,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// DecisionInput is one user's decision on one occurrence.
type DecisionInput struct {
	Decision Decision
	UserID   string
	Comment  string
}

// DecisionResult carries the updated occurrence and, for approver decisions,
// the stored approval.
type DecisionResult struct {
	Occurrence Occurrence
	Approval   *Approval
}

// Decide moves the occurrence to the decision's target state and records
// the approval. The state write is guarded on the state that was read, so a
// concurrent sweep or decision turns into a conflict instead of a lost update.
func (a *Approvals) Decide(ctx context.Context, id OccurrenceID, in DecisionInput) (DecisionResult, error) {
	to, err := in.Decision.Target()
	if err != nil {
		return DecisionResult{}, err
	}
	if in.Decision.recordsApproval() && in.UserID == "" {
		return DecisionResult{}, fmt.Errorf("%w: user_id is required for %s", generic.ErrValidation, in.Decision)
	}

	var result DecisionResult
	err = a.Store.WithTx(ctx, func(s Store) error {
		occ, err := s.GetOccurrence(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(occ.State, to) {
			return &generic.TransitionError{From: string(occ.State), To: string(to)}
		}

		moved, err := s.TransitionOccurrences(ctx, []OccurrenceID{id}, occ.State, to)
		if err != nil {
			return err
		}
		if len(moved) == 0 {
			return fmt.Errorf("%w: occurrence %s changed concurrently", generic.ErrConflict, id)
		}
		occ.State = to
		occ.UpdatedAt = a.Now()
		result.Occurrence = occ

		if in.Decision.recordsApproval() {
			stored, err := s.UpsertApproval(ctx, Approval{
				ID:           ApprovalID(a.NewID()),
				OccurrenceID: id,
				ApproverID:   in.UserID,
				Decision:     in.Decision,
				Comment:      in.Comment,
				DecidedAt:    a.Now(),
			})
			if err != nil {
				return err
			}
			result.Approval = &stored
		}
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	a.Log.WithFields(logrus.Fields{
		"occurrence_id": id,
		"decision":      in.Decision,
		"state":         to,
		"user_id":       in.UserID,
	}).Info("occurrence decision applied")

	if a.Notifier != nil {
		if err := a.Notifier.OccurrencesTransitioned(ctx, to, []Occurrence{result.Occurrence}); err != nil {
			a.Log.WithError(err).WithField("occurrence_id", id).Warn("decision notification failed")
		}
	}
	return result, nil
}
