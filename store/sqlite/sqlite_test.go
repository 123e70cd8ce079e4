package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
	"github.com/warp/bill-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func recurringBill() billing.Bill {
	installments := 4
	return billing.Bill{
		ID:          "bill-1",
		OrgID:       "org-1",
		VendorID:    "vendor-1",
		Title:       "Equipment lease",
		AmountTotal: generic.MustMoney("1000.00"),
		Currency:    "USD",
		Rule: &billing.RecurringRule{
			Frequency: billing.Monthly,
			Interval:  1,
			StartDate: generic.MustParseDate("2025-01-31"),
		},
		InstallmentsTotal: &installments,
		AutoApprove:       true,
		Status:            billing.BillActive,
	}
}

func TestStore_BillRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	// GIVEN a recurring bill
	bill := recurringBill()
	require.NoError(t, s.SaveBill(ctx, bill))

	// WHEN it is read back
	got, err := s.GetBill(ctx, "bill-1")
	require.NoError(t, err)

	// THEN every field survives
	assert.Equal(t, bill.OrgID, got.OrgID)
	assert.Equal(t, "1000.00", got.AmountTotal.String())
	assert.True(t, got.AutoApprove)
	require.NotNil(t, got.Rule)
	assert.Equal(t, billing.Monthly, got.Rule.Frequency)
	assert.Equal(t, "2025-01-31", got.Rule.StartDate.String())
	assert.True(t, got.Rule.EndDate.IsZero())
	require.NotNil(t, got.InstallmentsTotal)
	assert.Equal(t, 4, *got.InstallmentsTotal)
	assert.True(t, got.DueDate.IsZero())
	assert.False(t, got.CreatedAt.IsZero())

	// AND an update keeps created_at
	bill.Title = "Lease (renegotiated)"
	bill.Rule = nil
	require.NoError(t, s.SaveBill(ctx, bill))
	updated, err := s.GetBill(ctx, "bill-1")
	require.NoError(t, err)
	assert.Equal(t, "Lease (renegotiated)", updated.Title)
	assert.Nil(t, updated.Rule)
	assert.Equal(t, got.CreatedAt, updated.CreatedAt)

	_, err = s.GetBill(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_ListBillsFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, b := range []billing.Bill{
		{ID: "a", OrgID: "org-1", AmountTotal: generic.MustMoney("1"), Status: billing.BillActive},
		{ID: "b", OrgID: "org-1", AmountTotal: generic.MustMoney("1"), Status: billing.BillDraft},
		{ID: "c", OrgID: "org-2", AmountTotal: generic.MustMoney("1"), Status: billing.BillActive},
	} {
		require.NoError(t, s.SaveBill(ctx, b))
	}

	all, err := s.ListBills(ctx, billing.BillFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListBills(ctx, billing.BillFilter{OrgID: "org-1", Status: billing.BillActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, billing.BillID("a"), active[0].ID)
}

func TestStore_RegenerateEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	log, _ := logtest.NewNullLogger()
	require.NoError(t, s.SaveBill(ctx, recurringBill()))
	regen := billing.NewRegenerator(s, log)

	// WHEN regenerated twice
	first, err := regen.Regenerate(ctx, "bill-1")
	require.NoError(t, err)
	second, err := regen.Regenerate(ctx, "bill-1")
	require.NoError(t, err)

	// THEN the (bill, sequence) key keeps the rows stable
	require.Len(t, second.Occurrences, 4)
	for i := range first.Occurrences {
		assert.Equal(t, first.Occurrences[i].ID, second.Occurrences[i].ID)
	}
	due := make([]string, 0, 4)
	for _, o := range second.Occurrences {
		due = append(due, o.DueDate.String())
	}
	assert.Equal(t, []string{"2025-01-31", "2025-03-03", "2025-04-03", "2025-05-03"}, due)
	assert.Equal(t, "250.00", second.Occurrences[0].AmountDue.String())
	// 2025-05-03 is a Saturday
	assert.Equal(t, "2025-05-02", second.Occurrences[3].SuggestedSubmissionDate.String())
}

func TestStore_ShortenPreservesProgressed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	log, _ := logtest.NewNullLogger()
	bill := recurringBill()
	require.NoError(t, s.SaveBill(ctx, bill))
	regen := billing.NewRegenerator(s, log)
	initial, err := regen.Regenerate(ctx, "bill-1")
	require.NoError(t, err)

	moved, err := s.TransitionOccurrences(ctx,
		[]billing.OccurrenceID{initial.Occurrences[0].ID, initial.Occurrences[3].ID},
		billing.StateScheduled, billing.StatePaid)
	require.NoError(t, err)
	assert.ElementsMatch(t, []billing.OccurrenceID{initial.Occurrences[0].ID, initial.Occurrences[3].ID}, moved)

	two := 2
	bill.InstallmentsTotal = &two
	require.NoError(t, s.SaveBill(ctx, bill))
	result, err := regen.Regenerate(ctx, "bill-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pruned)
	require.Len(t, result.Occurrences, 3)
	assert.Equal(t, billing.StatePaid, result.Occurrences[0].State)
	assert.Equal(t, "500.00", result.Occurrences[0].AmountDue.String())
	assert.Equal(t, billing.StateScheduled, result.Occurrences[1].State)
	assert.Equal(t, 4, result.Occurrences[2].Sequence)
	assert.Equal(t, billing.StatePaid, result.Occurrences[2].State)
}

func TestStore_SweepSelectionAndGuardedTransition(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	today := generic.MustParseDate("2025-06-10")

	require.NoError(t, s.SaveBill(ctx, billing.Bill{ID: "auto", OrgID: "org-1", AmountTotal: generic.MustMoney("1"), AutoApprove: true}))
	require.NoError(t, s.SaveBill(ctx, billing.Bill{ID: "manual", OrgID: "org-1", AmountTotal: generic.MustMoney("1")}))
	occ := func(id, bill string, seq int, due generic.Date, state billing.OccurrenceState) billing.Occurrence {
		return billing.Occurrence{
			ID: billing.OccurrenceID(id), OrgID: "org-1", BillID: billing.BillID(bill), Sequence: seq,
			AmountDue: generic.MustMoney("1"), DueDate: due, SuggestedSubmissionDate: due, State: state,
		}
	}
	require.NoError(t, s.UpsertOccurrences(ctx, []billing.Occurrence{
		occ("A", "auto", 1, today.AddDays(-1), billing.StateScheduled),
		occ("D", "auto", 2, today.AddDays(-1), billing.StateApproved),
		occ("B", "manual", 1, today, billing.StateScheduled),
		occ("C", "manual", 2, today.AddDays(1), billing.StateScheduled),
	}))

	log, _ := logtest.NewNullLogger()
	result, err := billing.NewSweeper(s, nil, log).Run(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Selected)
	assert.Equal(t, 1, result.Approved)
	assert.Equal(t, 1, result.PendingApproval)

	for id, want := range map[billing.OccurrenceID]billing.OccurrenceState{
		"A": billing.StateApproved,
		"B": billing.StatePendingApproval,
		"C": billing.StateScheduled,
		"D": billing.StateApproved,
	} {
		got, err := s.GetOccurrence(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.State, id)
	}

	// a stale transition touches nothing
	moved, err := s.TransitionOccurrences(ctx, []billing.OccurrenceID{"A"}, billing.StateScheduled, billing.StatePendingApproval)
	require.NoError(t, err)
	assert.Empty(t, moved)
}

func TestStore_UpsertApprovalIsKeyedByApprover(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveBill(ctx, billing.Bill{ID: "b", OrgID: "org-1", AmountTotal: generic.MustMoney("1")}))
	due := generic.MustParseDate("2025-06-10")
	require.NoError(t, s.UpsertOccurrences(ctx, []billing.Occurrence{{
		ID: "o", OrgID: "org-1", BillID: "b", Sequence: 1, AmountDue: generic.MustMoney("1"),
		DueDate: due, SuggestedSubmissionDate: due, State: billing.StatePendingApproval,
	}}))

	at := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	first, err := s.UpsertApproval(ctx, billing.Approval{ID: "ap-1", OccurrenceID: "o", ApproverID: "alice", Decision: billing.DecisionHold, DecidedAt: at})
	require.NoError(t, err)
	second, err := s.UpsertApproval(ctx, billing.Approval{ID: "ap-2", OccurrenceID: "o", ApproverID: "alice", Decision: billing.DecisionApprove, DecidedAt: at.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.UpsertApproval(ctx, billing.Approval{ID: "ap-3", OccurrenceID: "o", ApproverID: "bob", Decision: billing.DecisionApprove, DecidedAt: at.Add(2 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, billing.ApprovalID("ap-1"), first.ID)
	assert.Equal(t, billing.ApprovalID("ap-1"), second.ID)

	approvals, err := s.ListApprovals(ctx, "o")
	require.NoError(t, err)
	require.Len(t, approvals, 2)
	assert.Equal(t, "alice", approvals[0].ApproverID)
	assert.Equal(t, billing.DecisionApprove, approvals[0].Decision)
	assert.Equal(t, "bob", approvals[1].ApproverID)
}

func TestStore_DuplicateOccurrenceIDIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SaveBill(ctx, billing.Bill{ID: "b", OrgID: "org-1", AmountTotal: generic.MustMoney("1")}))
	due := generic.MustParseDate("2025-06-10")
	base := billing.Occurrence{
		ID: "o", OrgID: "org-1", BillID: "b", Sequence: 1, AmountDue: generic.MustMoney("1"),
		DueDate: due, SuggestedSubmissionDate: due, State: billing.StateScheduled,
	}
	require.NoError(t, s.UpsertOccurrences(ctx, []billing.Occurrence{base}))

	clash := base
	clash.Sequence = 2
	err := s.UpsertOccurrences(ctx, []billing.Occurrence{clash})

	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrConflict))
	assert.True(t, errors.Is(err, generic.ErrStorage))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx billing.Store) error {
		if err := tx.SaveBill(ctx, billing.Bill{ID: "b", OrgID: "org-1", AmountTotal: generic.MustMoney("1")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetBill(ctx, "b")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_FindOccurrencesByWindowAndState(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	log, _ := logtest.NewNullLogger()
	require.NoError(t, s.SaveBill(ctx, recurringBill()))
	_, err := billing.NewRegenerator(s, log).Regenerate(ctx, "bill-1")
	require.NoError(t, err)

	found, err := s.FindOccurrences(ctx, billing.OccurrenceFilter{
		OrgID:   "org-1",
		DueFrom: generic.MustParseDate("2025-03-01"),
		DueTo:   generic.MustParseDate("2025-04-30"),
		States:  []billing.OccurrenceState{billing.StateScheduled},
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, 2, found[0].Sequence)
	assert.Equal(t, 3, found[1].Sequence)
}
