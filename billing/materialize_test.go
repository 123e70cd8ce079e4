package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

func money(s string) generic.Money { return generic.MustMoney(s) }

func amountsOf(occurrences []billing.Occurrence) []string {
	out := make([]string, len(occurrences))
	for i, o := range occurrences {
		out[i] = o.AmountDue.String()
	}
	return out
}

func TestMaterialize_SplitsTotalWithRemainderOnFirst(t *testing.T) {
	// GIVEN a 100.00 bill over three dates
	bill := billing.Bill{ID: "bill-1", OrgID: "org-1", VendorID: "v-1", AmountTotal: money("100.00")}
	dates := []generic.Date{date("2025-01-15"), date("2025-02-15"), date("2025-03-15")}

	// WHEN materialized
	got := billing.Materialize(bill, dates)

	// THEN installment 1 carries the extra cent
	require.Len(t, got, 3)
	assert.Equal(t, []string{"33.34", "33.33", "33.33"}, amountsOf(got))
	for i, o := range got {
		assert.Equal(t, i+1, o.Sequence)
		assert.Equal(t, billing.StateScheduled, o.State)
		assert.Equal(t, billing.BillID("bill-1"), o.BillID)
		assert.Equal(t, billing.OrgID("org-1"), o.OrgID)
		assert.Equal(t, "v-1", o.VendorID)
		assert.Empty(t, o.ID)
		assert.True(t, o.DueDate.Equal(dates[i]))
	}
}

func TestMaterialize_SumAlwaysEqualsTotal(t *testing.T) {
	totals := []string{"0.01", "0.05", "1.00", "99.99", "100.00", "1000.01", "12345.67"}
	for _, total := range totals {
		for n := 1; n <= 13; n++ {
			bill := billing.Bill{AmountTotal: money(total)}
			dates := make([]generic.Date, n)
			for i := range dates {
				dates[i] = date("2025-01-01").AddMonths(i)
			}

			got := billing.Materialize(bill, dates)

			sum := generic.ZeroMoney
			for _, o := range got {
				sum = sum.Add(o.AmountDue)
			}
			assert.True(t, sum.Equal(bill.AmountTotal), "total %s over %d: sum %s", total, n, sum)
			for _, o := range got[1:] {
				assert.True(t, o.AmountDue.Equal(got[1].AmountDue), "installments after the first are equal")
			}
		}
	}
}

func TestMaterialize_NoDates(t *testing.T) {
	assert.Empty(t, billing.Materialize(billing.Bill{AmountTotal: money("10")}, nil))
}

func TestSuggestedSubmissionDate(t *testing.T) {
	tests := []struct {
		due  string
		want string
	}{
		{"2025-01-03", "2025-01-03"}, // Friday
		{"2025-01-04", "2025-01-03"}, // Saturday
		{"2025-01-05", "2025-01-03"}, // Sunday
		{"2025-01-06", "2025-01-06"}, // Monday
		{"2025-03-01", "2025-02-28"}, // Saturday across a month boundary
	}
	for _, tt := range tests {
		t.Run(tt.due, func(t *testing.T) {
			got := billing.SuggestedSubmissionDate(date(tt.due))
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestReconcile_PreservesProgressedStates(t *testing.T) {
	bill := billing.Bill{ID: "bill-1", AmountTotal: money("400.00")}
	fresh := billing.Materialize(bill, []generic.Date{
		date("2025-01-10"), date("2025-02-10"), date("2025-03-10"), date("2025-04-10"),
	})

	existing := []billing.Occurrence{
		{ID: "o1", BillID: "bill-1", Sequence: 1, State: billing.StatePaid, AmountDue: money("50.00")},
		{ID: "o2", BillID: "bill-1", Sequence: 2, State: billing.StatePendingApproval},
		{ID: "o3", BillID: "bill-1", Sequence: 3, State: billing.StateOnHold},
		{ID: "o5", BillID: "bill-1", Sequence: 5, State: billing.StateScheduled},
	}

	plan := billing.Reconcile(fresh, existing)

	require.Len(t, plan.Upserts, 4)
	assert.Equal(t, 4, plan.MaxSequence)

	byseq := map[int]billing.Occurrence{}
	for _, o := range plan.Upserts {
		byseq[o.Sequence] = o
	}

	// paid keeps its state and ID but gets the fresh amount
	assert.Equal(t, billing.OccurrenceID("o1"), byseq[1].ID)
	assert.Equal(t, billing.StatePaid, byseq[1].State)
	assert.Equal(t, "100.00", byseq[1].AmountDue.String())

	// pending_approval is not preserved
	assert.Equal(t, billing.OccurrenceID("o2"), byseq[2].ID)
	assert.Equal(t, billing.StateScheduled, byseq[2].State)

	assert.Equal(t, billing.StateOnHold, byseq[3].State)

	// new sequence has no ID yet
	assert.Empty(t, byseq[4].ID)
	assert.Equal(t, billing.StateScheduled, byseq[4].State)

	prunable := plan.Prunable(existing)
	require.Len(t, prunable, 1)
	assert.Equal(t, billing.OccurrenceID("o5"), prunable[0].ID)
}

func TestReconcile_EmptyFreshPrunesAllScheduled(t *testing.T) {
	existing := []billing.Occurrence{
		{ID: "o1", Sequence: 1, State: billing.StateApproved},
		{ID: "o2", Sequence: 2, State: billing.StateScheduled},
	}

	plan := billing.Reconcile(nil, existing)

	assert.Empty(t, plan.Upserts)
	assert.Equal(t, 0, plan.MaxSequence)
	prunable := plan.Prunable(existing)
	require.Len(t, prunable, 1)
	assert.Equal(t, billing.OccurrenceID("o2"), prunable[0].ID)
}
