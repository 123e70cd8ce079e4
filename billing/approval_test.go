package billing_test

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/billing/store"
	"github.com/warp/bill-engine/generic"
	"github.com/warp/bill-engine/mocks"
)

func seedOccurrence(t *testing.T, mem *store.Memory, state billing.OccurrenceState) billing.OccurrenceID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.SaveBill(ctx, billing.Bill{ID: "bill-1", OrgID: "org-1", AmountTotal: money("10")}))
	require.NoError(t, mem.UpsertOccurrences(ctx, []billing.Occurrence{
		{ID: "occ-1", OrgID: "org-1", BillID: "bill-1", Sequence: 1, AmountDue: money("10"), DueDate: date("2025-06-10"), State: state},
	}))
	return "occ-1"
}

func newApprovals(t *testing.T, s billing.Store, n billing.Notifier) *billing.Approvals {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	a := billing.NewApprovals(s, n, log)
	a.Now = func() time.Time { return time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC) }
	return a
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to billing.OccurrenceState
		want     bool
	}{
		{billing.StateScheduled, billing.StateApproved, true},
		{billing.StateScheduled, billing.StatePaid, false},
		{billing.StatePendingApproval, billing.StateApproved, true},
		{billing.StatePendingApproval, billing.StatePaid, false},
		{billing.StateApproved, billing.StatePaid, true},
		{billing.StateApproved, billing.StateFailed, true},
		{billing.StateFailed, billing.StateApproved, true},
		{billing.StateOnHold, billing.StatePendingApproval, true},
		{billing.StatePaid, billing.StateCanceled, false},
		{billing.StateCanceled, billing.StateApproved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, billing.CanTransition(tt.from, tt.to))
		})
	}
}

func TestDecide_ApproveRecordsApproval(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := seedOccurrence(t, mem, billing.StatePendingApproval)

	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().OccurrencesTransitioned(gomock.Any(), billing.StateApproved, gomock.Len(1)).Return(nil)

	result, err := newApprovals(t, mem, notifier).Decide(ctx, id, billing.DecisionInput{
		Decision: billing.DecisionApprove, UserID: "alice", Comment: "ok",
	})
	require.NoError(t, err)

	assert.Equal(t, billing.StateApproved, result.Occurrence.State)
	require.NotNil(t, result.Approval)
	assert.Equal(t, "alice", result.Approval.ApproverID)
	assert.Equal(t, billing.StateApproved, stateOf(t, mem, id))
}

func TestDecide_OneApprovalPerApprover(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := seedOccurrence(t, mem, billing.StatePendingApproval)
	approvals := newApprovals(t, mem, nil)

	first, err := approvals.Decide(ctx, id, billing.DecisionInput{Decision: billing.DecisionHold, UserID: "alice"})
	require.NoError(t, err)
	second, err := approvals.Decide(ctx, id, billing.DecisionInput{Decision: billing.DecisionApprove, UserID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, first.Approval.ID, second.Approval.ID)
	stored, err := mem.ListApprovals(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, billing.DecisionApprove, stored[0].Decision)
}

func TestDecide_PayDoesNotRecordApproval(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	id := seedOccurrence(t, mem, billing.StateApproved)

	result, err := newApprovals(t, mem, nil).Decide(ctx, id, billing.DecisionInput{Decision: billing.DecisionPay})
	require.NoError(t, err)

	assert.Nil(t, result.Approval)
	assert.Equal(t, billing.StatePaid, stateOf(t, mem, id))
}

func TestDecide_Errors(t *testing.T) {
	tests := []struct {
		name  string
		state billing.OccurrenceState
		id    billing.OccurrenceID
		input billing.DecisionInput
		want  error
	}{
		{
			name:  "illegal transition",
			state: billing.StatePaid,
			id:    "occ-1",
			input: billing.DecisionInput{Decision: billing.DecisionApprove, UserID: "alice"},
			want:  generic.ErrInvalidTransition,
		},
		{
			name:  "unknown decision",
			state: billing.StatePendingApproval,
			id:    "occ-1",
			input: billing.DecisionInput{Decision: "escalate", UserID: "alice"},
			want:  generic.ErrValidation,
		},
		{
			name:  "approver missing",
			state: billing.StatePendingApproval,
			id:    "occ-1",
			input: billing.DecisionInput{Decision: billing.DecisionApprove},
			want:  generic.ErrValidation,
		},
		{
			name:  "unknown occurrence",
			state: billing.StatePendingApproval,
			id:    "nope",
			input: billing.DecisionInput{Decision: billing.DecisionCancel},
			want:  generic.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			seedOccurrence(t, mem, tt.state)

			_, err := newApprovals(t, mem, nil).Decide(context.Background(), tt.id, tt.input)

			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.state, stateOf(t, mem, "occ-1"))
		})
	}
}
