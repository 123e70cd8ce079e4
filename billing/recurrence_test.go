package billing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

func date(s string) generic.Date { return generic.MustParseDate(s) }

func datesOf(ds []generic.Date) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func TestExpand_Frequencies(t *testing.T) {
	tests := []struct {
		name string
		rule billing.RecurringRule
		want []string
	}{
		{
			name: "weekly",
			rule: billing.RecurringRule{Frequency: billing.Weekly, Interval: 1, EndDate: date("2025-01-29")},
			want: []string{"2025-01-01", "2025-01-08", "2025-01-15", "2025-01-22", "2025-01-29"},
		},
		{
			name: "biweekly",
			rule: billing.RecurringRule{Frequency: billing.Weekly, Interval: 2, EndDate: date("2025-02-10")},
			want: []string{"2025-01-01", "2025-01-15", "2025-01-29"},
		},
		{
			name: "quarterly",
			rule: billing.RecurringRule{Frequency: billing.Monthly, Interval: 3, EndDate: date("2025-12-31")},
			want: []string{"2025-01-01", "2025-04-01", "2025-07-01", "2025-10-01"},
		},
		{
			name: "yearly",
			rule: billing.RecurringRule{Frequency: billing.Yearly, Interval: 1, EndDate: date("2027-01-01")},
			want: []string{"2025-01-01", "2026-01-01", "2027-01-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := billing.Expand(date("2025-01-01"), tt.rule, billing.ExpandOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, datesOf(got))
		})
	}
}

func TestExpand_MonthEndOverflowFollowsAddDate(t *testing.T) {
	// Each step advances the previous date, so the overflow sticks:
	// Jan 31 -> Mar 3 (Feb 31 normalised) -> Apr 3.
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1, EndDate: date("2025-04-30")}

	got, err := billing.Expand(date("2025-01-31"), rule, billing.ExpandOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-31", "2025-03-03", "2025-04-03"}, datesOf(got))

	// Leap year: Feb 31 2024 normalises to Mar 2.
	got, err = billing.Expand(date("2024-01-31"), rule, billing.ExpandOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31", "2024-03-02"}, datesOf(got))
}

func TestExpand_DefaultHorizonIs18Months(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1}

	got, err := billing.Expand(date("2025-01-15"), rule, billing.ExpandOptions{})
	require.NoError(t, err)

	require.Len(t, got, 19, "start plus 18 monthly steps, horizon inclusive")
	assert.Equal(t, "2026-07-15", got[len(got)-1].String())
}

func TestExpand_CustomHorizon(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1}

	got, err := billing.Expand(date("2025-01-15"), rule, billing.ExpandOptions{HorizonMonths: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-15", "2025-04-15"}, datesOf(got))
}

func TestExpand_LimitReplacesHorizon(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1}

	got, err := billing.Expand(date("2025-01-15"), rule, billing.ExpandOptions{Limit: 24})
	require.NoError(t, err)
	require.Len(t, got, 24)
	assert.Equal(t, "2026-12-15", got[23].String())
}

func TestExpand_LimitStillHonoursEndDate(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1, EndDate: date("2025-03-01")}

	got, err := billing.Expand(date("2025-01-15"), rule, billing.ExpandOptions{Limit: 12})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-15", "2025-02-15"}, datesOf(got))
}

func TestExpand_SafetyCap(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Weekly, Interval: 1, EndDate: date("2040-01-01")}

	got, err := billing.Expand(date("2025-01-01"), rule, billing.ExpandOptions{})
	require.NoError(t, err)
	assert.Len(t, got, billing.MaxOccurrences)

	got, err = billing.Expand(date("2025-01-01"), rule, billing.ExpandOptions{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, got, billing.MaxOccurrences)
}

func TestExpand_NeverBeforeStartAndAscending(t *testing.T) {
	start := date("2025-05-31")
	for _, freq := range []billing.Frequency{billing.Weekly, billing.Monthly, billing.Yearly} {
		for interval := 1; interval <= 4; interval++ {
			rule := billing.RecurringRule{Frequency: freq, Interval: interval}
			got, err := billing.Expand(start, rule, billing.ExpandOptions{HorizonMonths: 60})
			require.NoError(t, err)
			require.NotEmpty(t, got)
			assert.True(t, got[0].Equal(start))
			for i := 1; i < len(got); i++ {
				assert.True(t, got[i].After(got[i-1]), "%s/%d not ascending at %d", freq, interval, i)
			}
		}
	}
}

func TestExpand_EndBeforeStartYieldsNothing(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1, EndDate: date("2024-12-31")}

	got, err := billing.Expand(date("2025-01-01"), rule, billing.ExpandOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExpand_InvalidRule(t *testing.T) {
	t.Run("unknown frequency", func(t *testing.T) {
		rule := billing.RecurringRule{Frequency: "daily", Interval: 1}
		_, err := billing.Expand(date("2025-01-01"), rule, billing.ExpandOptions{})

		var ruleErr *generic.InvalidRuleError
		require.ErrorAs(t, err, &ruleErr)
		assert.Equal(t, "frequency", ruleErr.Field)
		assert.Equal(t, billing.Frequency("daily"), ruleErr.Value)
		assert.Contains(t, err.Error(), "daily")
		assert.True(t, errors.Is(err, generic.ErrInvalidRule))
	})

	t.Run("zero interval", func(t *testing.T) {
		rule := billing.RecurringRule{Frequency: billing.Weekly}
		_, err := billing.Expand(date("2025-01-01"), rule, billing.ExpandOptions{})
		assert.ErrorIs(t, err, generic.ErrInvalidRule)
	})

	t.Run("missing start", func(t *testing.T) {
		rule := billing.RecurringRule{Frequency: billing.Weekly, Interval: 1}
		_, err := billing.Expand(generic.Date{}, rule, billing.ExpandOptions{})
		assert.ErrorIs(t, err, generic.ErrInvalidRule)
	})
}

func TestExpand_Deterministic(t *testing.T) {
	rule := billing.RecurringRule{Frequency: billing.Monthly, Interval: 2, EndDate: date("2026-06-30")}
	a, err := billing.Expand(date("2025-02-28"), rule, billing.ExpandOptions{})
	require.NoError(t, err)
	b, err := billing.Expand(date("2025-02-28"), rule, billing.ExpandOptions{})
	require.NoError(t, err)
	assert.Equal(t, datesOf(a), datesOf(b))
}

func TestValidateRule(t *testing.T) {
	ok := billing.RecurringRule{Frequency: billing.Monthly, Interval: 1, StartDate: date("2025-01-01")}
	assert.NoError(t, billing.ValidateRule(ok))

	backwards := ok
	backwards.EndDate = date("2024-01-01")
	assert.ErrorIs(t, billing.ValidateRule(backwards), generic.ErrInvalidRule)

}
