package generic_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bill-engine/generic"
)

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, 2025, d.Year())
	assert.Equal(t, time.February, d.Month())
	assert.Equal(t, 28, d.Day())

	_, err = generic.ParseDate("28/02/2025")
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = generic.ParseDate("2025-02-30")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestDate_AddMonthsNormalises(t *testing.T) {
	assert.Equal(t, "2025-03-03", generic.MustParseDate("2025-01-31").AddMonths(1).String())
	assert.Equal(t, "2024-03-02", generic.MustParseDate("2024-01-31").AddMonths(1).String())
	assert.Equal(t, "2025-03-01", generic.MustParseDate("2024-02-29").AddYears(1).String())
}

func TestDate_PreviousBusinessDay(t *testing.T) {
	tests := map[string]string{
		"2025-06-06": "2025-06-06", // Friday
		"2025-06-07": "2025-06-06", // Saturday
		"2025-06-08": "2025-06-06", // Sunday
		"2025-06-09": "2025-06-09", // Monday
	}
	for in, want := range tests {
		assert.Equal(t, want, generic.MustParseDate(in).PreviousBusinessDay().String(), in)
	}
}

func TestDate_AddBusinessDays(t *testing.T) {
	friday := generic.MustParseDate("2025-06-06")

	assert.Equal(t, "2025-06-09", friday.AddBusinessDays(1).String())
	assert.Equal(t, "2025-06-13", friday.AddBusinessDays(5).String())
	assert.Equal(t, "2025-06-05", friday.AddBusinessDays(-1).String())
	assert.Equal(t, "2025-06-06", generic.MustParseDate("2025-06-09").AddBusinessDays(-1).String())
	assert.Equal(t, friday.String(), friday.AddBusinessDays(0).String())
}

func TestDaysBetween(t *testing.T) {
	a := generic.MustParseDate("2025-03-01")
	b := generic.MustParseDate("2025-03-31")
	assert.Equal(t, 30, generic.DaysBetween(a, b))
	assert.Equal(t, -30, generic.DaysBetween(b, a))
}

func TestDateOf_UsesLocalCalendarDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	instant := time.Date(2025, 6, 9, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-09", generic.DateOf(instant).String())
	assert.Equal(t, "2025-06-10", generic.DateOf(instant.In(tokyo)).String())
}

func TestDate_JSON(t *testing.T) {
	type payload struct {
		Due generic.Date `json:"due"`
		End generic.Date `json:"end"`
	}

	out, err := json.Marshal(payload{Due: generic.MustParseDate("2025-01-15")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2025-01-15","end":null}`, string(out))

	var in payload
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2025-04-01","end":""}`), &in))
	assert.Equal(t, "2025-04-01", in.Due.String())
	assert.True(t, in.End.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"due":"April 1"}`), &in))
}

func TestPeriod_Contains(t *testing.T) {
	p := generic.Period{Start: generic.MustParseDate("2025-01-01"), End: generic.MustParseDate("2025-01-31")}
	assert.True(t, p.Contains(generic.MustParseDate("2025-01-01")))
	assert.True(t, p.Contains(generic.MustParseDate("2025-01-31")))
	assert.False(t, p.Contains(generic.MustParseDate("2025-02-01")))

	open := generic.Period{End: generic.MustParseDate("2025-01-31")}
	assert.True(t, open.Contains(generic.MustParseDate("1999-12-31")))
}
