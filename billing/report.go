package billing

import (
	"context"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// REPORTS - Upcoming and overdue amounts per organization
// =============================================================================

// DefaultUpcomingDays is the look-ahead window of the upcoming bucket.
const DefaultUpcomingDays = 30

// CurrencyTotal is a per-currency sum.
type CurrencyTotal struct {
	Currency string
	Amount   generic.Money
}

// Bucket counts occurrences and sums their amounts by currency.
type Bucket struct {
	Count  int
	Totals []CurrencyTotal // sorted by currency
}

// Summary is the upcoming/overdue overview of an organization.
//
//	overdue:  due before AsOf, not paid or canceled
//	upcoming: due in [AsOf, AsOf+WindowDays], not paid or canceled
type Summary struct {
	OrgID      OrgID
	AsOf       generic.Date
	WindowDays int
	Upcoming   Bucket
	Overdue    Bucket
}

// Summarize builds the report for org as of asOf.
func Summarize(ctx context.Context, store Store, org OrgID, asOf generic.Date, windowDays int) (Summary, error) {
	if windowDays <= 0 {
		windowDays = DefaultUpcomingDays
	}
	summary := Summary{OrgID: org, AsOf: asOf, WindowDays: windowDays}

	bills, err := store.ListBills(ctx, BillFilter{OrgID: org})
	if err != nil {
		return summary, err
	}
	currency := make(map[BillID]string, len(bills))
	for _, b := range bills {
		currency[b.ID] = strings.ToUpper(b.Currency)
	}

	upcomingWindow := generic.DaysFrom(asOf, windowDays)
	occurrences, err := store.FindOccurrences(ctx, OccurrenceFilter{
		OrgID: org,
		DueTo: upcomingWindow.End,
	})
	if err != nil {
		return summary, err
	}

	upcoming := map[string]generic.Money{}
	overdue := map[string]generic.Money{}
	for _, o := range occurrences {
		if o.State.IsSettled() {
			continue
		}
		cur := currency[o.BillID]
		if o.DueDate.Before(asOf) {
			summary.Overdue.Count++
			overdue[cur] = overdue[cur].Add(o.AmountDue)
		} else {
			summary.Upcoming.Count++
			upcoming[cur] = upcoming[cur].Add(o.AmountDue)
		}
	}
	summary.Upcoming.Totals = sortedTotals(upcoming)
	summary.Overdue.Totals = sortedTotals(overdue)
	return summary, nil
}

func sortedTotals(m map[string]generic.Money) []CurrencyTotal {
	totals := make([]CurrencyTotal, 0, len(m))
	for cur, amount := range m {
		totals = append(totals, CurrencyTotal{Currency: cur, Amount: amount})
	}
	slices.SortFunc(totals, func(a, b CurrencyTotal) int {
		return strings.Compare(a.Currency, b.Currency)
	})
	return totals
}
