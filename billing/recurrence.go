package billing

import (
	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// RECURRENCE EXPANDER - Rule + anchor date into due dates
// =============================================================================

const (
	// MaxOccurrences bounds every expansion regardless of the rule.
	MaxOccurrences = 200

	// DefaultHorizonMonths applies when the rule has no end date.
	DefaultHorizonMonths = 18
)

// ExpandOptions tunes an expansion. The zero value uses the defaults.
type ExpandOptions struct {
	// HorizonMonths replaces DefaultHorizonMonths when > 0.
	HorizonMonths int

	// Limit stops after this many dates when > 0 (installment count).
	// With a limit and no end date the horizon is not applied.
	Limit int
}

// Expand produces the ascending due dates for rule starting at start.
//
// The first date is start; each next date advances the previous one by
// Interval units of Frequency. Expansion stops when the next candidate is
// after the end date (the rule's, or start + horizon), after opts.Limit
// dates, or after MaxOccurrences dates.
func Expand(start generic.Date, rule RecurringRule, opts ExpandOptions) ([]generic.Date, error) {
	step, err := stepper(rule)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, &generic.InvalidRuleError{Field: "start_date", Value: "empty"}
	}

	limit := MaxOccurrences
	if opts.Limit > 0 && opts.Limit < limit {
		limit = opts.Limit
	}

	window := generic.Period{Start: start, End: rule.EndDate}
	if window.End.IsZero() && opts.Limit <= 0 {
		horizon := opts.HorizonMonths
		if horizon <= 0 {
			horizon = DefaultHorizonMonths
		}
		window = generic.MonthsFrom(start, horizon)
	}

	var dates []generic.Date
	for current := start; len(dates) < limit; current = step(current) {
		if !window.Contains(current) {
			break
		}
		dates = append(dates, current)
	}
	return dates, nil
}

// stepper validates the rule and returns its advance function.
func stepper(rule RecurringRule) (func(generic.Date) generic.Date, error) {
	if rule.Interval < 1 {
		return nil, &generic.InvalidRuleError{Field: "interval", Value: rule.Interval}
	}
	n := rule.Interval
	switch rule.Frequency {
	case Weekly:
		return func(d generic.Date) generic.Date { return d.AddDays(7 * n) }, nil
	case Monthly:
		return func(d generic.Date) generic.Date { return d.AddMonths(n) }, nil
	case Yearly:
		return func(d generic.Date) generic.Date { return d.AddYears(n) }, nil
	default:
		return nil, &generic.InvalidRuleError{Field: "frequency", Value: rule.Frequency}
	}
}

// ValidateRule checks a rule without expanding it.
func ValidateRule(rule RecurringRule) error {
	if _, err := stepper(rule); err != nil {
		return err
	}
	if !rule.EndDate.IsZero() && !rule.StartDate.IsZero() && rule.EndDate.Before(rule.StartDate) {
		return &generic.InvalidRuleError{Field: "end_date", Value: rule.EndDate.String()}
	}
	return nil
}
