/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Bills:       BillDTO, RuleDTO, BillRequest, BillResponse
  Occurrences: OccurrenceDTO, RegenerateResponse
  Decisions:   DecisionRequest, DecisionResponse, ApprovalDTO
  Reports:     SummaryDTO, BucketDTO, CurrencyTotalDTO
  Admin:       SweepResponse

VALIDATION:
  Request types carry go-playground/validator tags for shape checks
  (required fields, currency codes, enum values). Recurring rule semantics
  are validated by the billing package so that the same rule errors come
  back from every entry point.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// BILLS
// =============================================================================

// RuleDTO is the recurring rule as sent and returned by the API.
type RuleDTO struct {
	Frequency string `json:"frequency" validate:"required"`
	Interval  int    `json:"interval"`
	StartDate string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// BillRequest is the body of POST /api/bills and PUT /api/bills/{id}.
type BillRequest struct {
	OrgID             string   `json:"org_id" validate:"required"`
	ProjectID         string   `json:"project_id,omitempty"`
	VendorID          string   `json:"vendor_id,omitempty"`
	Title             string   `json:"title" validate:"required,max=200"`
	AmountTotal       string   `json:"amount_total" validate:"required,numeric"`
	Currency          string   `json:"currency" validate:"required,len=3,alpha"`
	DueDate           string   `json:"due_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Rule              *RuleDTO `json:"recurring_rule,omitempty"`
	InstallmentsTotal *int     `json:"installments_total,omitempty" validate:"omitempty,min=1"`
	AutoApprove       bool     `json:"auto_approve"`
	Status            string   `json:"status,omitempty" validate:"omitempty,oneof=draft active paid cancelled"`
}

// BillDTO represents a bill in API responses.
type BillDTO struct {
	ID                string   `json:"id"`
	OrgID             string   `json:"org_id"`
	ProjectID         string   `json:"project_id,omitempty"`
	VendorID          string   `json:"vendor_id,omitempty"`
	Title             string   `json:"title"`
	AmountTotal       string   `json:"amount_total"`
	Currency          string   `json:"currency"`
	DueDate           string   `json:"due_date,omitempty"`
	Rule              *RuleDTO `json:"recurring_rule,omitempty"`
	InstallmentsTotal *int     `json:"installments_total,omitempty"`
	AutoApprove       bool     `json:"auto_approve"`
	Status            string   `json:"status"`
	CreatedAt         string   `json:"created_at,omitempty"`
	UpdatedAt         string   `json:"updated_at,omitempty"`
}

// BillResponse is a bill with its occurrences after a write.
type BillResponse struct {
	Bill        BillDTO         `json:"bill"`
	Occurrences []OccurrenceDTO `json:"occurrences"`
}

// =============================================================================
// OCCURRENCES
// =============================================================================

// OccurrenceDTO represents an occurrence in API responses.
type OccurrenceDTO struct {
	ID                      string `json:"id"`
	OrgID                   string `json:"org_id"`
	BillID                  string `json:"bill_id"`
	ProjectID               string `json:"project_id,omitempty"`
	VendorID                string `json:"vendor_id,omitempty"`
	Sequence                int    `json:"sequence"`
	AmountDue               string `json:"amount_due"`
	DueDate                 string `json:"due_date"`
	SuggestedSubmissionDate string `json:"suggested_submission_date"`
	State                   string `json:"state"`
	UpdatedAt               string `json:"updated_at,omitempty"`
}

// RegenerateResponse reports POST /api/bills/{id}/occurrences/regenerate.
type RegenerateResponse struct {
	BillID      string          `json:"bill_id"`
	Skipped     bool            `json:"skipped"`
	Generated   int             `json:"generated"`
	Preserved   int             `json:"preserved"`
	Pruned      int             `json:"pruned"`
	MaxSequence int             `json:"max_sequence"`
	Occurrences []OccurrenceDTO `json:"occurrences"`
}

// =============================================================================
// DECISIONS
// =============================================================================

// DecisionRequest is the body of POST /api/occurrences/{id}/decisions.
type DecisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject hold pay fail cancel"`
	UserID string `json:"user_id" validate:"required_if=Action approve,required_if=Action reject,required_if=Action hold"`
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// ApprovalDTO represents one approver's decision.
type ApprovalDTO struct {
	ID           string `json:"id"`
	OccurrenceID string `json:"occurrence_id"`
	ApproverID   string `json:"approver_id"`
	Decision     string `json:"decision"`
	Comment      string `json:"comment,omitempty"`
	DecidedAt    string `json:"decided_at"`
}

// DecisionResponse is the outcome of a decision.
type DecisionResponse struct {
	Occurrence OccurrenceDTO `json:"occurrence"`
	Approval   *ApprovalDTO  `json:"approval,omitempty"`
}

// =============================================================================
// REPORTS & ADMIN
// =============================================================================

type CurrencyTotalDTO struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

type BucketDTO struct {
	Count  int                `json:"count"`
	Totals []CurrencyTotalDTO `json:"totals"`
}

// SummaryDTO is the upcoming/overdue report.
type SummaryDTO struct {
	OrgID      string    `json:"org_id"`
	AsOf       string    `json:"as_of"`
	WindowDays int       `json:"window_days"`
	Upcoming   BucketDTO `json:"upcoming"`
	Overdue    BucketDTO `json:"overdue"`
}

// SweepResponse reports a manual sweep run.
type SweepResponse struct {
	AsOf            string `json:"as_of"`
	Selected        int    `json:"selected"`
	Approved        int    `json:"approved"`
	PendingApproval int    `json:"pending_approval"`
	Error           string `json:"error,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toRuleDTO(r *billing.RecurringRule) *RuleDTO {
	if r == nil {
		return nil
	}
	return &RuleDTO{
		Frequency: string(r.Frequency),
		Interval:  r.Interval,
		StartDate: r.StartDate.String(),
		EndDate:   r.EndDate.String(),
	}
}

func toBillDTO(b billing.Bill) BillDTO {
	return BillDTO{
		ID:                string(b.ID),
		OrgID:             string(b.OrgID),
		ProjectID:         b.ProjectID,
		VendorID:          b.VendorID,
		Title:             b.Title,
		AmountTotal:       b.AmountTotal.String(),
		Currency:          b.Currency,
		DueDate:           b.DueDate.String(),
		Rule:              toRuleDTO(b.Rule),
		InstallmentsTotal: b.InstallmentsTotal,
		AutoApprove:       b.AutoApprove,
		Status:            string(b.Status),
		CreatedAt:         formatTimestamp(b.CreatedAt),
		UpdatedAt:         formatTimestamp(b.UpdatedAt),
	}
}

func toOccurrenceDTO(o billing.Occurrence) OccurrenceDTO {
	return OccurrenceDTO{
		ID:                      string(o.ID),
		OrgID:                   string(o.OrgID),
		BillID:                  string(o.BillID),
		ProjectID:               o.ProjectID,
		VendorID:                o.VendorID,
		Sequence:                o.Sequence,
		AmountDue:               o.AmountDue.String(),
		DueDate:                 o.DueDate.String(),
		SuggestedSubmissionDate: o.SuggestedSubmissionDate.String(),
		State:                   string(o.State),
		UpdatedAt:               formatTimestamp(o.UpdatedAt),
	}
}

func toOccurrenceDTOs(occurrences []billing.Occurrence) []OccurrenceDTO {
	dtos := make([]OccurrenceDTO, len(occurrences))
	for i, o := range occurrences {
		dtos[i] = toOccurrenceDTO(o)
	}
	return dtos
}

func toApprovalDTO(a billing.Approval) ApprovalDTO {
	return ApprovalDTO{
		ID:           string(a.ID),
		OccurrenceID: string(a.OccurrenceID),
		ApproverID:   a.ApproverID,
		Decision:     string(a.Decision),
		Comment:      a.Comment,
		DecidedAt:    formatTimestamp(a.DecidedAt),
	}
}

func toBucketDTO(b billing.Bucket) BucketDTO {
	totals := make([]CurrencyTotalDTO, len(b.Totals))
	for i, t := range b.Totals {
		totals[i] = CurrencyTotalDTO{Currency: t.Currency, Amount: t.Amount.String()}
	}
	return BucketDTO{Count: b.Count, Totals: totals}
}

// toBill converts a validated request into a bill. Date and amount parse
// errors wrap generic.ErrValidation.
func (req BillRequest) toBill() (billing.Bill, error) {
	amount, err := generic.ParseMoney(req.AmountTotal)
	if err != nil {
		return billing.Bill{}, err
	}
	bill := billing.Bill{
		OrgID:             billing.OrgID(req.OrgID),
		ProjectID:         req.ProjectID,
		VendorID:          req.VendorID,
		Title:             req.Title,
		AmountTotal:       amount,
		Currency:          req.Currency,
		InstallmentsTotal: req.InstallmentsTotal,
		AutoApprove:       req.AutoApprove,
		Status:            billing.BillStatus(req.Status),
	}
	if bill.Status == "" {
		bill.Status = billing.BillActive
	}
	if req.DueDate != "" {
		if bill.DueDate, err = generic.ParseDate(req.DueDate); err != nil {
			return billing.Bill{}, err
		}
	}
	if req.Rule != nil {
		rule := billing.RecurringRule{
			Frequency: billing.Frequency(req.Rule.Frequency),
			Interval:  req.Rule.Interval,
		}
		if req.Rule.StartDate != "" {
			if rule.StartDate, err = generic.ParseDate(req.Rule.StartDate); err != nil {
				return billing.Bill{}, err
			}
		}
		if req.Rule.EndDate != "" {
			if rule.EndDate, err = generic.ParseDate(req.Rule.EndDate); err != nil {
				return billing.Bill{}, err
			}
		}
		bill.Rule = &rule
	}
	return bill, nil
}
