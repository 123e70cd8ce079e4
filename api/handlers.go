/*
handlers.go - HTTP API handlers for the bill engine

PURPOSE:
  Exposes bills, occurrences, decisions and reports via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the billing
  package. Occurrence generation is never done here; both the create/update
  handlers and the regenerate endpoint call billing.Regenerator.

ENDPOINTS:
  Bills:
    GET    /api/bills?org_id=&status=               List bills
    POST   /api/bills                               Create bill (+ occurrences)
    GET    /api/bills/{id}                          Get bill
    PUT    /api/bills/{id}                          Replace bill (+ regenerate)
    GET    /api/bills/{id}/occurrences              Occurrences by sequence
    POST   /api/bills/{id}/occurrences/regenerate   Rebuild occurrences

  Occurrences:
    GET    /api/occurrences?org_id=&from=&to=&state= Search
    GET    /api/occurrences/{id}                     Get occurrence
    POST   /api/occurrences/{id}/decisions           Apply a decision
    GET    /api/occurrences/{id}/approvals           Decision history

  Reports:
    GET    /api/reports/summary?org_id=&as_of=&days=       Upcoming/overdue
    GET    /api/reports/occurrences.csv?org_id=&from=&to=  CSV export

  Admin:
    POST   /api/admin/sweep?date=                    Run the daily sweep now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: billing.Store (sqlite or postgres)
  - Regenerator, Sweeper, Approvals: billing services
  - Location: timezone that defines "today"

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid recurring rules
  - 404: Bill or occurrence not found
  - 409: Illegal state transition, concurrent change, duplicate key
  - 500: Storage errors

SECURITY NOTE:
  No authentication. org_id is trusted as sent; tenancy is enforced by the
  caller in front of this service.

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: CSV export
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       billing.Store
	Regenerator *billing.Regenerator
	Sweeper     *billing.Sweeper
	Approvals   *billing.Approvals
	Log         logrus.FieldLogger
	Location    *time.Location

	validate *validator.Validate
	newID    func() string
}

// NewHandler wires the billing services around store.
func NewHandler(store billing.Store, notifier billing.Notifier, log logrus.FieldLogger, loc *time.Location, horizonMonths int) *Handler {
	regen := billing.NewRegenerator(store, log)
	if horizonMonths > 0 {
		regen.HorizonMonths = horizonMonths
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		Store:       store,
		Regenerator: regen,
		Sweeper:     billing.NewSweeper(store, notifier, log),
		Approvals:   billing.NewApprovals(store, notifier, log),
		Log:         log,
		Location:    loc,
		validate:    validator.New(),
		newID:       uuid.NewString,
	}
}

// today is the current calendar day in the configured timezone.
func (h *Handler) today() generic.Date {
	return generic.Today(h.Location)
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when supported, database reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills returns bills of an organization.
// GET /api/bills?org_id=&status=
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bills, err := h.Store.ListBills(r.Context(), billing.BillFilter{
		OrgID:  billing.OrgID(q.Get("org_id")),
		Status: billing.BillStatus(q.Get("status")),
	})
	if err != nil {
		writeDomainError(w, "Failed to list bills", err)
		return
	}

	dtos := make([]BillDTO, len(bills))
	for i, b := range bills {
		dtos[i] = toBillDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBill stores a bill and generates its occurrences.
// POST /api/bills
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	bill, ok := h.decodeBill(w, r)
	if !ok {
		return
	}
	bill.ID = billing.BillID(h.newID())

	stored, result, err := h.Regenerator.Save(r.Context(), bill)
	if err != nil {
		writeDomainError(w, "Failed to save bill", err)
		return
	}
	writeJSON(w, http.StatusCreated, BillResponse{Bill: toBillDTO(stored), Occurrences: toOccurrenceDTOs(result.Occurrences)})
}

// GetBill returns a bill.
// GET /api/bills/{id}
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Store.GetBill(r.Context(), billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get bill", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillDTO(bill))
}

// UpdateBill replaces a bill and reconciles its occurrences.
// PUT /api/bills/{id}
func (h *Handler) UpdateBill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.BillID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetBill(ctx, id); err != nil {
		writeDomainError(w, "Failed to get bill", err)
		return
	}

	bill, ok := h.decodeBill(w, r)
	if !ok {
		return
	}
	bill.ID = id

	stored, result, err := h.Regenerator.Save(ctx, bill)
	if err != nil {
		writeDomainError(w, "Failed to save bill", err)
		return
	}
	writeJSON(w, http.StatusOK, BillResponse{Bill: toBillDTO(stored), Occurrences: toOccurrenceDTOs(result.Occurrences)})
}

// decodeBill parses and validates a BillRequest. On failure it has already
// written the response.
func (h *Handler) decodeBill(w http.ResponseWriter, r *http.Request) (billing.Bill, bool) {
	var req BillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return billing.Bill{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return billing.Bill{}, false
	}
	bill, err := req.toBill()
	if err != nil {
		writeDomainError(w, "Invalid bill", err)
		return billing.Bill{}, false
	}
	if err := billing.ValidateBill(bill); err != nil {
		writeDomainError(w, "Invalid bill", err)
		return billing.Bill{}, false
	}
	return bill, true
}

// ListBillOccurrences returns a bill's occurrences by sequence.
// GET /api/bills/{id}/occurrences
func (h *Handler) ListBillOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.BillID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetBill(ctx, id); err != nil {
		writeDomainError(w, "Failed to get bill", err)
		return
	}
	occurrences, err := h.Store.ListOccurrences(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to list occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTOs(occurrences))
}

// RegenerateOccurrences rebuilds a bill's occurrences on demand.
// POST /api/bills/{id}/occurrences/regenerate
func (h *Handler) RegenerateOccurrences(w http.ResponseWriter, r *http.Request) {
	result, err := h.Regenerator.Regenerate(r.Context(), billing.BillID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to regenerate occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, RegenerateResponse{
		BillID:      string(result.BillID),
		Skipped:     result.Skipped,
		Generated:   result.Generated,
		Preserved:   result.Preserved,
		Pruned:      result.Pruned,
		MaxSequence: result.MaxSequence,
		Occurrences: toOccurrenceDTOs(result.Occurrences),
	})
}

// =============================================================================
// OCCURRENCE HANDLERS
// =============================================================================

// SearchOccurrences filters occurrences across bills.
// GET /api/occurrences?org_id=&bill_id=&from=&to=&state=
func (h *Handler) SearchOccurrences(w http.ResponseWriter, r *http.Request) {
	filter, err := occurrenceFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	occurrences, err := h.Store.FindOccurrences(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to search occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTOs(occurrences))
}

// GetOccurrence returns one occurrence.
// GET /api/occurrences/{id}
func (h *Handler) GetOccurrence(w http.ResponseWriter, r *http.Request) {
	o, err := h.Store.GetOccurrence(r.Context(), billing.OccurrenceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get occurrence", err)
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(o))
}

// Decide applies an approve/reject/hold/pay/fail/cancel decision.
// POST /api/occurrences/{id}/decisions
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	result, err := h.Approvals.Decide(r.Context(), billing.OccurrenceID(chi.URLParam(r, "id")), billing.DecisionInput{
		Decision: billing.Decision(req.Action),
		UserID:   req.UserID,
		Comment:  req.Reason,
	})
	if err != nil {
		writeDomainError(w, "Decision rejected", err)
		return
	}

	resp := DecisionResponse{Occurrence: toOccurrenceDTO(result.Occurrence)}
	if result.Approval != nil {
		dto := toApprovalDTO(*result.Approval)
		resp.Approval = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListApprovals returns the decision history of an occurrence.
// GET /api/occurrences/{id}/approvals
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := billing.OccurrenceID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetOccurrence(ctx, id); err != nil {
		writeDomainError(w, "Failed to get occurrence", err)
		return
	}
	approvals, err := h.Store.ListApprovals(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to list approvals", err)
		return
	}
	dtos := make([]ApprovalDTO, len(approvals))
	for i, a := range approvals {
		dtos[i] = toApprovalDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORTS & ADMIN
// =============================================================================

// Summary returns the upcoming/overdue report of an organization.
// GET /api/reports/summary?org_id=&as_of=&days=
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org := q.Get("org_id")
	if org == "" {
		writeError(w, http.StatusBadRequest, "org_id is required", nil)
		return
	}

	asOf := h.today()
	if s := q.Get("as_of"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeDomainError(w, "Invalid as_of", err)
			return
		}
		asOf = d
	}
	days := billing.DefaultUpcomingDays
	if s := q.Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", err)
			return
		}
		days = n
	}

	summary, err := billing.Summarize(r.Context(), h.Store, billing.OrgID(org), asOf, days)
	if err != nil {
		writeDomainError(w, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		OrgID:      string(summary.OrgID),
		AsOf:       summary.AsOf.String(),
		WindowDays: summary.WindowDays,
		Upcoming:   toBucketDTO(summary.Upcoming),
		Overdue:    toBucketDTO(summary.Overdue),
	})
}

// RunSweep runs the daily transition sweep immediately.
// POST /api/admin/sweep?date=YYYY-MM-DD (default: today)
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	asOf := h.today()
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeDomainError(w, "Invalid date", err)
			return
		}
		asOf = d
	}

	result, err := h.Sweeper.Run(r.Context(), asOf)
	resp := SweepResponse{
		AsOf:            result.AsOf.String(),
		Selected:        result.Selected,
		Approved:        result.Approved,
		PendingApproval: result.PendingApproval,
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func occurrenceFilter(r *http.Request) (billing.OccurrenceFilter, error) {
	q := r.URL.Query()
	filter := billing.OccurrenceFilter{
		OrgID:  billing.OrgID(q.Get("org_id")),
		BillID: billing.BillID(q.Get("bill_id")),
	}
	var err error
	if s := q.Get("from"); s != "" {
		if filter.DueFrom, err = generic.ParseDate(s); err != nil {
			return filter, err
		}
	}
	if s := q.Get("to"); s != "" {
		if filter.DueTo, err = generic.ParseDate(s); err != nil {
			return filter, err
		}
	}
	if !(generic.Period{Start: filter.DueFrom, End: filter.DueTo}).IsValid() {
		return filter, fmt.Errorf("%w: from is after to", generic.ErrValidation)
	}
	for _, s := range q["state"] {
		state := billing.OccurrenceState(s)
		if !state.Valid() {
			return filter, fmt.Errorf("%w: unknown state %q", generic.ErrValidation, s)
		}
		filter.States = append(filter.States, state)
	}
	return filter, nil
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
