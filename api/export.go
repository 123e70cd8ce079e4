package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/bill-engine/billing"
)

var csvHeader = []string{
	"bill_id", "bill_title", "sequence", "due_date",
	"suggested_submission_date", "amount_due", "currency", "state",
}

// ExportOccurrences streams an organization's occurrences as CSV.
// GET /api/reports/occurrences.csv?org_id=&from=&to=&state=
func (h *Handler) ExportOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := occurrenceFilter(r)
	if err != nil {
		writeDomainError(w, "Invalid query", err)
		return
	}
	if filter.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required", nil)
		return
	}

	occurrences, err := h.Store.FindOccurrences(ctx, filter)
	if err != nil {
		writeDomainError(w, "Failed to search occurrences", err)
		return
	}

	bills := make(map[billing.BillID]billing.Bill)
	for _, o := range occurrences {
		if _, ok := bills[o.BillID]; ok {
			continue
		}
		bill, err := h.Store.GetBill(ctx, o.BillID)
		if err != nil {
			writeDomainError(w, "Failed to load bill", err)
			return
		}
		bills[o.BillID] = bill
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "occurrences-"+string(filter.OrgID)+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	if err := writeOccurrenceRows(cw, occurrences, bills); err != nil {
		h.Log.WithError(err).Warn("csv export truncated")
	}
}

func writeOccurrenceRows(cw *csv.Writer, occurrences []billing.Occurrence, bills map[billing.BillID]billing.Bill) error {
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range occurrences {
		bill := bills[o.BillID]
		err := cw.Write([]string{
			csvCell(string(o.BillID)),
			csvCell(bill.Title),
			strconv.Itoa(o.Sequence),
			o.DueDate.String(),
			o.SuggestedSubmissionDate.String(),
			o.AmountDue.String(),
			csvCell(bill.Currency),
			string(o.State),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvCell neutralizes free text that a spreadsheet would evaluate as a
// formula.
func csvCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
