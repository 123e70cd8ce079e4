package billing

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier records transitions as structured audit log lines. It stands in
// for the notification dispatcher, which lives outside this service.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) OccurrencesTransitioned(_ context.Context, to OccurrenceState, occurrences []Occurrence) error {
	for _, o := range occurrences {
		n.Log.WithFields(logrus.Fields{
			"audit":         true,
			"occurrence_id": o.ID,
			"bill_id":       o.BillID,
			"org_id":        o.OrgID,
			"sequence":      o.Sequence,
			"due_date":      o.DueDate.String(),
			"state":         to,
		}).Info("occurrence transitioned")
	}
	return nil
}
