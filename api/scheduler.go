/*
scheduler.go - Daily transition sweep scheduler

PURPOSE:
  Runs billing.Sweeper once a day so that scheduled occurrences that became
  due are promoted without anyone calling the admin endpoint.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec, default
    "5 0 * * *") in the configured timezone
  - "today" is computed in the same timezone at fire time
  - Overlapping runs are skipped; the sweep is idempotent so a skipped or
    repeated run never changes the outcome
  - Partial failures are logged and picked up by the next run

USAGE:
  scheduler, err := NewSweepScheduler(sweeper, "5 0 * * *", loc, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual sweep)
  - billing/sweep.go: Sweeper
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/generic"
)

// SweepScheduler runs the daily sweep on a cron schedule.
type SweepScheduler struct {
	Sweeper  *billing.Sweeper
	Location *time.Location
	Log      logrus.FieldLogger

	// Today is overridable for tests.
	Today func() generic.Date

	cron *cron.Cron
}

// NewSweepScheduler creates a scheduler firing on spec in loc.
func NewSweepScheduler(sweeper *billing.Sweeper, spec string, loc *time.Location, log logrus.FieldLogger) (*SweepScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &SweepScheduler{
		Sweeper:  sweeper,
		Location: loc,
		Log:      log,
	}
	s.Today = func() generic.Date { return generic.Today(s.Location) }

	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.cron.Start()
	s.Log.WithField("timezone", s.Location.String()).Info("sweep scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.Log.Info("sweep scheduler stopped")
}

// RunNow sweeps for today and logs the outcome.
func (s *SweepScheduler) RunNow(ctx context.Context) (billing.SweepResult, error) {
	asOf := s.Today()
	result, err := s.Sweeper.Run(ctx, asOf)
	entry := s.Log.WithFields(logrus.Fields{
		"as_of":            asOf.String(),
		"selected":         result.Selected,
		"approved":         result.Approved,
		"pending_approval": result.PendingApproval,
	})
	if err != nil {
		entry.WithError(err).Error("scheduled sweep incomplete")
		return result, err
	}
	entry.Info("scheduled sweep completed")
	return result, nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	return fields
}
