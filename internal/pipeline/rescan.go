package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/models"
)

const rescanBatch = 100

// Alerter is told once about a report that exhausted its analysis attempts.
type Alerter interface {
	ReportStuck(ctx context.Context, report *models.Report)
}

// Reanalyzer reruns intake on a stored report.
type Reanalyzer interface {
	Reanalyze(ctx context.Context, id string) Result
}

// Rescanner periodically re-runs intake on reports left in pending or
// ai_error, and raises an alert once a report runs out of attempts.
type Rescanner struct {
	store       database.ReportStore
	reanalyzer  Reanalyzer
	alerter     Alerter
	interval    time.Duration
	stuckAfter  time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *logrus.Logger
}

func NewRescanner(store database.ReportStore, reanalyzer Reanalyzer, alerter Alerter, interval, stuckAfter time.Duration, maxAttempts int, logger *logrus.Logger) *Rescanner {
	return &Rescanner{
		store:       store,
		reanalyzer:  reanalyzer,
		alerter:     alerter,
		interval:    interval,
		stuckAfter:  stuckAfter,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// Run scans every interval until ctx is cancelled.
func (r *Rescanner) Run(ctx context.Context) {
	log := r.logger.WithField("component", "rescanner")
	log.WithField("interval", r.interval.String()).Info("🔁 Pending report rescanner started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Pending report rescanner stopped")
			return
		case <-ticker.C:
			if _, err := r.Scan(ctx); err != nil {
				log.WithError(err).Warn("rescan failed")
			}
		}
	}
}

// Scan alerts on reports that ran out of attempts and re-analyzes one batch of
// the stale reports that still have attempts left. It returns how many were
// re-analyzed.
func (r *Rescanner) Scan(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.stuckAfter)
	open := []models.Status{models.StatusPending, models.StatusAIError}

	exhausted, err := r.store.Find(ctx, database.Filter{
		Statuses:        open,
		CreatedBefore:   cutoff,
		AttemptsAtLeast: r.maxAttempts,
		Unalerted:       true,
		OldestFirst:     true,
		Limit:           rescanBatch,
	})
	if err != nil {
		return 0, err
	}
	for _, report := range exhausted {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.raiseStuck(ctx, r.reportLog(report), report, now)
	}

	stale, err := r.store.Find(ctx, database.Filter{
		Statuses:       open,
		CreatedBefore:  cutoff,
		AttemptsBelow:  r.maxAttempts,
		AnalyzedBefore: cutoff,
		OldestFirst:    true,
		Limit:          rescanBatch,
	})
	if err != nil {
		return 0, err
	}

	reanalyzed := 0
	for _, report := range stale {
		if ctx.Err() != nil {
			return reanalyzed, ctx.Err()
		}
		res := r.reanalyzer.Reanalyze(ctx, report.ID)
		r.reportLog(report).WithFields(logrus.Fields{"outcome": res.Outcome, "new_status": res.Status}).Info("stale report re-analyzed")
		reanalyzed++
	}
	return reanalyzed, nil
}

func (r *Rescanner) reportLog(report *models.Report) *logrus.Entry {
	return r.logger.WithFields(logrus.Fields{
		"component": "rescanner",
		"report_id": report.ID,
		"status":    report.Status,
		"attempts":  report.AIAttempts,
	})
}

func (r *Rescanner) raiseStuck(ctx context.Context, log *logrus.Entry, report *models.Report, now time.Time) {
	if report.StuckAlertAt != nil {
		return
	}
	err := r.store.Update(ctx, report.ID, database.Update{Fields: map[string]interface{}{"stuckAlertAt": now}})
	if err != nil {
		log.WithError(err).Warn("could not flag stuck report")
		return
	}
	report.StuckAlertAt = &now
	log.Warn("report exhausted analysis attempts, alerting admins")
	if r.alerter != nil {
		r.alerter.ReportStuck(ctx, report)
	}
}
