package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/dedup"
	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/oracle"
)

// Judge asks the image oracle for a validated judgement.
type Judge interface {
	JudgeIntake(ctx context.Context, ref string) (oracle.IntakeJudgement, error)
	JudgeComparison(ctx context.Context, beforeRef, afterRef string) (oracle.ComparisonJudgement, error)
}

// Notifier is told about every persisted transition. Implementations handle
// their own failures.
type Notifier interface {
	ReportChanged(ctx context.Context, report *models.Report)
}

// MultiNotifier fans a change out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) ReportChanged(ctx context.Context, report *models.Report) {
	for _, n := range m {
		n.ReportChanged(ctx, report)
	}
}

// Geocoder resolves a street address for an accepted report.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// MetadataReader reads custom object metadata when the event omitted it.
type MetadataReader interface {
	Metadata(ctx context.Context, bucket, object string) (map[string]string, error)
}

// Outcome is what happened to one trigger.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"   // not a before/after photo
	OutcomeDuplicate Outcome = "duplicate" // delivery already claimed
	OutcomeUnmatched Outcome = "unmatched" // no owning report
	OutcomeSkipped   Outcome = "skipped"   // report already past this stage
	OutcomeApplied   Outcome = "applied"
	OutcomeFailed    Outcome = "failed" // recorded on the report, retrying won't help
	OutcomeRetry     Outcome = "retry"  // transient, redelivery may succeed
)

type Result struct {
	Outcome  Outcome
	ReportID string
	Status   models.Status
	Err      error
}

// Retryable reports whether the event source should redeliver.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomeRetry
}

// Orchestrator binds finalize events to reports and runs intake or cleanup
// verification on them. It is the error boundary of the pipeline: every
// failure ends as a diagnostic on the report or a logged no-op.
type Orchestrator struct {
	store          database.ReportStore
	judge          Judge
	guard          dedup.Guard
	notifier       Notifier
	geocoder       Geocoder
	metadata       MetadataReader
	legacyFallback bool
	now            func() time.Time
	logger         *logrus.Logger
}

type Option func(*Orchestrator)

func WithGuard(g dedup.Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithGeocoder(g Geocoder) Option {
	return func(o *Orchestrator) { o.geocoder = g }
}

func WithMetadataReader(m MetadataReader) Option {
	return func(o *Orchestrator) { o.metadata = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLegacyFallback toggles the filename/timestamp scan used when no exact
// reference matches.
func WithLegacyFallback(enabled bool) Option {
	return func(o *Orchestrator) { o.legacyFallback = enabled }
}

func New(store database.ReportStore, judge Judge, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		judge:          judge,
		legacyFallback: true,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleFinalize processes one storage finalize event.
func (o *Orchestrator) HandleFinalize(ctx context.Context, ev models.FinalizeEvent) (res Result) {
	log := o.logger.WithFields(logrus.Fields{
		"component": "pipeline",
		"bucket":    ev.Bucket,
		"path":      ev.Name,
		"event_id":  ev.ID,
	})

	kind := ClassifyObject(ev.Name)
	if kind == KindOther {
		log.Debug("ignoring object that is not a report photo")
		return Result{Outcome: OutcomeIgnored}
	}

	if o.guard != nil {
		key := ev.DedupKey()
		claimed, err := o.guard.Claim(ctx, key)
		switch {
		case err != nil:
			log.WithError(err).Warn("dedup guard unavailable, processing anyway")
		case !claimed:
			log.Info("duplicate delivery, already processed")
			return Result{Outcome: OutcomeDuplicate}
		default:
			defer func() {
				if !res.Retryable() {
					return
				}
				if err := o.guard.Release(context.WithoutCancel(ctx), key); err != nil {
					log.WithError(err).Warn("could not release dedup claim")
				}
			}()
		}
	}

	var report *models.Report
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("pipeline: panic while processing %s: %v", ev.Name, p)
			log.WithError(err).Error("recovered from panic")
			res = Result{Outcome: OutcomeFailed, Err: err}
			if report != nil {
				res.ReportID = report.ID
				o.markPipelineError(ctx, log, report.ID, err)
			}
		}
	}()

	report, method, err := o.correlate(ctx, ev, kind)
	if err != nil {
		if errors.Is(err, ErrCorrelationMiss) {
			log.Warn("no report matches the uploaded object, dropping event")
			return Result{Outcome: OutcomeUnmatched, Err: err}
		}
		log.WithError(err).Error("report lookup failed")
		return Result{Outcome: OutcomeRetry, Err: err}
	}

	log = log.WithFields(logrus.Fields{"report_id": report.ID, "matched_by": method, "kind": kind.String()})
	log.Info("finalize event matched to report")

	if kind == KindBefore {
		return o.processIntake(ctx, log, report, ev.GSURI())
	}
	return o.processCleanup(ctx, log, report, ev.GSURI())
}

// Reanalyze reruns intake on a report's stored before photo. Used by the
// rescanner and the operator API.
func (o *Orchestrator) Reanalyze(ctx context.Context, id string) Result {
	log := o.logger.WithFields(logrus.Fields{"component": "pipeline", "report_id": id})

	report, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Result{Outcome: OutcomeUnmatched, ReportID: id, Err: err}
		}
		return Result{Outcome: OutcomeRetry, ReportID: id, Err: err}
	}
	if report.ImageBefore == "" {
		return Result{Outcome: OutcomeFailed, ReportID: id, Status: report.Status,
			Err: fmt.Errorf("pipeline: report %s has no before photo", id)}
	}
	log.Info("re-running intake analysis")
	return o.processIntake(ctx, log, report, report.ImageBefore)
}

func (o *Orchestrator) processIntake(ctx context.Context, log *logrus.Entry, report *models.Report, ref string) Result {
	if !intakeEligible(report.Status) {
		log.WithField("status", report.Status).Info("report already decided, skipping intake")
		return Result{Outcome: OutcomeSkipped, ReportID: report.ID, Status: report.Status}
	}

	judgement, err := o.judge.JudgeIntake(ctx, ref)
	if err != nil {
		return o.failIntake(ctx, log, report, err)
	}
	log.WithFields(logrus.Fields{
		"waste_detected": judgement.WasteDetected,
		"severity":       judgement.Severity,
		"confidence":     judgement.Confidence,
		"is_fake":        judgement.IsFake,
	}).Debug("intake judgement received")

	now := o.now()
	var intended []database.Award
	updated, applied, err := o.store.RunTransition(ctx, report.ID, func(cur *models.Report) (*database.Transition, error) {
		if !intakeEligible(cur.Status) {
			return nil, nil
		}
		t, err := IntakeTransition(cur, judgement, now)
		if t != nil {
			intended = t.Awards
		}
		return t, err
	})
	if err != nil {
		return o.transitionFailed(ctx, log, report.ID, intended, err)
	}
	if !applied {
		log.WithField("status", updated.Status).Info("report decided concurrently, skipping intake")
		return Result{Outcome: OutcomeSkipped, ReportID: report.ID, Status: updated.Status}
	}

	log.WithField("status", updated.Status).Info("intake decided")
	o.notify(ctx, updated)
	if updated.Status == models.StatusAssigned {
		o.fillAddress(ctx, log, updated)
	}
	return Result{Outcome: OutcomeApplied, ReportID: report.ID, Status: updated.Status}
}

func (o *Orchestrator) failIntake(ctx context.Context, log *logrus.Entry, report *models.Report, cause error) Result {
	log.WithError(cause).Warn("intake analysis failed")

	now := o.now()
	updated, applied, err := o.store.RunTransition(ctx, report.ID, func(cur *models.Report) (*database.Transition, error) {
		return IntakeErrorTransition(cur, cause, now), nil
	})
	if err != nil {
		return o.transitionFailed(ctx, log, report.ID, nil, err)
	}
	if applied {
		o.notify(ctx, updated)
	}
	return o.oracleFailure(report.ID, updated.Status, cause)
}

func (o *Orchestrator) processCleanup(ctx context.Context, log *logrus.Entry, report *models.Report, afterRef string) Result {
	if !cleanupEligible(report.Status) {
		log.WithField("status", report.Status).Info("report not awaiting cleanup, skipping")
		return Result{Outcome: OutcomeSkipped, ReportID: report.ID, Status: report.Status}
	}
	if report.ImageBefore == "" {
		return o.failCleanup(ctx, log, report, afterRef,
			&oracle.ReferenceResolutionError{Ref: "", Reason: "report has no before photo"})
	}

	judgement, err := o.judge.JudgeComparison(ctx, report.ImageBefore, afterRef)
	if err != nil {
		return o.failCleanup(ctx, log, report, afterRef, err)
	}

	now := o.now()
	var intended []database.Award
	updated, applied, err := o.store.RunTransition(ctx, report.ID, func(cur *models.Report) (*database.Transition, error) {
		if !cleanupEligible(cur.Status) {
			return nil, nil
		}
		t, err := CleanupTransition(cur, judgement, afterRef, now)
		if t != nil {
			intended = t.Awards
		}
		return t, err
	})
	if err != nil {
		return o.transitionFailed(ctx, log, report.ID, intended, err)
	}
	if !applied {
		log.WithField("status", updated.Status).Info("report verified concurrently, skipping")
		return Result{Outcome: OutcomeSkipped, ReportID: report.ID, Status: updated.Status}
	}

	log.WithFields(logrus.Fields{
		"status":     updated.Status,
		"suspicious": judgement.Suspicious,
	}).Info("cleanup decided")
	o.notify(ctx, updated)
	return Result{Outcome: OutcomeApplied, ReportID: report.ID, Status: updated.Status}
}

func (o *Orchestrator) failCleanup(ctx context.Context, log *logrus.Entry, report *models.Report, afterRef string, cause error) Result {
	log.WithError(cause).Warn("cleanup comparison failed")

	now := o.now()
	updated, applied, err := o.store.RunTransition(ctx, report.ID, func(cur *models.Report) (*database.Transition, error) {
		return CleanupErrorTransition(cur, cause, afterRef, now), nil
	})
	if err != nil {
		return o.transitionFailed(ctx, log, report.ID, nil, err)
	}
	if applied {
		o.notify(ctx, updated)
	}
	return o.oracleFailure(report.ID, updated.Status, cause)
}

func (o *Orchestrator) oracleFailure(reportID string, status models.Status, cause error) Result {
	res := Result{Outcome: OutcomeFailed, ReportID: reportID, Status: status, Err: cause}
	if oracle.IsRetryable(cause) {
		res.Outcome = OutcomeRetry
	}
	return res
}

// transitionFailed handles a decided transition that could not be written.
// Nothing was applied; the intended awards are logged for reconciliation.
func (o *Orchestrator) transitionFailed(ctx context.Context, log *logrus.Entry, reportID string, intended []database.Award, err error) Result {
	if errors.Is(err, ErrIllegalTransition) {
		log.WithError(err).Error("refusing illegal status transition")
		return Result{Outcome: OutcomeFailed, ReportID: reportID, Err: err}
	}

	lerr := &LedgerUpdateError{ReportID: reportID, Err: err}
	entry := log.WithError(lerr)
	for _, a := range intended {
		entry = entry.WithField("award_"+a.Milestone, fmt.Sprintf("%s:+%d", a.AccountID, a.Points))
	}
	entry.Error("transition not persisted, rewards need reconciliation")

	o.markPipelineError(ctx, log, reportID, lerr)
	return Result{Outcome: OutcomeRetry, ReportID: reportID, Err: lerr}
}

func (o *Orchestrator) markPipelineError(ctx context.Context, log *logrus.Entry, reportID string, cause error) {
	err := o.store.Update(context.WithoutCancel(ctx), reportID, database.Update{Fields: map[string]interface{}{
		"pipelineError":   cause.Error(),
		"pipelineErrorAt": o.now(),
	}})
	if err != nil {
		log.WithError(err).Warn("could not record pipeline error on report")
	}
}

func (o *Orchestrator) notify(ctx context.Context, report *models.Report) {
	if o.notifier != nil {
		o.notifier.ReportChanged(ctx, report)
	}
}

// fillAddress merges a reverse-geocoded address into an accepted report.
// Best effort; the address never feeds a decision.
func (o *Orchestrator) fillAddress(ctx context.Context, log *logrus.Entry, report *models.Report) {
	if o.geocoder == nil || report.Location.Address != "" {
		return
	}
	if !validCoordinates(report.Location.Lat, report.Location.Lng) {
		return
	}
	address, err := o.geocoder.ReverseGeocode(ctx, report.Location.Lat, report.Location.Lng)
	if err != nil || address == "" {
		log.WithError(err).Debug("reverse geocoding skipped")
		return
	}
	err = o.store.Update(ctx, report.ID, database.Update{Fields: map[string]interface{}{
		"location.address":              address,
		"locationValidation.hasAddress": true,
	}})
	if err != nil {
		log.WithError(err).Warn("could not store reverse-geocoded address")
		return
	}
	report.Location.Address = address
}
