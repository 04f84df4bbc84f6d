package pipeline

import (
	"strings"
	"time"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/oracle"
)

const (
	defaultCleaningQuality  = "good"
	defaultCleanlinessLevel = "mostly clean"
)

// IsCleanupVerified holds only when every check passes. An absent
// remainingWaste answer counts as a failure; an absent afterIsCleaner does not.
func IsCleanupVerified(c oracle.ComparisonJudgement) bool {
	return len(failedChecks(c)) == 0
}

func failedChecks(c oracle.ComparisonJudgement) []string {
	var failed []string
	if !c.SameLocation {
		failed = append(failed, "different location")
	}
	if !c.Cleaned {
		failed = append(failed, "not cleaned")
	}
	if c.CleanlinessLevel == oracle.CleanlinessNotClean {
		failed = append(failed, "area not clean")
	}
	// an omitted remainingWaste counts as waste remaining
	if c.RemainingWaste == nil || *c.RemainingWaste {
		failed = append(failed, "waste remaining")
	}
	if c.AfterIsCleaner != nil && !*c.AfterIsCleaner {
		failed = append(failed, "after photo not cleaner")
	}
	if c.Suspicious {
		failed = append(failed, "suspicious submission")
	}
	return failed
}

// CleanupTransition records a comparison on a dispatched report. A verified
// cleanup pays citizen and sweeper; a failed one parks the report in cleaned
// so the sweeper can resubmit.
func CleanupTransition(r *models.Report, c oracle.ComparisonJudgement, afterRef string, now time.Time) (*database.Transition, error) {
	verified := IsCleanupVerified(c)
	next := models.StatusCleaned
	if verified {
		next = models.StatusVerified
	}
	if err := checkTransition(r.Status, next); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"status":                  next,
		"aiComparisonConfidence":  c.Confidence,
		"aiComparisonDescription": c.Description,
		"suspicious":              c.Suspicious,
		"suspiciousReason":        c.SuspiciousReason,
		"aiComparisonError":       nil,
		"aiComparisonErrorAt":     nil,
		"verificationAttempts":    r.VerificationAttempts + 1,
	}
	if c.AfterIsCleaner != nil {
		fields["afterIsCleaner"] = *c.AfterIsCleaner
	}
	markAfterPhoto(fields, r, afterRef, now)

	t := &database.Transition{Update: database.Update{Fields: fields}}
	if !verified {
		if c.CleaningQuality != "" {
			fields["cleaningQuality"] = c.CleaningQuality
		}
		if c.CleanlinessLevel != "" {
			fields["cleanlinessLevel"] = c.CleanlinessLevel
		}
		if r.Status != next {
			t.History = &models.HistoryEntry{
				Status: next,
				Time:   now,
				Note:   "cleanup not verified: " + strings.Join(failedChecks(c), ", "),
			}
		}
		return t, nil
	}

	fields["cleaningQuality"] = valueOr(c.CleaningQuality, defaultCleaningQuality)
	fields["cleanlinessLevel"] = valueOr(c.CleanlinessLevel, defaultCleanlinessLevel)
	fields["verifiedAt"] = now
	t.History = &models.HistoryEntry{Status: next, Time: now, Note: "cleanup verified by AI"}
	t.Awards = ledger.VerificationAwards(r)
	return t, nil
}

// CleanupErrorTransition records a comparison that could not be obtained. The
// after photo is kept so the rescan or the sweeper can retry it.
func CleanupErrorTransition(r *models.Report, cause error, afterRef string, now time.Time) *database.Transition {
	if !cleanupEligible(r.Status) {
		return nil
	}
	fields := map[string]interface{}{
		"aiComparisonError":   cause.Error(),
		"aiComparisonErrorAt": now,
	}
	markAfterPhoto(fields, r, afterRef, now)

	t := &database.Transition{Update: database.Update{Fields: fields}}
	if r.Status == models.StatusAssigned {
		fields["status"] = models.StatusCleaned
		t.History = &models.HistoryEntry{Status: models.StatusCleaned, Time: now, Note: "AI comparison failed"}
	}
	return t
}

func markAfterPhoto(fields map[string]interface{}, r *models.Report, afterRef string, now time.Time) {
	if r.ImageAfter == "" && afterRef != "" {
		fields["imageAfter"] = afterRef
	}
	if r.CleanedAt == nil {
		fields["cleanedAt"] = now
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
