package pipeline

import (
	"fmt"
	"time"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/geo"
	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/oracle"
)

// ConfidenceThreshold is the confidence a clean intake judgement must exceed
// before a report becomes dispatchable.
const ConfidenceThreshold = 0.6

// DecideIntake applies the acceptance rules in order; the first match wins.
func DecideIntake(j oracle.IntakeJudgement) models.Status {
	switch {
	case j.IsFake:
		return models.StatusFake
	case !j.ImageValid || !j.IsRealPhoto:
		return models.StatusInvalid
	case j.WasteDetected != "yes":
		return models.StatusNoWaste
	case j.Confidence > ConfidenceThreshold:
		return models.StatusAssigned
	default:
		return models.StatusPending
	}
}

// PriorityFor maps severity to dispatch priority; 1 is most urgent.
func PriorityFor(severity string) int {
	switch severity {
	case oracle.SeverityRed:
		return 1
	case oracle.SeverityYellow:
		return 2
	default:
		return models.DefaultPriority
	}
}

// IntakeTransition records a judgement on a pending report. Audit fields are
// written for every outcome; the citizen award is released only on assigned.
func IntakeTransition(r *models.Report, j oracle.IntakeJudgement, now time.Time) (*database.Transition, error) {
	next := DecideIntake(j)
	if err := checkTransition(r.Status, next); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"status":         next,
		"wasteDetected":  j.WasteDetected,
		"wasteType":      j.WasteType,
		"wasteAmount":    j.WasteAmount,
		"classification": j.Classification,
		"level":          j.Severity,
		"priority":       PriorityFor(j.Severity),
		"aiConfidence":   j.Confidence,
		"aiDescription":  j.Description,
		"imageValid":     j.ImageValid,
		"isRealPhoto":    j.IsRealPhoto,
		"isFake":         j.IsFake,
		"aiAnalyzedAt":   now,
		"aiAttempts":     r.AIAttempts + 1,
		"aiError":        nil,
		"aiErrorAt":      nil,
		"aiAnalysisDetails": map[string]interface{}{
			"wasteType":      j.WasteType,
			"wasteAmount":    j.WasteAmount,
			"classification": j.Classification,
			"severity":       j.Severity,
			"confidence":     j.Confidence,
			"description":    j.Description,
		},
		"locationValidation": validateLocation(r, now),
	}

	t := &database.Transition{Update: database.Update{Fields: fields}}
	if next != r.Status {
		t.History = &models.HistoryEntry{Status: next, Time: now, Note: intakeNote(next, j)}
	}
	if next == models.StatusAssigned {
		if r.AssignedAt == nil {
			fields["assignedAt"] = now
		}
		t.Awards = ledger.IntakeAwards(r)
	}
	return t, nil
}

// IntakeErrorTransition flags a report whose judgement could not be obtained.
// Only undecided reports are flagged; anything else is left alone.
func IntakeErrorTransition(r *models.Report, cause error, now time.Time) *database.Transition {
	if !intakeEligible(r.Status) {
		return nil
	}
	t := &database.Transition{Update: database.Update{Fields: map[string]interface{}{
		"status":     models.StatusAIError,
		"aiError":    cause.Error(),
		"aiErrorAt":  now,
		"aiAttempts": r.AIAttempts + 1,
	}}}
	if r.Status != models.StatusAIError {
		t.History = &models.HistoryEntry{Status: models.StatusAIError, Time: now, Note: "AI analysis failed"}
	}
	return t
}

func validateLocation(r *models.Report, now time.Time) models.LocationValidation {
	v := models.LocationValidation{
		IsValid:    validCoordinates(r.Location.Lat, r.Location.Lng),
		HasAddress: r.Location.Address != "",
		Timestamp:  now,
	}
	if r.Location.Timestamp != nil && r.Location.Accuracy != nil {
		v.Suspicious = geo.IsLocationSuspicious(r.CreatedAt, *r.Location.Timestamp, *r.Location.Accuracy)
	}
	return v
}

func validCoordinates(lat, lng float64) bool {
	if lat == 0 && lng == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func intakeNote(next models.Status, j oracle.IntakeJudgement) string {
	switch next {
	case models.StatusAssigned:
		return fmt.Sprintf("AI accepted: %s waste, severity %s, confidence %.2f", j.Classification, j.Severity, j.Confidence)
	case models.StatusFake:
		return "AI rejected: image flagged as fake"
	case models.StatusInvalid:
		return "AI rejected: not a genuine photo"
	case models.StatusNoWaste:
		return "AI rejected: no waste detected"
	default:
		return fmt.Sprintf("AI confidence %.2f below threshold, awaiting re-evaluation", j.Confidence)
	}
}
