package models

import "time"

// Status is the lifecycle state of a report.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAssigned Status = "assigned"
	StatusFake     Status = "fake"
	StatusInvalid  Status = "invalid"
	StatusNoWaste  Status = "no_waste"
	StatusCleaned  Status = "cleaned"
	StatusVerified Status = "verified"
	StatusAIError  Status = "ai_error"
)

// Classification values persisted on a report.
const (
	ClassificationDry     = "dry"
	ClassificationWet     = "wet"
	ClassificationMixed   = "mixed"
	ClassificationNone    = "none"
	ClassificationUnknown = "unknown"
)

// DefaultPriority applies to reports without a severity.
const DefaultPriority = 3

type Location struct {
	Lat       float64    `json:"lat" firestore:"lat"`
	Lng       float64    `json:"lng" firestore:"lng"`
	Address   string     `json:"address,omitempty" firestore:"address,omitempty"`
	Accuracy  *float64   `json:"accuracy,omitempty" firestore:"accuracy,omitempty"`   // meters
	Timestamp *time.Time `json:"timestamp,omitempty" firestore:"timestamp,omitempty"` // GPS fix time
}

type HistoryEntry struct {
	ID     string    `json:"id" firestore:"id"`
	Status Status    `json:"status" firestore:"status"`
	Time   time.Time `json:"time" firestore:"time"`
	Note   string    `json:"note,omitempty" firestore:"note,omitempty"`
}

type LocationValidation struct {
	IsValid    bool      `json:"isValid" firestore:"isValid"`
	HasAddress bool      `json:"hasAddress" firestore:"hasAddress"`
	Suspicious bool      `json:"suspicious,omitempty" firestore:"suspicious,omitempty"`
	Timestamp  time.Time `json:"timestamp" firestore:"timestamp"`
}

// Report is one citizen waste sighting. Field names match the document
// layout the citizen, sweeper and admin consoles read.
type Report struct {
	ID          string    `json:"id" firestore:"-"`
	CitizenID   string    `json:"citizenId" firestore:"citizenId"`
	ImageBefore string    `json:"imageBefore" firestore:"imageBefore"`
	ImageAfter  string    `json:"imageAfter,omitempty" firestore:"imageAfter,omitempty"`
	Location    Location  `json:"location" firestore:"location"`
	Status      Status    `json:"status" firestore:"status"`
	CreatedAt   time.Time `json:"createdAt" firestore:"createdAt"`

	Classification string  `json:"classification,omitempty" firestore:"classification,omitempty"`
	WasteType      string  `json:"wasteType,omitempty" firestore:"wasteType,omitempty"`
	WasteAmount    string  `json:"wasteAmount,omitempty" firestore:"wasteAmount,omitempty"`
	Level          string  `json:"level,omitempty" firestore:"level,omitempty"`
	Priority       int     `json:"priority,omitempty" firestore:"priority,omitempty"`
	AIConfidence   float64 `json:"aiConfidence,omitempty" firestore:"aiConfidence,omitempty"`
	AIDescription  string  `json:"aiDescription,omitempty" firestore:"aiDescription,omitempty"`
	IsFake         bool    `json:"isFake,omitempty" firestore:"isFake,omitempty"`
	IsRealPhoto    bool    `json:"isRealPhoto,omitempty" firestore:"isRealPhoto,omitempty"`
	ImageValid     bool    `json:"imageValid,omitempty" firestore:"imageValid,omitempty"`
	WasteDetected  string  `json:"wasteDetected,omitempty" firestore:"wasteDetected,omitempty"`

	AIAnalysisDetails  map[string]interface{} `json:"aiAnalysisDetails,omitempty" firestore:"aiAnalysisDetails,omitempty"`
	LocationValidation *LocationValidation    `json:"locationValidation,omitempty" firestore:"locationValidation,omitempty"`
	AIAttempts         int                    `json:"aiAttempts,omitempty" firestore:"aiAttempts,omitempty"`
	AIError            string                 `json:"aiError,omitempty" firestore:"aiError,omitempty"`
	AIErrorAt          *time.Time             `json:"aiErrorAt,omitempty" firestore:"aiErrorAt,omitempty"`
	StuckAlertAt       *time.Time             `json:"stuckAlertAt,omitempty" firestore:"stuckAlertAt,omitempty"`
	PipelineError      string                 `json:"pipelineError,omitempty" firestore:"pipelineError,omitempty"`
	PipelineErrorAt    *time.Time             `json:"pipelineErrorAt,omitempty" firestore:"pipelineErrorAt,omitempty"`

	AssignedSweeper string `json:"assignedSweeper,omitempty" firestore:"assignedSweeper,omitempty"`

	CleaningQuality         string     `json:"cleaningQuality,omitempty" firestore:"cleaningQuality,omitempty"`
	CleanlinessLevel        string     `json:"cleanlinessLevel,omitempty" firestore:"cleanlinessLevel,omitempty"`
	AfterIsCleaner          *bool      `json:"afterIsCleaner,omitempty" firestore:"afterIsCleaner,omitempty"`
	Suspicious              bool       `json:"suspicious,omitempty" firestore:"suspicious,omitempty"`
	SuspiciousReason        string     `json:"suspiciousReason,omitempty" firestore:"suspiciousReason,omitempty"`
	AIComparisonConfidence  float64    `json:"aiComparisonConfidence,omitempty" firestore:"aiComparisonConfidence,omitempty"`
	AIComparisonDescription string     `json:"aiComparisonDescription,omitempty" firestore:"aiComparisonDescription,omitempty"`
	AIComparisonError       string     `json:"aiComparisonError,omitempty" firestore:"aiComparisonError,omitempty"`
	AIComparisonErrorAt     *time.Time `json:"aiComparisonErrorAt,omitempty" firestore:"aiComparisonErrorAt,omitempty"`
	VerificationAttempts    int        `json:"verificationAttempts,omitempty" firestore:"verificationAttempts,omitempty"`

	AIAnalyzedAt *time.Time `json:"aiAnalyzedAt,omitempty" firestore:"aiAnalyzedAt,omitempty"`
	AssignedAt   *time.Time `json:"assignedAt,omitempty" firestore:"assignedAt,omitempty"`
	CleanedAt    *time.Time `json:"cleanedAt,omitempty" firestore:"cleanedAt,omitempty"`
	VerifiedAt   *time.Time `json:"verifiedAt,omitempty" firestore:"verifiedAt,omitempty"`

	RewardMilestones []string       `json:"rewardMilestones,omitempty" firestore:"rewardMilestones,omitempty"`
	History          []HistoryEntry `json:"history,omitempty" firestore:"history,omitempty"`
}

// EffectivePriority treats an unset priority as the lowest urgency.
func (r *Report) EffectivePriority() int {
	if r.Priority < 1 || r.Priority > DefaultPriority {
		return DefaultPriority
	}
	return r.Priority
}

// HasMilestone reports whether a reward milestone was already paid out.
func (r *Report) HasMilestone(milestone string) bool {
	for _, m := range r.RewardMilestones {
		if m == milestone {
			return true
		}
	}
	return false
}
