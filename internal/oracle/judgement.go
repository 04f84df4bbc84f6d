package oracle

// Severity levels the intake judgement may report.
const (
	SeverityRed    = "red"
	SeverityYellow = "yellow"
	SeverityGreen  = "green"
	SeverityNone   = "none"
)

// CleanlinessNotClean is the only cleanliness level that blocks verification
// on its own.
const CleanlinessNotClean = "not clean"

// IntakeJudgement is the normalized answer for a single before photo.
type IntakeJudgement struct {
	ImageValid     bool    `json:"imageValid"`
	IsRealPhoto    bool    `json:"isRealPhoto"`
	WasteDetected  string  `json:"wasteDetected"` // "yes" or "no"
	WasteType      string  `json:"wasteType"`
	WasteAmount    string  `json:"wasteAmount"`
	Classification string  `json:"classification"` // dry, wet, mixed, none or unknown
	Severity       string  `json:"severity"`
	IsFake         bool    `json:"isFake"`
	Confidence     float64 `json:"confidence"`
	Description    string  `json:"description"`
}

// ComparisonJudgement is the normalized answer for a before/after pair.
// Pointer fields distinguish an explicit false from an absent answer.
type ComparisonJudgement struct {
	SameLocation     bool    `json:"sameLocation"`
	Cleaned          bool    `json:"cleaned"`
	CleanlinessLevel string  `json:"cleanlinessLevel"`
	RemainingWaste   *bool   `json:"remainingWaste"`
	CleaningQuality  string  `json:"cleaningQuality"`
	AfterIsCleaner   *bool   `json:"afterIsCleaner"`
	Suspicious       bool    `json:"suspicious"`
	SuspiciousReason string  `json:"suspiciousReason"`
	Confidence       float64 `json:"confidence"`
	Description      string  `json:"description"`
}
