package database

import (
	"context"
	"errors"
	"time"

	"wastewatch-backend/internal/models"
)

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = errors.New("database: report not found")

// Filter narrows a report query. Empty fields do not constrain.
type Filter struct {
	Statuses          []models.Status
	ImageBefore       string
	ImageAfter        string
	ImageBeforePrefix string
	ImageAfterPrefix  string
	CreatedAfter      time.Time
	CreatedBefore     time.Time
	// AttemptsBelow keeps reports with fewer intake attempts; AttemptsAtLeast
	// keeps reports with at least that many.
	AttemptsBelow   int
	AttemptsAtLeast int
	// AnalyzedBefore keeps reports never analyzed or last analyzed before it.
	AnalyzedBefore time.Time
	// Unalerted keeps reports without stuckAlertAt.
	Unalerted bool
	// OldestFirst sorts by createdAt ascending; the default is newest first.
	OldestFirst bool
	Limit       int
}

// Update is a partial write to one report. Keys of Fields are document field
// paths ("status", "location.address"); History, when set, is appended
// atomically and never rewrites earlier entries.
type Update struct {
	Fields  map[string]interface{}
	History *models.HistoryEntry
}

// Award credits one account for one reward milestone of a report.
type Award struct {
	AccountID string
	Milestone string
	Points    int
	// Counters are extra account counters to bump, e.g. "totalCleaned".
	Counters map[string]int
}

// Transition is everything a state change writes in one unit: the report
// update and the awards it releases.
type Transition struct {
	Update
	Awards []Award
}

// TransitionFunc inspects the report as read inside the transaction and
// returns the transition to apply, or nil to leave the report untouched.
type TransitionFunc func(report *models.Report) (*Transition, error)

// ReportStore is the document-database contract of the pipeline.
type ReportStore interface {
	Get(ctx context.Context, id string) (*models.Report, error)
	Find(ctx context.Context, filter Filter) ([]*models.Report, error)
	Update(ctx context.Context, id string, update Update) error
	// RunTransition reads the report, calls fn and writes the result
	// atomically. Awards whose milestone is already recorded on the report are
	// skipped and the remaining ones are recorded in rewardMilestones. The
	// returned report reflects the committed state; applied is false when fn
	// returned nil.
	RunTransition(ctx context.Context, id string, fn TransitionFunc) (report *models.Report, applied bool, err error)
	// IncrementAccount atomically adds deltas to account counters, creating
	// the account when missing. "points" also refreshes lastPointsUpdate.
	IncrementAccount(ctx context.Context, accountID string, deltas map[string]int) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// Account counter fields that IncrementAccount accepts.
const (
	CounterPoints       = "points"
	CounterTotalReports = "totalReports"
	CounterTotalCleaned = "totalCleaned"
)

func validCounter(field string) bool {
	switch field {
	case CounterPoints, CounterTotalReports, CounterTotalCleaned:
		return true
	}
	return false
}

// pendingAwards drops awards already recorded on the report and duplicates
// within the same transition.
func pendingAwards(report *models.Report, awards []Award) []Award {
	seen := make(map[string]bool, len(awards))
	out := make([]Award, 0, len(awards))
	for _, a := range awards {
		if a.AccountID == "" || report.HasMilestone(a.Milestone) || seen[a.Milestone] {
			continue
		}
		seen[a.Milestone] = true
		out = append(out, a)
	}
	return out
}

func awardDeltas(a Award) map[string]int {
	deltas := map[string]int{CounterPoints: a.Points}
	for k, v := range a.Counters {
		deltas[k] += v
	}
	return deltas
}
