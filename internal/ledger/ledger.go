package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/models"
)

// Reward milestones. Each is paid at most once per report.
const (
	MilestoneIntakeAccepted         = "intake_accepted"
	MilestoneCleanupVerifiedCitizen = "cleanup_verified_citizen"
	MilestoneCleanupVerifiedSweeper = "cleanup_verified_sweeper"
)

const (
	// IntakeRewardPoints is paid to the citizen when a report becomes dispatchable.
	IntakeRewardPoints = 2
	// VerificationRewardPoints is paid to citizen and sweeper on verified cleanup.
	VerificationRewardPoints = 2
)

// IntakeAwards are released when a report enters assigned.
func IntakeAwards(r *models.Report) []database.Award {
	return []database.Award{{
		AccountID: r.CitizenID,
		Milestone: MilestoneIntakeAccepted,
		Points:    IntakeRewardPoints,
	}}
}

// VerificationAwards are released when a report enters verified. A report
// without an assigned sweeper only pays the citizen.
func VerificationAwards(r *models.Report) []database.Award {
	awards := []database.Award{{
		AccountID: r.CitizenID,
		Milestone: MilestoneCleanupVerifiedCitizen,
		Points:    VerificationRewardPoints,
	}}
	if r.AssignedSweeper != "" {
		awards = append(awards, database.Award{
			AccountID: r.AssignedSweeper,
			Milestone: MilestoneCleanupVerifiedSweeper,
			Points:    VerificationRewardPoints,
			Counters:  map[string]int{database.CounterTotalCleaned: 1},
		})
	}
	return awards
}

// Accounts is the narrow account contract of the ledger.
type Accounts interface {
	IncrementAccount(ctx context.Context, accountID string, deltas map[string]int) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
}

// Ledger credits points outside a report transition: manual reconciliation
// after a LedgerUpdateError.
type Ledger struct {
	accounts Accounts
	logger   *logrus.Logger
}

func New(accounts Accounts, logger *logrus.Logger) *Ledger {
	return &Ledger{accounts: accounts, logger: logger}
}

// Award atomically adds points to an account, creating it when missing.
func (l *Ledger) Award(ctx context.Context, accountID string, points int) error {
	if accountID == "" {
		return fmt.Errorf("ledger: account id is required")
	}
	if points <= 0 {
		return fmt.Errorf("ledger: points must be positive, got %d", points)
	}

	if err := l.accounts.IncrementAccount(ctx, accountID, map[string]int{database.CounterPoints: points}); err != nil {
		return fmt.Errorf("ledger: could not award %d points to %s: %w", points, accountID, err)
	}

	l.logger.WithFields(logrus.Fields{
		"component":  "ledger",
		"account_id": accountID,
		"points":     points,
	}).Info("points awarded")
	return nil
}

// Balance returns the account counters.
func (l *Ledger) Balance(ctx context.Context, accountID string) (*models.Account, error) {
	return l.accounts.GetAccount(ctx, accountID)
}
