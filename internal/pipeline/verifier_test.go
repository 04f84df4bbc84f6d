package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/ledger"
	"wastewatch-backend/internal/models"
	"wastewatch-backend/internal/oracle"
)

func boolPtr(b bool) *bool { return &b }

func cleanJudgement() oracle.ComparisonJudgement {
	return oracle.ComparisonJudgement{
		SameLocation:     true,
		Cleaned:          true,
		CleanlinessLevel: "mostly clean",
		RemainingWaste:   boolPtr(false),
		AfterIsCleaner:   boolPtr(true),
		Confidence:       0.88,
	}
}

func TestIsCleanupVerified(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *oracle.ComparisonJudgement)
		want   bool
	}{
		{"clean", func(c *oracle.ComparisonJudgement) {}, true},
		{"afterIsCleaner absent", func(c *oracle.ComparisonJudgement) { c.AfterIsCleaner = nil }, true},
		{"suspicious", func(c *oracle.ComparisonJudgement) { c.Suspicious = true }, false},
		{"after not cleaner", func(c *oracle.ComparisonJudgement) { c.AfterIsCleaner = boolPtr(false) }, false},
		{"different location", func(c *oracle.ComparisonJudgement) { c.SameLocation = false }, false},
		{"not cleaned", func(c *oracle.ComparisonJudgement) { c.Cleaned = false }, false},
		{"not clean level", func(c *oracle.ComparisonJudgement) { c.CleanlinessLevel = oracle.CleanlinessNotClean }, false},
		{"remaining waste", func(c *oracle.ComparisonJudgement) { c.RemainingWaste = boolPtr(true) }, false},
		{"remaining waste absent", func(c *oracle.ComparisonJudgement) { c.RemainingWaste = nil }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cleanJudgement()
			tt.modify(&c)
			assert.Equal(t, tt.want, IsCleanupVerified(c))
		})
	}
}

func TestCleanupTransition_Verified(t *testing.T) {
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	r := &models.Report{ID: "r1", CitizenID: "citizen-1", AssignedSweeper: "sweeper-1", Status: models.StatusAssigned}

	tr, err := CleanupTransition(r, cleanJudgement(), "gs://b/reports/r1/1_after.jpg", now)
	require.NoError(t, err)

	assert.Equal(t, models.StatusVerified, tr.Fields["status"])
	assert.Equal(t, "good", tr.Fields["cleaningQuality"])
	assert.Equal(t, "mostly clean", tr.Fields["cleanlinessLevel"])
	assert.Equal(t, "gs://b/reports/r1/1_after.jpg", tr.Fields["imageAfter"])
	assert.Equal(t, now, tr.Fields["verifiedAt"])
	assert.Equal(t, now, tr.Fields["cleanedAt"])
	assert.Equal(t, true, tr.Fields["afterIsCleaner"])
	assert.Equal(t, 1, tr.Fields["verificationAttempts"])
	require.NotNil(t, tr.History)

	require.Len(t, tr.Awards, 2)
	assert.Equal(t, database.Award{AccountID: "citizen-1", Milestone: ledger.MilestoneCleanupVerifiedCitizen, Points: 2}, tr.Awards[0])
	assert.Equal(t, "sweeper-1", tr.Awards[1].AccountID)
	assert.Equal(t, 1, tr.Awards[1].Counters[database.CounterTotalCleaned])
}

func TestCleanupTransition_NotVerified(t *testing.T) {
	now := time.Now()
	c := cleanJudgement()
	c.Suspicious = true
	c.SuspiciousReason = "different angle"

	r := &models.Report{ID: "r1", CitizenID: "c", AssignedSweeper: "s", Status: models.StatusAssigned, ImageAfter: "existing"}
	tr, err := CleanupTransition(r, c, "gs://b/x_after.jpg", now)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCleaned, tr.Fields["status"])
	assert.Empty(t, tr.Awards)
	require.NotNil(t, tr.History)
	assert.Contains(t, tr.History.Note, "suspicious submission")
	_, overwritten := tr.Fields["imageAfter"]
	assert.False(t, overwritten)

	// a second failed attempt does not add history
	r.Status = models.StatusCleaned
	r.VerificationAttempts = 1
	tr, err = CleanupTransition(r, c, "gs://b/x_after.jpg", now)
	require.NoError(t, err)
	assert.Nil(t, tr.History)
	assert.Equal(t, 2, tr.Fields["verificationAttempts"])
}

func TestCleanupTransition_WithoutSweeperPaysCitizenOnly(t *testing.T) {
	r := &models.Report{ID: "r1", CitizenID: "c", Status: models.StatusCleaned}
	tr, err := CleanupTransition(r, cleanJudgement(), "ref", time.Now())
	require.NoError(t, err)
	require.Len(t, tr.Awards, 1)
	assert.Equal(t, "c", tr.Awards[0].AccountID)
}

func TestCleanupTransition_RefusesVerified(t *testing.T) {
	r := &models.Report{ID: "r1", Status: models.StatusVerified}
	_, err := CleanupTransition(r, cleanJudgement(), "ref", time.Now())
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCleanupErrorTransition(t *testing.T) {
	now := time.Now()
	cause := errors.New("model overloaded")

	tr := CleanupErrorTransition(&models.Report{Status: models.StatusAssigned}, cause, "after", now)
	require.NotNil(t, tr)
	assert.Equal(t, models.StatusCleaned, tr.Fields["status"])
	assert.Equal(t, "model overloaded", tr.Fields["aiComparisonError"])
	assert.Equal(t, "after", tr.Fields["imageAfter"])

	tr = CleanupErrorTransition(&models.Report{Status: models.StatusCleaned, ImageAfter: "x"}, cause, "after", now)
	require.NotNil(t, tr)
	_, hasStatus := tr.Fields["status"]
	assert.False(t, hasStatus)
	assert.Nil(t, tr.History)

	assert.Nil(t, CleanupErrorTransition(&models.Report{Status: models.StatusVerified}, cause, "after", now))
}
