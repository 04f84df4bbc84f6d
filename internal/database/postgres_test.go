package database

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/models"
)

// TestPostgresStore_Contract needs DATABASE_URL pointing at a disposable
// database; rows are left behind under unique ids.
func TestPostgresStore_Contract(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := Connect(dbURL, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db, logger))
	// migrations are idempotent
	require.NoError(t, Migrate(db, logger))

	testReportStore(t, NewPostgresStore(db, logger), 8)
}

func TestEncodeDoc(t *testing.T) {
	analyzed := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	raw, err := encodeDoc(&models.Report{
		ID:               "r1",
		CitizenID:        "c",
		Status:           models.StatusAIError,
		CreatedAt:        analyzed,
		AIAttempts:       2,
		AIAnalyzedAt:     &analyzed,
		History:          []models.HistoryEntry{{ID: "h", Status: models.StatusPending}},
		RewardMilestones: []string{"intake_accepted"},
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, k := range []string{"id", "createdAt", "history", "rewardMilestones"} {
		assert.NotContains(t, doc, k)
	}
	assert.Equal(t, "ai_error", doc["status"])
	assert.Equal(t, float64(2), doc["aiAttempts"])
	assert.Equal(t, "2026-01-01T09:00:00Z", doc["aiAnalyzedAt"])
	assert.NotContains(t, doc, "stuckAlertAt")
}

func TestDocString(t *testing.T) {
	doc := map[string]interface{}{
		"status":     models.StatusVerified,
		"imageAfter": "gs://b/x_after.jpg",
		"priority":   3,
	}
	assert.Equal(t, "verified", docString(doc, "status"))
	assert.Equal(t, "gs://b/x_after.jpg", docString(doc, "imageAfter"))
	assert.Equal(t, "3", docString(doc, "priority"))
	assert.Equal(t, "", docString(doc, "missing"))
}
