package database

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/models"
)

// TestFirestoreStore_Contract runs against the Firestore emulator
// (FIRESTORE_EMULATOR_HOST, e.g. from `gcloud emulators firestore start`).
func TestFirestoreStore_Contract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := firestore.NewClient(context.Background(), "wastewatch-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// transactions on one document contend, keep the fan-out within the
	// client's retry budget
	testReportStore(t, NewFirestoreStore(client, logger), 4)
}

func TestFirestoreUpdates(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	entry := models.HistoryEntry{ID: "h1", Status: models.StatusAssigned, Time: at, Note: "accepted"}

	updates := firestoreUpdates(Update{
		Fields: map[string]interface{}{
			"status":           models.StatusAssigned,
			"location.address": "MG Road",
			"aiError":          nil,
		},
		History: &entry,
	})

	byPath := make(map[string]interface{}, len(updates))
	for _, u := range updates {
		byPath[u.Path] = u.Value
	}
	assert.Len(t, updates, 4)
	assert.Equal(t, models.StatusAssigned, byPath["status"])
	assert.Equal(t, "MG Road", byPath["location.address"])
	assert.Equal(t, firestore.Delete, byPath["aiError"])
	assert.Equal(t, firestore.ArrayUnion(entry), byPath["history"])
}

func TestFirestoreUpdates_FillsHistoryIdentity(t *testing.T) {
	updates := firestoreUpdates(Update{History: &models.HistoryEntry{Status: models.StatusAIError}})
	require.Len(t, updates, 1)
	assert.Equal(t, "history", updates[0].Path)
	assert.NotEqual(t, firestore.ArrayUnion(models.HistoryEntry{Status: models.StatusAIError}), updates[0].Value)
}
