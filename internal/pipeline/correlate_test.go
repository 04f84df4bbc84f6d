package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/database"
	"wastewatch-backend/internal/models"
)

const testBucket = "wastewatch.appspot.com"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestClassifyObject(t *testing.T) {
	tests := []struct {
		name string
		want ObjectKind
	}{
		{"reports/citizen-1/1700000000000_before.jpg", KindBefore},
		{"reports/citizen-1/1700000000000_before.JPEG", KindBefore},
		{"reports/task-9/1700000000000_after.png", KindAfter},
		{"reports/before/abc123.webp", KindBefore},
		{"reports/after/abc123.jpg", KindAfter},
		{"reports/citizen-1/1700000000000_before.gif", KindOther},
		{"reports/citizen-1/avatar.jpg", KindOther},
		{"profile/u1_before.txt", KindOther},
		{"reports/before/nested/x.jpg", KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyObject(tt.name), tt.name)
	}
}

func TestCandidateIDs(t *testing.T) {
	assert.Equal(t, []string{"abc123"}, candidateIDs("reports/before/abc123.jpg"))
	assert.Equal(t, []string{"task-9"}, candidateIDs("reports/task-9/1_after.jpg"))
	assert.Nil(t, candidateIDs("uploads/1_after.jpg"))
	assert.Nil(t, candidateIDs("1_after.jpg"))
}

func TestEmbeddedTimestamp(t *testing.T) {
	ts, ok := embeddedTimestamp("reports/u/1700000000123_before.jpg")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000123), ts.UnixMilli())

	ts, ok = embeddedTimestamp("reports/u/1700000000_before.jpg")
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, ok = embeddedTimestamp("reports/u/photo_before.jpg")
	assert.False(t, ok)
}

func newCorrelationFixture(t *testing.T, opts ...Option) (*Orchestrator, *database.MemoryStore) {
	store := database.NewMemoryStore()
	return New(store, nil, quietLogger(), opts...), store
}

func create(t *testing.T, store *database.MemoryStore, r *models.Report) *models.Report {
	t.Helper()
	created, err := store.Create(context.Background(), r)
	require.NoError(t, err)
	return created
}

func TestCorrelate_Order(t *testing.T) {
	ctx := context.Background()
	o, store := newCorrelationFixture(t)
	created := time.UnixMilli(1700000000000)

	byURI := create(t, store, &models.Report{
		CitizenID:   "c1",
		ImageBefore: "gs://" + testBucket + "/reports/c1/1700000000000_before.jpg",
		CreatedAt:   created,
	})
	byMetadata := create(t, store, &models.Report{CitizenID: "c2", CreatedAt: created})
	byDownload := create(t, store, &models.Report{
		CitizenID:   "c3",
		ImageBefore: "https://firebasestorage.googleapis.com/v0/b/" + testBucket + "/o/reports%2Fc3%2F5_before.jpg?alt=media&token=t",
		CreatedAt:   created,
	})
	byPath := create(t, store, &models.Report{ID: "report-42", CitizenID: "c4", CreatedAt: created})

	tests := []struct {
		name   string
		ev     models.FinalizeEvent
		wantID string
		method string
	}{
		{
			name:   "metadata beats uri",
			ev:     models.FinalizeEvent{Bucket: testBucket, Name: "reports/c1/1700000000000_before.jpg", Metadata: map[string]string{"reportId": byMetadata.ID}},
			wantID: byMetadata.ID,
			method: "metadata",
		},
		{
			name:   "exact gs uri",
			ev:     models.FinalizeEvent{Bucket: testBucket, Name: "reports/c1/1700000000000_before.jpg"},
			wantID: byURI.ID,
			method: "uri",
		},
		{
			name:   "download url prefix",
			ev:     models.FinalizeEvent{Bucket: testBucket, Name: "reports/c3/5_before.jpg"},
			wantID: byDownload.ID,
			method: "download_url",
		},
		{
			name:   "id in path",
			ev:     models.FinalizeEvent{Bucket: testBucket, Name: "reports/before/report-42.jpg"},
			wantID: byPath.ID,
			method: "path_id",
		},
		{
			name:   "unknown metadata id falls through",
			ev:     models.FinalizeEvent{Bucket: testBucket, Name: "reports/before/report-42.jpg", Metadata: map[string]string{"reportId": "missing"}},
			wantID: byPath.ID,
			method: "path_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, method, err := o.correlate(ctx, tt.ev, ClassifyObject(tt.ev.Name))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, r.ID)
			assert.Equal(t, tt.method, method)
		})
	}
}

type staticMetadata map[string]string

func (m staticMetadata) Metadata(context.Context, string, string) (map[string]string, error) {
	return m, nil
}

func TestCorrelate_FetchesMetadataWhenEventHasNone(t *testing.T) {
	o, store := newCorrelationFixture(t)
	r := create(t, store, &models.Report{CitizenID: "c"})
	o.metadata = staticMetadata{"reportId": r.ID}

	got, method, err := o.correlate(context.Background(), models.FinalizeEvent{Bucket: testBucket, Name: "x/1_before.jpg"}, KindBefore)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "metadata", method)
}

func TestCorrelate_Legacy(t *testing.T) {
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	t.Run("timestamp proximity", func(t *testing.T) {
		o, store := newCorrelationFixture(t)
		far := create(t, store, &models.Report{CitizenID: "a", ImageBefore: "https://elsewhere/a.jpg", CreatedAt: base.Add(10 * time.Minute)})
		near := create(t, store, &models.Report{CitizenID: "b", ImageBefore: "https://elsewhere/b.jpg", CreatedAt: base.Add(30 * time.Second)})

		r, method, err := o.correlate(ctx, models.FinalizeEvent{Bucket: testBucket, Name: "reports/b/1700000000000_before.jpg"}, KindBefore)
		require.NoError(t, err)
		assert.Equal(t, near.ID, r.ID)
		assert.NotEqual(t, far.ID, r.ID)
		assert.Equal(t, "legacy_timestamp", method)
	})

	t.Run("file name inside stored url", func(t *testing.T) {
		o, store := newCorrelationFixture(t)
		want := create(t, store, &models.Report{CitizenID: "a", ImageBefore: "https://cdn.example/1699999000000_before.jpg?sig=x", CreatedAt: base})
		create(t, store, &models.Report{CitizenID: "b", ImageBefore: "https://cdn.example/other.jpg", CreatedAt: base.Add(time.Hour)})

		r, method, err := o.correlate(ctx, models.FinalizeEvent{Bucket: testBucket, Name: "reports/a/1699999000000_before.jpg"}, KindBefore)
		require.NoError(t, err)
		assert.Equal(t, want.ID, r.ID)
		assert.Equal(t, "legacy_filename", method)
	})

	t.Run("most recent in eligible status", func(t *testing.T) {
		o, store := newCorrelationFixture(t)
		create(t, store, &models.Report{CitizenID: "a", CreatedAt: base, Status: models.StatusAssigned})
		newest := create(t, store, &models.Report{CitizenID: "b", CreatedAt: base.Add(time.Hour), Status: models.StatusCleaned})
		create(t, store, &models.Report{CitizenID: "c", CreatedAt: base.Add(2 * time.Hour), Status: models.StatusVerified})

		r, method, err := o.correlate(ctx, models.FinalizeEvent{Bucket: testBucket, Name: "uploads/9_after.jpg"}, KindAfter)
		require.NoError(t, err)
		assert.Equal(t, newest.ID, r.ID)
		assert.Equal(t, "legacy_most_recent", method)
	})

	t.Run("nothing eligible", func(t *testing.T) {
		o, store := newCorrelationFixture(t)
		create(t, store, &models.Report{CitizenID: "a", CreatedAt: base, Status: models.StatusVerified})

		_, _, err := o.correlate(ctx, models.FinalizeEvent{Bucket: testBucket, Name: "uploads/9_after.jpg"}, KindAfter)
		assert.ErrorIs(t, err, ErrCorrelationMiss)
	})

	t.Run("disabled", func(t *testing.T) {
		o, store := newCorrelationFixture(t, WithLegacyFallback(false))
		create(t, store, &models.Report{CitizenID: "a", CreatedAt: base})

		_, _, err := o.correlate(ctx, models.FinalizeEvent{Bucket: testBucket, Name: "uploads/1700000000000_before.jpg"}, KindBefore)
		assert.ErrorIs(t, err, ErrCorrelationMiss)
	})
}
