package oracle_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wastewatch-backend/internal/oracle"
	"wastewatch-backend/internal/oracle/mocks"
)

const bucket = "wastewatch.appspot.com"

func newTestAdapter(t *testing.T, opts ...oracle.Option) (*oracle.Adapter, *mocks.MockModel, *mocks.MockFetcher) {
	ctrl := gomock.NewController(t)
	model := mocks.NewMockModel(ctrl)
	fetcher := mocks.NewMockFetcher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	opts = append([]oracle.Option{oracle.WithBackoff(time.Millisecond)}, opts...)
	return oracle.NewAdapter(model, fetcher, bucket, logger, opts...), model, fetcher
}

func TestJudgeIntake_Success(t *testing.T) {
	adapter, model, fetcher := newTestAdapter(t)
	ctx := context.Background()

	fetcher.EXPECT().
		Fetch(gomock.Any(), oracle.ObjectRef{Bucket: bucket, Object: "reports/before/r1.jpg"}).
		Return([]byte("jpeg-bytes"), "", nil).
		Times(1)
	model.EXPECT().
		Judge(gomock.Any(), []oracle.Image{{Data: []byte("jpeg-bytes"), MIMEType: "image/jpeg"}}, oracle.IntakeInstruction).
		Return("```json\n{\"imageValid\":true,\"isRealPhoto\":true,\"wasteDetected\":\"yes\",\"wasteType\":\"organic\",\"severity\":\"red\",\"isFake\":false,\"confidence\":0.9}\n```", nil).
		Times(1)

	j, err := adapter.JudgeIntake(ctx, "gs://"+bucket+"/reports/before/r1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "wet", j.Classification)
	assert.Equal(t, oracle.SeverityRed, j.Severity)
	assert.InDelta(t, 0.9, j.Confidence, 1e-9)
}

func TestJudgeIntake_RetriesThenSucceeds(t *testing.T) {
	adapter, model, fetcher := newTestAdapter(t, oracle.WithMaxRetries(2))

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]byte("x"), "image/png", nil).Times(1)
	gomock.InOrder(
		model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("503 overloaded")),
		model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).Return("sorry, no json", nil),
		model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).Return(`{"isFake":true}`, nil),
	)

	j, err := adapter.JudgeIntake(context.Background(), "gs://"+bucket+"/a_before.png")
	require.NoError(t, err)
	assert.True(t, j.IsFake)
}

func TestJudgeIntake_ExhaustedRetries(t *testing.T) {
	t.Run("transport failure", func(t *testing.T) {
		adapter, model, fetcher := newTestAdapter(t, oracle.WithMaxRetries(1))
		fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]byte("x"), "image/jpeg", nil)
		model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("boom")).Times(2)

		_, err := adapter.JudgeIntake(context.Background(), "gs://"+bucket+"/a_before.jpg")
		require.Error(t, err)
		assert.ErrorIs(t, err, oracle.ErrUnavailable)
		assert.True(t, oracle.IsRetryable(err))
	})

	t.Run("unparseable answer", func(t *testing.T) {
		adapter, model, fetcher := newTestAdapter(t, oracle.WithMaxRetries(1))
		fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]byte("x"), "image/jpeg", nil)
		model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).Return("no idea", nil).Times(2)

		_, err := adapter.JudgeIntake(context.Background(), "gs://"+bucket+"/a_before.jpg")
		var respErr *oracle.ResponseError
		require.ErrorAs(t, err, &respErr)
		assert.Equal(t, "no idea", respErr.Raw)
	})
}

func TestJudgeIntake_TimeoutPerCall(t *testing.T) {
	adapter, model, fetcher := newTestAdapter(t, oracle.WithMaxRetries(0), oracle.WithTimeout(20*time.Millisecond))

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return([]byte("x"), "image/jpeg", nil)
	model.EXPECT().Judge(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []oracle.Image, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})

	_, err := adapter.JudgeIntake(context.Background(), "gs://"+bucket+"/a_before.jpg")
	assert.ErrorIs(t, err, oracle.ErrUnavailable)
}

func TestJudgeIntake_UnsupportedReference(t *testing.T) {
	adapter, _, _ := newTestAdapter(t)

	_, err := adapter.JudgeIntake(context.Background(), "https://example.org/a_before.jpg")
	var refErr *oracle.ReferenceResolutionError
	require.ErrorAs(t, err, &refErr)
	assert.False(t, oracle.IsRetryable(err))
}

func TestJudgeIntake_MissingObjectIsNotRetried(t *testing.T) {
	adapter, _, fetcher := newTestAdapter(t)
	ref := "gs://" + bucket + "/gone_before.jpg"

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).
		Return(nil, "", &oracle.ReferenceResolutionError{Ref: ref, Reason: "object does not exist"}).
		Times(1)

	_, err := adapter.JudgeIntake(context.Background(), ref)
	assert.False(t, oracle.IsRetryable(err))
}

func TestJudgeComparison_SendsBeforeThenAfter(t *testing.T) {
	adapter, model, fetcher := newTestAdapter(t)
	beforeRef := "https://firebasestorage.googleapis.com/v0/b/" + bucket + "/o/reports%2Fbefore%2Fr1.jpg?alt=media&token=t"
	afterRef := "gs://" + bucket + "/reports/after/r1.jpg"

	fetcher.EXPECT().Fetch(gomock.Any(), oracle.ObjectRef{Bucket: bucket, Object: "reports/before/r1.jpg"}).
		Return([]byte("before"), "image/jpeg", nil)
	fetcher.EXPECT().Fetch(gomock.Any(), oracle.ObjectRef{Bucket: bucket, Object: "reports/after/r1.jpg"}).
		Return([]byte("after"), "image/webp; charset=binary", nil)

	model.EXPECT().
		Judge(gomock.Any(), gomock.Any(), oracle.ComparisonInstruction).
		DoAndReturn(func(_ context.Context, images []oracle.Image, _ string) (string, error) {
			require.Len(t, images, 2)
			assert.Equal(t, "before", string(images[0].Data))
			assert.Equal(t, "after", string(images[1].Data))
			assert.Equal(t, "image/webp", images[1].MIMEType)
			return `{"sameLocation":true,"cleaned":true,"cleanlinessLevel":"mostly clean","remainingWaste":false}`, nil
		})

	j, err := adapter.JudgeComparison(context.Background(), beforeRef, afterRef)
	require.NoError(t, err)
	assert.True(t, j.SameLocation)
	assert.Equal(t, "mostly clean", j.CleanlinessLevel)
	assert.Nil(t, j.AfterIsCleaner)
}

func TestJudgeComparison_FetchFailure(t *testing.T) {
	adapter, _, fetcher := newTestAdapter(t)

	fetcher.EXPECT().Fetch(gomock.Any(), gomock.Any()).Return(nil, "", errors.New("connection reset")).AnyTimes()

	_, err := adapter.JudgeComparison(context.Background(), "gs://"+bucket+"/b.jpg", "gs://"+bucket+"/a.jpg")
	assert.ErrorIs(t, err, oracle.ErrUnavailable)
}
