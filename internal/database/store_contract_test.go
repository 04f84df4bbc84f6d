package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/models"
)

type contractStore interface {
	ReportStore
	Create(ctx context.Context, report *models.Report) (*models.Report, error)
}

// testReportStore runs the behaviour every backend must share. Ids and image
// paths are unique per run so shared databases and emulators can be reused.
func testReportStore(t *testing.T, s contractStore, workers int) {
	run := uuid.NewString()[:8]
	id := func(name string) string { return run + "-" + name }
	base := time.Now().UTC().Truncate(time.Second).Add(-48 * time.Hour)

	t.Run("CreateAndGet", func(t *testing.T) {
		ctx := context.Background()
		created, err := s.Create(ctx, &models.Report{ID: id("created"), CitizenID: id("citizen"), ImageBefore: "gs://b/" + run + "/created_before.jpg", CreatedAt: base})
		require.NoError(t, err)
		assert.Equal(t, id("created"), created.ID)
		assert.Equal(t, models.StatusPending, created.Status)
		assert.True(t, base.Equal(created.CreatedAt))

		acct, err := s.GetAccount(ctx, id("citizen"))
		require.NoError(t, err)
		assert.Equal(t, 1, acct.TotalReports)

		_, err = s.Get(ctx, id("missing"))
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetAccount(ctx, id("nobody"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateMergesAndAppendsHistory", func(t *testing.T) {
		ctx := context.Background()
		r, err := s.Create(ctx, &models.Report{ID: id("updated"), CitizenID: id("c"), Location: models.Location{Lat: 12.9, Lng: 77.6}})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, r.ID, Update{
			Fields:  map[string]interface{}{"location.address": "MG Road", "aiError": "boom", "status": models.StatusAIError},
			History: &models.HistoryEntry{Status: models.StatusAIError, Time: base, Note: "analysis failed"},
		}))
		require.NoError(t, s.Update(ctx, r.ID, Update{
			Fields:  map[string]interface{}{"aiError": nil, "status": models.StatusAssigned},
			History: &models.HistoryEntry{Status: models.StatusAssigned, Time: base.Add(time.Minute)},
		}))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "MG Road", got.Location.Address)
		assert.Equal(t, 12.9, got.Location.Lat)
		assert.Empty(t, got.AIError)
		assert.Equal(t, models.StatusAssigned, got.Status)
		require.Len(t, got.History, 2)
		assert.Equal(t, models.StatusAIError, got.History[0].Status)
		assert.Equal(t, "analysis failed", got.History[0].Note)
		assert.Equal(t, models.StatusAssigned, got.History[1].Status)

		assert.ErrorIs(t, s.Update(ctx, id("missing"), Update{Fields: map[string]interface{}{"aiError": "x"}}), ErrNotFound)
	})

	t.Run("RunTransitionAwardsOncePerMilestone", func(t *testing.T) {
		ctx := context.Background()
		r, err := s.Create(ctx, &models.Report{ID: id("awarded"), CitizenID: id("awardee")})
		require.NoError(t, err)

		transition := func(*models.Report) *Transition {
			return &Transition{
				Update: Update{
					Fields:  map[string]interface{}{"priority": 1},
					History: &models.HistoryEntry{Status: models.StatusAssigned, Time: base},
				},
				Awards: []Award{{AccountID: id("awardee"), Milestone: "intake_accepted", Points: 2}},
			}
		}
		for i := 0; i < 2; i++ {
			got, applied, err := s.RunTransition(ctx, r.ID, func(cur *models.Report) (*Transition, error) { return transition(cur), nil })
			require.NoError(t, err)
			assert.True(t, applied)
			assert.Equal(t, []string{"intake_accepted"}, got.RewardMilestones)
		}

		acct, err := s.GetAccount(ctx, id("awardee"))
		require.NoError(t, err)
		assert.Equal(t, 2, acct.Points)
		assert.Equal(t, 1, acct.TotalReports)
		assert.NotNil(t, acct.LastPointsUpdate)

		got, applied, err := s.RunTransition(ctx, r.ID, func(*models.Report) (*Transition, error) { return nil, nil })
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Len(t, got.History, 2)

		_, _, err = s.RunTransition(ctx, id("missing"), func(*models.Report) (*Transition, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ConcurrentTransitionsAwardOnce", func(t *testing.T) {
		ctx := context.Background()
		r, err := s.Create(ctx, &models.Report{ID: id("verified"), CitizenID: id("owner"), AssignedSweeper: id("sweeper"), Status: models.StatusCleaned})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.RunTransition(ctx, r.ID, func(cur *models.Report) (*Transition, error) {
					if cur.Status == models.StatusVerified {
						return nil, nil
					}
					return &Transition{
						Update: Update{
							Fields:  map[string]interface{}{"status": models.StatusVerified},
							History: &models.HistoryEntry{Status: models.StatusVerified, Time: base},
						},
						Awards: []Award{
							{AccountID: id("owner"), Milestone: "cleanup_verified_citizen", Points: 2},
							{AccountID: id("sweeper"), Milestone: "cleanup_verified_sweeper", Points: 2, Counters: map[string]int{CounterTotalCleaned: 1}},
						},
					}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		owner, err := s.GetAccount(ctx, id("owner"))
		require.NoError(t, err)
		sweeper, err := s.GetAccount(ctx, id("sweeper"))
		require.NoError(t, err)
		assert.Equal(t, 2, owner.Points)
		assert.Equal(t, 2, sweeper.Points)
		assert.Equal(t, 1, sweeper.TotalCleaned)

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusVerified, got.Status)
		assert.Len(t, got.History, 1)
		assert.ElementsMatch(t, []string{"cleanup_verified_citizen", "cleanup_verified_sweeper"}, got.RewardMilestones)
	})

	t.Run("IncrementAccount", func(t *testing.T) {
		ctx := context.Background()
		acctID := id("ledger")

		require.NoError(t, s.IncrementAccount(ctx, acctID, map[string]int{CounterPoints: 3}))
		require.NoError(t, s.IncrementAccount(ctx, acctID, map[string]int{CounterPoints: 2, CounterTotalCleaned: 1}))
		assert.Error(t, s.IncrementAccount(ctx, acctID, map[string]int{"balance": 1}))

		acct, err := s.GetAccount(ctx, acctID)
		require.NoError(t, err)
		assert.Equal(t, 5, acct.Points)
		assert.Equal(t, 1, acct.TotalCleaned)
		assert.NotNil(t, acct.LastPointsUpdate)
	})

	t.Run("FindRescanPredicates", func(t *testing.T) {
		ctx := context.Background()
		prefix := "gs://b/" + run + "/scan/"
		alerted := base.Add(time.Hour)
		analyzed := base.Add(90 * time.Minute)

		seed := []*models.Report{
			{ID: id("exhausted-alerted"), Status: models.StatusAIError, AIAttempts: 3, StuckAlertAt: &alerted, CreatedAt: base},
			{ID: id("exhausted"), Status: models.StatusAIError, AIAttempts: 3, CreatedAt: base.Add(time.Minute)},
			{ID: id("busy"), Status: models.StatusAIError, AIAttempts: 1, AIAnalyzedAt: &analyzed, CreatedAt: base.Add(2 * time.Minute)},
			{ID: id("fresh"), Status: models.StatusPending, CreatedAt: base.Add(3 * time.Minute)},
			{ID: id("done"), Status: models.StatusAssigned, AIAttempts: 1, CreatedAt: base.Add(4 * time.Minute)},
		}
		for _, r := range seed {
			r.CitizenID = id("scanner")
			r.ImageBefore = prefix + r.ID + "_before.jpg"
			_, err := s.Create(ctx, r)
			require.NoError(t, err)
		}

		open := []models.Status{models.StatusPending, models.StatusAIError}
		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{"exhausted and unalerted", Filter{Statuses: open, AttemptsAtLeast: 3, Unalerted: true}, []string{id("exhausted")}},
			{"retryable", Filter{Statuses: open, AttemptsBelow: 3}, []string{id("busy"), id("fresh")}},
			{"retryable and idle", Filter{Statuses: open, AttemptsBelow: 3, AnalyzedBefore: base.Add(time.Hour)}, []string{id("fresh")}},
			{"created window", Filter{CreatedAfter: base, CreatedBefore: base.Add(3 * time.Minute)}, []string{id("exhausted"), id("busy")}},
			{"limit", Filter{Statuses: open, Limit: 2}, []string{id("exhausted-alerted"), id("exhausted")}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tt.filter.ImageBeforePrefix = prefix
				tt.filter.OldestFirst = true
				got, err := s.Find(ctx, tt.filter)
				require.NoError(t, err)
				ids := make([]string, 0, len(got))
				for _, r := range got {
					ids = append(ids, r.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}
