package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wastewatch-backend/internal/models"
)

func openReport(id string, lat, lng float64, priority int) *models.Report {
	return &models.Report{ID: id, Status: models.StatusAssigned, Priority: priority, Location: models.Location{Lat: lat, Lng: lng}}
}

func TestPlanQueue_PriorityThenNearest(t *testing.T) {
	planner := NewDispatchPlanner(quietLogger())
	start := models.LatLng{Lat: 12.90, Lng: 77.60}

	reports := []*models.Report{
		openReport("far-yellow", 12.99, 77.60, 2),
		openReport("near-yellow", 12.91, 77.60, 2),
		openReport("far-red", 13.10, 77.60, 1),
		openReport("group-a", 12.95, 77.70, 3),
		openReport("group-b", 12.9505, 77.7003, 1),
		openReport("no-severity", 12.901, 77.60, 0),
	}

	stops := planner.PlanQueue(start, reports)
	require.Len(t, stops, 5)

	// priority 1: the group (via group-b) is nearer than far-red
	assert.ElementsMatch(t, []string{"group-a", "group-b"}, stops[0].ReportIDs)
	assert.Equal(t, 1, stops[0].Priority)
	assert.Equal(t, 2, stops[0].TotalReports)
	assert.Equal(t, []string{"far-red"}, stops[1].ReportIDs)
	// priority 2 walk continues from far-red
	assert.Equal(t, []string{"far-yellow"}, stops[2].ReportIDs)
	assert.Equal(t, []string{"near-yellow"}, stops[3].ReportIDs)
	assert.Equal(t, []string{"no-severity"}, stops[4].ReportIDs)
	assert.Equal(t, 3, stops[4].Priority)

	for _, s := range stops {
		assert.Greater(t, s.DistanceKm, 0.0)
	}
}

func TestPlanQueue_Empty(t *testing.T) {
	stops := NewDispatchPlanner(quietLogger()).PlanQueue(models.LatLng{}, nil)
	assert.NotNil(t, stops)
	assert.Empty(t, stops)
}
