package services

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"wastewatch-backend/internal/geo"
	"wastewatch-backend/internal/models"
)

// DispatchStop is one place a sweeper visits: a group of co-located reports or
// a single report.
type DispatchStop struct {
	ReportIDs    []string      `json:"reportIds"`
	Center       models.LatLng `json:"center"`
	Priority     int           `json:"priority"`
	TotalReports int           `json:"totalReports"`
	// DistanceKm is the straight-line leg from the previous stop.
	DistanceKm float64 `json:"distanceKm"`
}

// DispatchPlanner orders open reports for a sweeper.
type DispatchPlanner struct {
	logger *logrus.Logger
}

func NewDispatchPlanner(logger *logrus.Logger) *DispatchPlanner {
	return &DispatchPlanner{logger: logger}
}

// PlanQueue batches reports into stops and orders them by priority, most
// urgent first. Within one priority the order is a nearest-neighbour walk that
// starts at the sweeper's position and continues from the last stop.
func (p *DispatchPlanner) PlanQueue(start models.LatLng, reports []*models.Report) []DispatchStop {
	stops := buildStops(reports)
	if len(stops) == 0 {
		return []DispatchStop{}
	}

	byPriority := make(map[int][]DispatchStop)
	var priorities []int
	for _, s := range stops {
		if _, seen := byPriority[s.Priority]; !seen {
			priorities = append(priorities, s.Priority)
		}
		byPriority[s.Priority] = append(byPriority[s.Priority], s)
	}
	sort.Ints(priorities)

	ordered := make([]DispatchStop, 0, len(stops))
	current := start
	total := 0.0
	for _, priority := range priorities {
		var walked []DispatchStop
		walked, current = nearestNeighbour(byPriority[priority], current)
		for _, s := range walked {
			total += s.DistanceKm
		}
		ordered = append(ordered, walked...)
	}

	p.logger.WithFields(logrus.Fields{
		"component":   "dispatch",
		"stops":       len(ordered),
		"reports":     len(reports),
		"distance_km": math.Round(total*100) / 100,
	}).Debug("🎯 dispatch queue planned")
	return ordered
}

func buildStops(reports []*models.Report) []DispatchStop {
	grouped := make(map[string]bool)
	var stops []DispatchStop

	for _, g := range geo.GroupReports(reports) {
		ids := make([]string, len(g.Reports))
		for i, r := range g.Reports {
			ids[i] = r.ID
			grouped[r.ID] = true
		}
		stops = append(stops, DispatchStop{
			ReportIDs:    ids,
			Center:       g.CenterLocation,
			Priority:     g.HighestPriority,
			TotalReports: g.TotalReports,
		})
	}
	for _, r := range reports {
		if grouped[r.ID] {
			continue
		}
		stops = append(stops, DispatchStop{
			ReportIDs:    []string{r.ID},
			Center:       models.LatLng{Lat: r.Location.Lat, Lng: r.Location.Lng},
			Priority:     r.EffectivePriority(),
			TotalReports: 1,
		})
	}
	return stops
}

// nearestNeighbour always selects the closest remaining stop and returns the
// walk plus the position it ends at.
func nearestNeighbour(stops []DispatchStop, from models.LatLng) ([]DispatchStop, models.LatLng) {
	remaining := make([]DispatchStop, len(stops))
	copy(remaining, stops)
	ordered := make([]DispatchStop, 0, len(stops))
	current := from

	for len(remaining) > 0 {
		bestIdx := 0
		bestDistance := math.MaxFloat64
		for i, s := range remaining {
			d := geo.Distance(current.Lat, current.Lng, s.Center.Lat, s.Center.Lng)
			if d < bestDistance {
				bestDistance = d
				bestIdx = i
			}
		}

		best := remaining[bestIdx]
		best.DistanceKm = bestDistance
		ordered = append(ordered, best)
		current = best.Center
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return ordered, current
}
