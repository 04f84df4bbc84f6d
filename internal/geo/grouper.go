package geo

import "wastewatch-backend/internal/models"

// GroupRadiusKm is the membership radius measured from a group's seed report.
const GroupRadiusKm = 0.1

// GroupReports clusters reports in a single greedy pass. The first unassigned
// report seeds a group and absorbs every later unassigned report within
// GroupRadiusKm of the seed. Membership is tested against the seed only, so two
// members may be farther than GroupRadiusKm apart. Groups with fewer than two
// reports are dropped.
func GroupReports(reports []*models.Report) []models.ReportGroup {
	assigned := make([]bool, len(reports))
	var groups []models.ReportGroup

	for i, seed := range reports {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []*models.Report{seed}

		for j := i + 1; j < len(reports); j++ {
			if assigned[j] {
				continue
			}
			other := reports[j]
			d := Distance(seed.Location.Lat, seed.Location.Lng, other.Location.Lat, other.Location.Lng)
			if d <= GroupRadiusKm {
				members = append(members, other)
				assigned[j] = true
			}
		}

		if len(members) < 2 {
			continue
		}
		groups = append(groups, models.ReportGroup{
			Reports:         members,
			CenterLocation:  Center(members),
			TotalReports:    len(members),
			HighestPriority: highestPriority(members),
		})
	}
	return groups
}

// Center is the arithmetic mean of the reports' coordinates.
func Center(reports []*models.Report) models.LatLng {
	if len(reports) == 0 {
		return models.LatLng{}
	}
	var lat, lng float64
	for _, r := range reports {
		lat += r.Location.Lat
		lng += r.Location.Lng
	}
	n := float64(len(reports))
	return models.LatLng{Lat: lat / n, Lng: lng / n}
}

func highestPriority(reports []*models.Report) int {
	best := models.DefaultPriority
	for _, r := range reports {
		if p := r.EffectivePriority(); p < best {
			best = p
		}
	}
	return best
}
