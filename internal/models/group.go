package models

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReportGroup is computed on demand for dispatch batching and never stored.
type ReportGroup struct {
	Reports         []*Report `json:"reports"`
	CenterLocation  LatLng    `json:"centerLocation"`
	TotalReports    int       `json:"totalReports"`
	HighestPriority int       `json:"highestPriority"`
}
