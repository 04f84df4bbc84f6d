package models

import "time"

// Account holds the only account fields the pipeline touches.
type Account struct {
	ID               string     `json:"id" db:"id" firestore:"-"`
	Points           int        `json:"points" db:"points" firestore:"points"`
	TotalReports     int        `json:"totalReports" db:"total_reports" firestore:"totalReports"`
	TotalCleaned     int        `json:"totalCleaned" db:"total_cleaned" firestore:"totalCleaned"`
	LastPointsUpdate *time.Time `json:"lastPointsUpdate,omitempty" db:"last_points_update" firestore:"lastPointsUpdate,omitempty"`
}
