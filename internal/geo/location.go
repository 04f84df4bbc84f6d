package geo

import "time"

const (
	// MaxFixAge is the largest tolerated gap between the GPS fix and the upload.
	MaxFixAge = 2 * time.Minute
	// MaxAccuracyMeters is the worst tolerated GPS accuracy radius.
	MaxAccuracyMeters = 100.0
)

// IsLocationSuspicious flags a capture whose GPS fix is stale or imprecise.
// Advisory only; intake decisions never depend on it.
func IsLocationSuspicious(uploadTime, fixTime time.Time, accuracyMeters float64) bool {
	gap := uploadTime.Sub(fixTime)
	if gap < 0 {
		gap = -gap
	}
	return gap > MaxFixAge || accuracyMeters > MaxAccuracyMeters
}
