package zonemap

import (
	"math"

	"github.com/feastlane/dispatch-system/internal/domain/types"
)

const (
	SurgeMin = 1.0
	SurgeMax = 3.0

	// A surge suggestion above this value is worth telling drivers about.
	surgeNotifyThreshold = 1.2
)

// SuggestedSurge derives a surge multiplier from the demand-supply ratio,
// the average pending wait and the demand classification. Deterministic;
// the result is rounded to one decimal and clamped to [1.0, 3.0].
func SuggestedSurge(ratio, avgWaitMinutes float64, demand types.DemandLevel) float64 {
	surge := SurgeMin

	switch {
	case ratio > 3:
		surge = math.Min(1.5+(ratio-3)*0.1, 2.5)
	case ratio > 2:
		surge = 1.2 + (ratio-2)*0.3
	case ratio > 1.5:
		surge = 1.1 + (ratio-1.5)*0.2
	}

	switch {
	case avgWaitMinutes > 15:
		surge *= 1.2
	case avgWaitMinutes > 10:
		surge *= 1.1
	}

	switch demand {
	case types.DemandVeryHigh:
		surge *= 1.1
	case types.DemandHigh:
		surge *= 1.05
	}

	surge = math.Round(surge*10) / 10
	if surge > SurgeMax {
		surge = SurgeMax
	}
	if surge < SurgeMin {
		surge = SurgeMin
	}
	return surge
}

// ClassifyDemand maps a demand-supply ratio to a demand level.
func ClassifyDemand(ratio float64) types.DemandLevel {
	switch {
	case ratio < 0.5:
		return types.DemandLow
	case ratio < 1.5:
		return types.DemandMedium
	case ratio < 3:
		return types.DemandHigh
	}
	return types.DemandVeryHigh
}

// DemandSupplyRatio caps at 10 when demand outstrips an empty supply and
// reports a neutral 1 when the zone is entirely quiet.
func DemandSupplyRatio(totalDemand, availableDrivers int) float64 {
	if availableDrivers > 0 {
		return math.Min(float64(totalDemand)/float64(availableDrivers), 10)
	}
	if totalDemand > 0 {
		return 10
	}
	return 1
}
