package navigation

// ProximityThresholdsKm are checked in this (descending) order
var ProximityThresholdsKm = [...]float64{5, 1, 0.5, 0.1}

// ArrivalRadiusKm is tighter than the last threshold so GPS jitter near
// the destination does not flip arrival.
const ArrivalRadiusKm = 0.05

// ProximityResult is the outcome of one proximity evaluation
type ProximityResult struct {
	// ThresholdKm is the newly crossed threshold, valid when Crossed
	ThresholdKm float64
	Crossed     bool
	// Arrived is true only on the evaluation that first reaches the arrival radius
	Arrived bool
}

// EvaluateProximity reports at most one newly crossed threshold and the
// first arrival. Thresholds still pending after arrival are never reported,
// so arrival is the last proximity event of a session. It does not mutate
// notified.
func EvaluateProximity(distanceKm float64, notified map[float64]bool, alreadyArrived bool) ProximityResult {
	var res ProximityResult
	if alreadyArrived {
		return res
	}
	for _, threshold := range ProximityThresholdsKm {
		if distanceKm <= threshold && !notified[threshold] {
			res.ThresholdKm, res.Crossed = threshold, true
			break
		}
	}
	if distanceKm <= ArrivalRadiusKm {
		res.Arrived = true
	}
	return res
}
