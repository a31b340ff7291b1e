package navigation

import (
	"math"

	"github.com/danghamo/haulnav/pkg/geo"
)

// ClosestStep returns the index of the step whose start location is nearest
// to pos, with that distance in meters. It returns -1 for an empty route.
//
// This is a nearest-start heuristic, not a projection onto the path: on a
// route that loops back near itself it can pick a later step early.
func ClosestStep(pos geo.Coordinate, steps []RouteStep) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i, step := range steps {
		d := geo.Distance(pos, step.StartLocation)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// StepToAnnounce decides whether the closest step should be announced.
// Only indexes beyond lastAnnounced qualify, so announcements never repeat
// or move backwards.
func StepToAnnounce(pos geo.Coordinate, steps []RouteStep, lastAnnounced int) (int, bool) {
	idx, _ := ClosestStep(pos, steps)
	if idx < 0 || idx <= lastAnnounced {
		return lastAnnounced, false
	}
	return idx, true
}
