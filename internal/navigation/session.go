package navigation

import (
	"time"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/pkg/geo"
)

// TrackingSession is the state of one navigation run. It is owned by a
// single goroutine and discarded when the run ends.
type TrackingSession struct {
	ID                     string
	DealID                 string
	CarrierID              string
	StartedAt              time.Time
	Route                  *Route
	CurrentPosition        *geolocation.Fix
	LastAnnouncedStepIndex int
	NotifiedThresholds     map[float64]bool
	TraveledPath           []geo.Coordinate
	Arrived                bool
}

// NewTrackingSession starts a fresh session for a route
func NewTrackingSession(dealID, carrierID string, route *Route) *TrackingSession {
	return &TrackingSession{
		ID:                     shared.NewID().String(),
		DealID:                 dealID,
		CarrierID:              carrierID,
		StartedAt:              time.Now(),
		Route:                  route,
		LastAnnouncedStepIndex: -1,
		NotifiedThresholds:     make(map[float64]bool, len(ProximityThresholdsKm)),
	}
}

// Observe records a fix as the current position and extends the path
func (s *TrackingSession) Observe(fix geolocation.Fix) {
	f := fix
	s.CurrentPosition = &f
	s.TraveledPath = append(s.TraveledPath, fix.Coords)
}

// AdvanceStep moves the announced index forward when a later step is closest
func (s *TrackingSession) AdvanceStep(pos geo.Coordinate) (int, bool) {
	idx, ok := StepToAnnounce(pos, s.Route.Steps, s.LastAnnouncedStepIndex)
	if !ok {
		return -1, false
	}
	s.LastAnnouncedStepIndex = idx
	return idx, true
}

// CheckProximity evaluates distance to the destination and records what fired
func (s *TrackingSession) CheckProximity(pos geo.Coordinate) (ProximityResult, float64) {
	distanceKm := geo.DistanceKm(pos, s.Route.Destination())
	res := EvaluateProximity(distanceKm, s.NotifiedThresholds, s.Arrived)
	if res.Crossed {
		s.NotifiedThresholds[res.ThresholdKm] = true
	}
	if res.Arrived {
		s.Arrived = true
	}
	return res, distanceKm
}

// SessionSnapshot is a read-only copy of a session for status queries
type SessionSnapshot struct {
	SessionID              string           `json:"session_id"`
	DealID                 string           `json:"deal_id"`
	StartedAt              time.Time        `json:"started_at"`
	CurrentPosition        *geolocation.Fix `json:"current_position,omitempty"`
	LastAnnouncedStepIndex int              `json:"last_announced_step_index"`
	NotifiedThresholdsKm   []float64        `json:"notified_thresholds_km"`
	TraveledPoints         int              `json:"traveled_points"`
	TraveledMeters         float64          `json:"traveled_meters"`
	RemainingMeters        *float64         `json:"remaining_meters,omitempty"`
	Arrived                bool             `json:"arrived"`
	FollowMode             bool             `json:"follow_mode"`
}

// Snapshot copies the session state
func (s *TrackingSession) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:              s.ID,
		DealID:                 s.DealID,
		StartedAt:              s.StartedAt,
		LastAnnouncedStepIndex: s.LastAnnouncedStepIndex,
		NotifiedThresholdsKm:   make([]float64, 0, len(s.NotifiedThresholds)),
		TraveledPoints:         len(s.TraveledPath),
		TraveledMeters:         geo.PathLength(s.TraveledPath),
		Arrived:                s.Arrived,
	}
	for _, threshold := range ProximityThresholdsKm {
		if s.NotifiedThresholds[threshold] {
			snap.NotifiedThresholdsKm = append(snap.NotifiedThresholdsKm, threshold)
		}
	}
	if s.CurrentPosition != nil {
		pos := *s.CurrentPosition
		snap.CurrentPosition = &pos
		remaining := geo.Distance(pos.Coords, s.Route.Destination())
		snap.RemainingMeters = &remaining
	}
	return snap
}
