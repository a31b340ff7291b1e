// Package tracking records carrier positions without ever blocking the
// navigation loop that produces them.
package tracking

import (
	"context"
	"time"

	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/pkg/geo"
)

// Sample is one persisted carrier position for a deal
type Sample struct {
	DealID     string    `json:"deal_id"`
	CarrierID  string    `json:"carrier_id"`
	ClientID   string    `json:"client_id,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSample builds a sample from a device fix
func NewSample(dealID, carrierID, clientID string, fix geolocation.Fix) Sample {
	ts := fix.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Sample{
		DealID:     dealID,
		CarrierID:  carrierID,
		ClientID:   clientID,
		Latitude:   fix.Coords.Lat,
		Longitude:  fix.Coords.Lng,
		SpeedKmh:   fix.SpeedKmh,
		HeadingDeg: fix.HeadingDeg,
		Timestamp:  ts,
	}
}

// Coordinate returns the sample position
func (s Sample) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: s.Latitude, Lng: s.Longitude}
}

// Store persists samples
type Store interface {
	Append(ctx context.Context, sample Sample) error
}

// Reader exposes recorded samples of a deal
type Reader interface {
	// History returns up to limit samples, newest first
	History(ctx context.Context, dealID string, limit int64) ([]Sample, error)
	// Last returns the latest sample or nil when nothing was recorded recently
	Last(ctx context.Context, dealID string) (*Sample, error)
}
