package geo

import (
	"fmt"
	"math"
	"strings"
)

// Polyline precisions used by the routing backends
const (
	PrecisionOSRM     = 5
	PrecisionValhalla = 6
)

// DecodePolyline decodes an encoded polyline with the given precision
func DecodePolyline(encoded string, precision int) ([]Coordinate, error) {
	factor := math.Pow10(precision)
	coords := make([]Coordinate, 0, len(encoded)/4)

	var lat, lng int
	for i := 0; i < len(encoded); {
		dlat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dlng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next

		lat += dlat
		lng += dlng
		coords = append(coords, Coordinate{
			Lat: float64(lat) / factor,
			Lng: float64(lng) / factor,
		})
	}

	return coords, nil
}

func decodeValue(encoded string, i int) (int, int, error) {
	var result, shift int
	for {
		if i >= len(encoded) {
			return 0, i, fmt.Errorf("truncated polyline at offset %d", i)
		}
		b := int(encoded[i]) - 63
		if b < 0 || b > 63 {
			return 0, i, fmt.Errorf("invalid polyline character %q at offset %d", encoded[i], i)
		}
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// EncodePolyline encodes coordinates with the given precision
func EncodePolyline(coords []Coordinate, precision int) string {
	factor := math.Pow10(precision)
	var sb strings.Builder

	var prevLat, prevLng int
	for _, c := range coords {
		lat := int(math.Round(c.Lat * factor))
		lng := int(math.Round(c.Lng * factor))
		encodeValue(&sb, lat-prevLat)
		encodeValue(&sb, lng-prevLng)
		prevLat, prevLng = lat, lng
	}

	return sb.String()
}

func encodeValue(sb *strings.Builder, v int) {
	v <<= 1
	if v < 0 {
		v = ^v
	}
	for v >= 0x20 {
		sb.WriteByte(byte((0x20 | (v & 0x1f)) + 63))
		v >>= 5
	}
	sb.WriteByte(byte(v + 63))
}
