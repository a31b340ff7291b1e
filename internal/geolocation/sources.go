package geolocation

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/danghamo/haulnav/pkg/geo"
)

// ErrFeedBusy is returned when a Feed is watched twice at the same time
var ErrFeedBusy = errors.New("position feed already has a watcher")

// Feed is a push-based Source. The transport layer pushes fixes reported
// by the device; they are delivered in push order to the current watch.
type Feed struct {
	mu    sync.Mutex
	ctx   context.Context
	fixes chan<- Fix
	errs  chan<- error
}

// NewFeed creates an idle feed
func NewFeed() *Feed {
	return &Feed{}
}

// Watch implements Source
func (f *Feed) Watch(ctx context.Context, fixes chan<- Fix, errs chan<- error) error {
	f.mu.Lock()
	if f.fixes != nil {
		f.mu.Unlock()
		return ErrFeedBusy
	}
	f.ctx, f.fixes, f.errs = ctx, fixes, errs
	f.mu.Unlock()

	<-ctx.Done()

	f.mu.Lock()
	f.ctx, f.fixes, f.errs = nil, nil, nil
	f.mu.Unlock()
	return nil
}

// Push delivers a fix to the active watch. It reports false when nobody
// is watching.
func (f *Feed) Push(fix Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fixes == nil {
		return false
	}
	select {
	case f.fixes <- fix:
		return true
	case <-f.ctx.Done():
		return false
	}
}

// Fail reports a recoverable device error to the active watch
func (f *Feed) Fail(err *Error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.errs == nil {
		return false
	}
	select {
	case f.errs <- err:
		return true
	case <-f.ctx.Done():
		return false
	default:
		// Error stream full: the pending errors already tell the story
		return false
	}
}

// Watching reports whether a watch is attached
func (f *Feed) Watching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fixes != nil
}

// Replay is a Source that plays back a recorded trail at a fixed interval
type Replay struct {
	Fixes    []Fix
	Interval time.Duration
}

// Watch implements Source. It returns nil once the trail is exhausted.
func (r *Replay) Watch(ctx context.Context, fixes chan<- Fix, _ chan<- error) error {
	var ticker *time.Ticker
	if r.Interval > 0 {
		ticker = time.NewTicker(r.Interval)
		defer ticker.Stop()
	}

	for i, fix := range r.Fixes {
		if i > 0 && ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fixes <- fix:
		}
	}
	return nil
}

// Densify produces fixes spaced stepMeters apart along a polyline, as if
// driven at speedKmh starting at start. The last vertex is always included.
func Densify(points []geo.Coordinate, stepMeters, speedKmh float64, start time.Time) []Fix {
	if len(points) == 0 || stepMeters <= 0 {
		return nil
	}

	secondsPerMeter := 0.0
	if speedKmh > 0 {
		secondsPerMeter = 3.6 / speedKmh
	}

	var out []Fix
	traveled := 0.0
	emit := func(c geo.Coordinate, heading float64) {
		out = append(out, Fix{
			Coords:     c,
			SpeedKmh:   speedKmh,
			HeadingDeg: heading,
			Timestamp:  start.Add(time.Duration(traveled * secondsPerMeter * float64(time.Second))),
		})
	}

	heading := 0.0
	if len(points) > 1 {
		heading = normalizeHeading(geo.Bearing(points[0], points[1]))
	}
	emit(points[0], heading)

	sinceLast := 0.0
	for i := 1; i < len(points); i++ {
		from, to := points[i-1], points[i]
		length := geo.Distance(from, to)
		heading = normalizeHeading(geo.Bearing(from, to))

		pos := 0.0
		for sinceLast+length-pos >= stepMeters {
			advance := stepMeters - sinceLast
			pos += advance
			traveled += advance
			sinceLast = 0
			emit(geo.Offset(from, heading, pos), heading)
		}

		rest := length - pos
		traveled += rest
		sinceLast += rest
	}

	if sinceLast > 0.01 {
		emit(points[len(points)-1], heading)
	}
	return out
}

func normalizeHeading(bearing float64) float64 {
	return math.Mod(bearing+360, 360)
}
