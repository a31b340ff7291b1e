package navigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/internal/tracking"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// ExitRedirect is where the carrier is sent after an external cancellation
const ExitRedirect = "deals"

// Announcer speaks instructions. Cancel stops any in-flight speech.
type Announcer interface {
	Speak(text string)
	Cancel()
}

// MapRenderer draws the route and the live marker. It has no outbound data.
type MapRenderer interface {
	Render(route *Route, position *geo.Coordinate, followMode bool)
	Recenter(position geo.Coordinate)
}

// PositionRecorder persists samples without blocking
type PositionRecorder interface {
	Record(sample tracking.Sample)
}

// Notifier delivers navigation events to the carrier
type Notifier interface {
	Notify(event Event)
}

// Sinks groups the outputs of a navigator
type Sinks struct {
	Announcer Announcer
	Renderer  MapRenderer
	Recorder  PositionRecorder
	Notifier  Notifier
}

// Config describes what a navigator tracks
type Config struct {
	DealID     string
	CarrierID  string
	ClientID   string
	Route      *Route
	Phrasebook *Phrasebook
	FollowMode bool
}

// ErrNotRunning is returned by commands sent to a stopped navigator
var ErrNotRunning = errors.New("navigation is not running")

type commandKind int

const (
	cmdRecenter commandKind = iota
	cmdFollowMode
	cmdSnapshot
)

type command struct {
	kind   commandKind
	follow bool
	reply  chan SessionSnapshot
}

// run is one Start..Stop cycle with its own session and subscription
type run struct {
	session   *TrackingSession
	cancel    context.CancelFunc
	interrupt chan string
	commands  chan command
	done      chan struct{}
	final     SessionSnapshot
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Navigator runs the tracking state machine for one deal. All session
// state is touched only by the run goroutine.
type Navigator struct {
	cfg     Config
	sinks   Sinks
	watcher *geolocation.Watcher
	logger  *logger.Logger

	mu         sync.Mutex
	current    *run
	followMode bool
}

// NewNavigator creates a stopped navigator
func NewNavigator(cfg Config, source geolocation.Source, sinks Sinks, log *logger.Logger) *Navigator {
	if cfg.Phrasebook == nil {
		cfg.Phrasebook = MustPhrasebook(DefaultLocale)
	}
	return &Navigator{
		cfg:        cfg,
		sinks:      sinks,
		watcher:    geolocation.NewWatcher(source, log),
		logger:     log.WithComponent("navigator").WithDealID(cfg.DealID),
		followMode: cfg.FollowMode,
	}
}

// Route returns the route being navigated
func (n *Navigator) Route() *Route {
	return n.cfg.Route
}

// Start opens a fresh session and position subscription. It is a no-op
// returning false while a run is active.
func (n *Navigator) Start(ctx context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.current != nil && !n.current.finished() {
		n.logger.Debug("Navigation already running")
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, _ := n.watcher.Start(runCtx)

	r := &run{
		session:   NewTrackingSession(n.cfg.DealID, n.cfg.CarrierID, n.cfg.Route),
		cancel:    cancel,
		interrupt: make(chan string, 1),
		commands:  make(chan command),
		done:      make(chan struct{}),
	}
	n.current = r

	n.sinks.Renderer.Render(n.cfg.Route, nil, n.followMode)
	go n.loop(runCtx, r, sub, n.followMode)

	n.logger.Info("Navigation started",
		zap.String("sessionId", r.session.ID),
		zap.Int("steps", len(n.cfg.Route.Steps)))
	return true
}

// Stop ends the active run and waits for it. The map keeps its last state.
// Calling Stop on a stopped navigator is a no-op.
func (n *Navigator) Stop() {
	r := n.active()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Cancel interrupts the run because the deal was cancelled elsewhere. The
// interrupt is handled before any queued fix. It reports whether a run was
// interrupted.
func (n *Navigator) Cancel(reason string) bool {
	r := n.active()
	if r == nil {
		return false
	}
	select {
	case r.interrupt <- reason:
	default:
	}
	<-r.done
	return true
}

// Running reports whether a run is active
func (n *Navigator) Running() bool {
	return n.active() != nil
}

// Done is closed when the current run ends. It is nil before the first Start.
func (n *Navigator) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return nil
	}
	return n.current.done
}

// Recenter moves the viewport to the live marker
func (n *Navigator) Recenter() error {
	_, err := n.send(command{kind: cmdRecenter})
	return err
}

// SetFollowMode toggles continuous recentering. It is remembered across runs.
func (n *Navigator) SetFollowMode(enabled bool) error {
	n.mu.Lock()
	n.followMode = enabled
	n.mu.Unlock()

	_, err := n.send(command{kind: cmdFollowMode, follow: enabled})
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// Snapshot returns the live session state, or the final state of the last
// run when stopped. ok is false before the first Start.
func (n *Navigator) Snapshot() (snap SessionSnapshot, ok bool) {
	snap, err := n.send(command{kind: cmdSnapshot, reply: make(chan SessionSnapshot, 1)})
	if err == nil {
		return snap, true
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return SessionSnapshot{}, false
	}
	<-n.current.done
	return n.current.final, true
}

func (n *Navigator) active() *run {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil || n.current.finished() {
		return nil
	}
	return n.current
}

func (n *Navigator) send(cmd command) (SessionSnapshot, error) {
	r := n.active()
	if r == nil {
		return SessionSnapshot{}, ErrNotRunning
	}
	select {
	case r.commands <- cmd:
	case <-r.done:
		return SessionSnapshot{}, ErrNotRunning
	}
	if cmd.reply == nil {
		return SessionSnapshot{}, nil
	}
	select {
	case snap := <-cmd.reply:
		return snap, nil
	case <-r.done:
		return SessionSnapshot{}, ErrNotRunning
	}
}

func (n *Navigator) loop(ctx context.Context, r *run, sub *geolocation.Subscription, followMode bool) {
	defer func() {
		n.watcher.Stop()
		n.sinks.Announcer.Cancel()
		snap := r.session.Snapshot()
		snap.FollowMode = followMode
		r.final = snap
		r.cancel()
		close(r.done)
		n.logger.Info("Navigation stopped",
			zap.String("sessionId", r.session.ID),
			zap.Int("lastStep", r.session.LastAnnouncedStepIndex),
			zap.Bool("arrived", r.session.Arrived))
	}()

	fixes, errs := sub.Fixes, sub.Errors
	for {
		// Cancellation wins over anything already queued
		select {
		case reason := <-r.interrupt:
			n.handleCancel(r, reason)
			return
		default:
		}

		select {
		case reason := <-r.interrupt:
			n.handleCancel(r, reason)
			return
		case <-ctx.Done():
			return
		case cmd := <-r.commands:
			followMode = n.handleCommand(r, cmd, followMode)
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			n.handleFix(r, fix, followMode)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			n.handleError(r, err)
		}
	}
}

func (n *Navigator) handleFix(r *run, fix geolocation.Fix, followMode bool) {
	session := r.session
	pos := fix.Coords

	session.Observe(fix)
	n.sinks.Recorder.Record(tracking.NewSample(n.cfg.DealID, n.cfg.CarrierID, n.cfg.ClientID, fix))
	n.sinks.Renderer.Render(session.Route, &pos, followMode)

	if idx, ok := session.AdvanceStep(pos); ok {
		step := session.Route.Steps[idx]
		text := n.cfg.Phrasebook.Announcement(step)
		n.sinks.Announcer.Speak(text)
		n.notify(r, Event{Kind: EventStepAnnounced, StepIndex: &idx, DistanceM: step.Distance.Meters, Text: text})
		n.logger.Debug("Step announced", zap.Int("step", idx))
	}

	res, distanceKm := session.CheckProximity(pos)
	if res.Crossed {
		text := n.cfg.Phrasebook.Proximity(res.ThresholdKm)
		n.sinks.Announcer.Speak(text)
		n.notify(r, Event{Kind: EventProximity, ThresholdKm: res.ThresholdKm, DistanceM: distanceKm * 1000, Text: text})
		n.logger.Debug("Proximity threshold crossed", zap.Float64("thresholdKm", res.ThresholdKm))
	}
	if res.Arrived {
		text := n.cfg.Phrasebook.Arrived()
		n.sinks.Announcer.Speak(text)
		n.notify(r, Event{Kind: EventArrived, DistanceM: distanceKm * 1000, Text: text})
		n.logger.Info("Arrived at destination", zap.String("sessionId", session.ID))
	}
}

func (n *Navigator) handleError(r *run, err error) {
	code := geolocation.PositionUnavailable
	var geoErr *geolocation.Error
	if errors.As(err, &geoErr) {
		code = geoErr.Code
	}
	n.logger.Warn("Position error", zap.String("code", string(code)), zap.Error(err))
	n.notify(r, Event{Kind: EventPositionError, ErrorCode: string(code), Text: n.cfg.Phrasebook.PositionError()})
}

func (n *Navigator) handleCancel(r *run, reason string) {
	n.sinks.Announcer.Cancel()
	n.notify(r, Event{Kind: EventCancelled, Text: n.cfg.Phrasebook.Cancelled(), Redirect: ExitRedirect})
	n.logger.Info("Navigation interrupted by cancellation", zap.String("reason", reason))
}

func (n *Navigator) handleCommand(r *run, cmd command, followMode bool) bool {
	switch cmd.kind {
	case cmdRecenter:
		if pos := r.session.CurrentPosition; pos != nil {
			n.sinks.Renderer.Recenter(pos.Coords)
		}
	case cmdFollowMode:
		followMode = cmd.follow
		var pos *geo.Coordinate
		if cur := r.session.CurrentPosition; cur != nil {
			c := cur.Coords
			pos = &c
		}
		n.sinks.Renderer.Render(r.session.Route, pos, followMode)
	case cmdSnapshot:
		snap := r.session.Snapshot()
		snap.FollowMode = followMode
		cmd.reply <- snap
	}
	return followMode
}

func (n *Navigator) notify(r *run, event Event) {
	event.DealID = n.cfg.DealID
	event.SessionID = r.session.ID
	event.At = time.Now()
	n.sinks.Notifier.Notify(event)
}
