package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/app/command"
	"github.com/danghamo/haulnav/internal/directions"
	"github.com/danghamo/haulnav/internal/domain/deal"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/internal/mapview"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/internal/tracking"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

const feedAttachTimeout = time.Second

// Recorder persists position samples. Satisfied by *tracking.AsyncRecorder.
type Recorder interface {
	navigation.PositionRecorder
	Forget(dealID string)
}

// ActivityTracker publishes which deals are being navigated. Satisfied by
// *LiveBroadcaster.
type ActivityTracker interface {
	Track(dealID, carrierID, clientID string)
	Touch(dealID string)
	Untrack(dealID string)
}

// NavigationOptions are the defaults applied to every navigation
type NavigationOptions struct {
	Locale       string
	FollowMode   bool
	TravelMode   directions.TravelMode
	Alternatives bool
	Language     string
}

// StartParams describes a navigation request from the carrier. Explicit
// waypoints win over the deal's coordinates, which win over its addresses.
type StartParams struct {
	DealID             string
	CarrierID          string
	Origin             *geo.Coordinate
	OriginAddress      string
	Destination        *geo.Coordinate
	DestinationAddress string
	TravelMode         string
	Alternatives       *bool
}

// NavigationStatus is what the carrier sees for a deal
type NavigationStatus struct {
	DealID  string                      `json:"deal_id"`
	Running bool                        `json:"running"`
	Plan    directions.PlanResult       `json:"plan"`
	Session *navigation.SessionSnapshot `json:"session,omitempty"`
}

// trip is the navigation state of one deal on this server. At most one
// plan or launch runs for a trip at a time.
type trip struct {
	dealID    string
	carrierID string
	clientID  string
	planner   *directions.Planner

	mu        sync.Mutex
	feed      *geolocation.Feed
	navigator *navigation.Navigator
	busy      bool
	// halted is set by Stop and cleared by the next plan
	halted bool
	closed bool
}

// begin claims the trip for planning. It fails while another plan or
// launch is in flight or after the trip was closed.
func (t *trip) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy || t.closed {
		return false
	}
	t.busy, t.halted = true, false
	return true
}

func (t *trip) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
}

func (t *trip) planning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// close refuses every later launch and returns the navigator to interrupt
func (t *trip) close() *navigation.Navigator {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.navigator
}

// halt keeps an in-flight plan from starting a navigator
func (t *trip) halt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.halted = true
}

func (t *trip) current() (*geolocation.Feed, *navigation.Navigator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feed, t.navigator
}

func (t *trip) running() bool {
	_, nav := t.current()
	return nav != nil && nav.Running()
}

// stop ends the current navigator, if any
func (t *trip) stop() {
	if _, nav := t.current(); nav != nil {
		nav.Stop()
	}
}

// NavigationService runs one navigator per deal and routes device input,
// carrier commands and deal cancellations to it
type NavigationService struct {
	deals      deal.Repository
	commands   command.CommandHandler
	fetcher    directions.Fetcher
	recorder   Recorder
	notifier   UserNotifier
	activity   ActivityTracker
	phrasebook *navigation.Phrasebook
	opts       NavigationOptions
	logger     *logger.Logger

	// navigators outlive the requests that start them
	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	trips map[string]*trip
}

// NewNavigationService creates a new navigation service. activity may be nil.
func NewNavigationService(
	deals deal.Repository,
	commands command.CommandHandler,
	fetcher directions.Fetcher,
	recorder Recorder,
	notifier UserNotifier,
	activity ActivityTracker,
	opts NavigationOptions,
	log *logger.Logger,
) (*NavigationService, error) {
	if opts.Locale == "" {
		opts.Locale = navigation.DefaultLocale
	}
	phrasebook, err := navigation.LoadPhrasebook(opts.Locale)
	if err != nil {
		return nil, err
	}
	if opts.TravelMode == "" {
		opts.TravelMode = directions.ModeDriving
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &NavigationService{
		deals:      deals,
		commands:   commands,
		fetcher:    fetcher,
		recorder:   recorder,
		notifier:   notifier,
		activity:   activity,
		phrasebook: phrasebook,
		opts:       opts,
		logger:     log.WithComponent("navigation-service"),
		baseCtx:    ctx,
		cancel:     cancel,
		trips:      make(map[string]*trip),
	}, nil
}

// Start plans a route for the deal and starts tracking. While a navigation
// is running for the deal it only reports the current status. A failed plan
// is kept so RetryRoute can re-issue it.
func (s *NavigationService) Start(ctx context.Context, params StartParams) (*NavigationStatus, error) {
	log := s.logger.WithDealID(params.DealID).WithUserID(params.CarrierID)

	if t, ok := s.trip(params.DealID); ok && (t.running() || t.planning()) {
		if t.carrierID != params.CarrierID {
			return nil, shared.ErrForbidden("navigate a deal assigned to another carrier")
		}
		log.Debug("Navigation already started")
		return s.status(t), nil
	}

	d, err := s.loadDeal(ctx, params.DealID, params.CarrierID)
	if err != nil {
		return nil, err
	}

	req := s.buildRequest(d, params)
	if req.Origin.IsZero() || req.Destination.IsZero() {
		return nil, shared.ErrInvalidInput("origin and destination are required")
	}

	t := &trip{
		dealID:    params.DealID,
		carrierID: d.CarrierID,
		clientID:  d.ClientID,
		planner:   directions.NewPlanner(s.fetcher),
		busy:      true,
	}
	s.mu.Lock()
	if prev, ok := s.trips[params.DealID]; ok && (prev.running() || prev.planning()) {
		s.mu.Unlock()
		log.Debug("Navigation already started")
		return s.status(prev), nil
	}
	s.trips[params.DealID] = t
	s.mu.Unlock()
	defer t.end()

	route, err := t.planner.Plan(ctx, req)
	if err != nil {
		log.Warn("Route unavailable",
			zap.String("origin", req.Origin.String()),
			zap.String("destination", req.Destination.String()),
			zap.Error(err))
		return s.status(t), err
	}

	if err := s.launch(ctx, t, route); err != nil {
		return nil, err
	}
	return s.status(t), nil
}

// RetryRoute re-issues the last route request for the deal
func (s *NavigationService) RetryRoute(ctx context.Context, dealID, carrierID string) (*NavigationStatus, error) {
	t, err := s.carrierTrip(dealID, carrierID)
	if err != nil {
		return nil, err
	}
	if t.running() || !t.begin() {
		return s.status(t), nil
	}
	defer t.end()

	route, err := t.planner.Retry(ctx)
	if err != nil {
		return s.status(t), err
	}
	if err := s.launch(ctx, t, route); err != nil {
		return nil, err
	}
	return s.status(t), nil
}

// SelectRoute switches to an alternative route. Tracking restarts with a
// fresh session.
func (s *NavigationService) SelectRoute(ctx context.Context, dealID, carrierID string, index int) (*NavigationStatus, error) {
	t, err := s.carrierTrip(dealID, carrierID)
	if err != nil {
		return nil, err
	}

	if !t.begin() {
		return nil, shared.ErrInvalidOperation("select a route while planning")
	}
	defer t.end()

	current := t.planner.Result().Selected
	route, err := t.planner.Select(index)
	if err != nil {
		return nil, err
	}
	if index == current && t.running() {
		return s.status(t), nil
	}
	t.stop()
	if err := s.launch(ctx, t, route); err != nil {
		return nil, err
	}
	return s.status(t), nil
}

// Stop ends tracking for the deal. Stopping twice is a no-op.
func (s *NavigationService) Stop(dealID, carrierID string) (*NavigationStatus, error) {
	t, err := s.carrierTrip(dealID, carrierID)
	if err != nil {
		return nil, err
	}
	t.halt()
	t.stop()
	s.release(t)
	return s.status(t), nil
}

// Recenter moves the carrier's map to the live marker
func (s *NavigationService) Recenter(dealID, carrierID string) error {
	t, err := s.runningTrip(dealID, carrierID)
	if err != nil {
		return err
	}
	_, nav := t.current()
	if err := nav.Recenter(); errors.Is(err, navigation.ErrNotRunning) {
		return shared.ErrSessionNotFound(dealID)
	} else if err != nil {
		return err
	}
	return nil
}

// SetFollowMode toggles continuous recentering for the deal
func (s *NavigationService) SetFollowMode(dealID, carrierID string, enabled bool) error {
	t, err := s.carrierTrip(dealID, carrierID)
	if err != nil {
		return err
	}
	_, nav := t.current()
	if nav == nil {
		return shared.ErrSessionNotFound(dealID)
	}
	return nav.SetFollowMode(enabled)
}

// Status reports the plan and session of a deal to one of its participants
func (s *NavigationService) Status(dealID, userID string) (*NavigationStatus, error) {
	t, ok := s.trip(dealID)
	if !ok {
		return nil, shared.ErrSessionNotFound(dealID)
	}
	if t.carrierID != userID && t.clientID != userID {
		return nil, shared.ErrForbidden("view this navigation")
	}
	return s.status(t), nil
}

// ReportPosition feeds a device fix into the running navigation
func (s *NavigationService) ReportPosition(dealID, carrierID string, fix geolocation.Fix) error {
	if err := fix.Coords.Validate(); err != nil {
		return shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "invalid position")
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}

	t, err := s.runningTrip(dealID, carrierID)
	if err != nil {
		return err
	}
	feed, _ := t.current()
	if !feed.Push(fix) {
		return shared.ErrSessionNotFound(dealID)
	}
	if s.activity != nil {
		s.activity.Touch(dealID)
	}
	return nil
}

// ReportError forwards a device position failure. It never ends the session.
func (s *NavigationService) ReportError(dealID, carrierID string, code geolocation.ErrorCode, message string) error {
	t, err := s.runningTrip(dealID, carrierID)
	if err != nil {
		return err
	}
	feed, _ := t.current()
	if !feed.Fail(geolocation.NewError(code, message)) {
		s.logger.WithDealID(dealID).Debug("Position error dropped", zap.String("code", string(code)))
	}
	return nil
}

// HandleDealCancelled interrupts the navigation of a cancelled deal. It
// reports whether a running navigation was interrupted.
func (s *NavigationService) HandleDealCancelled(dealID, reason string) bool {
	s.mu.Lock()
	t, ok := s.trips[dealID]
	if ok {
		delete(s.trips, dealID)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	interrupted := false
	if nav := t.close(); nav != nil {
		interrupted = nav.Cancel(reason)
	}
	s.release(t)
	s.recorder.Forget(dealID)

	s.logger.WithDealID(dealID).Info("Navigation closed by deal cancellation",
		zap.Bool("interrupted", interrupted),
		zap.String("reason", reason))
	return interrupted
}

// Active returns how many navigations are running on this server
func (s *NavigationService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.trips {
		if t.running() {
			n++
		}
	}
	return n
}

// Shutdown stops every navigation
func (s *NavigationService) Shutdown() {
	s.mu.Lock()
	trips := make([]*trip, 0, len(s.trips))
	for _, t := range s.trips {
		trips = append(trips, t)
	}
	s.trips = make(map[string]*trip)
	s.mu.Unlock()

	for _, t := range trips {
		t.close()
		t.stop()
		s.release(t)
	}
	s.cancel()
	s.logger.Info("Navigation service stopped", zap.Int("navigations", len(trips)))
}

// launch marks the deal in transit and starts a navigator on route. The
// caller holds the trip through begin.
func (s *NavigationService) launch(ctx context.Context, t *trip, route *navigation.Route) error {
	t.mu.Lock()
	closed, halted := t.closed, t.halted
	t.mu.Unlock()
	switch {
	case closed:
		return shared.NewDomainErrorf(shared.ErrCodeDealClosed, "deal %s was cancelled", t.dealID)
	case halted:
		return nil
	}

	if err := s.commands.Handle(ctx, command.NewStartTransitCommand(t.dealID, t.carrierID)); err != nil {
		return err
	}

	log := s.logger.WithDealID(t.dealID)
	channel := &userChannel{
		ctx:      s.baseCtx,
		notifier: s.notifier,
		dealID:   t.dealID,
		users:    []string{t.carrierID},
		logger:   log,
	}

	follow := s.opts.FollowMode
	if _, prev := t.current(); prev != nil {
		if snap, ok := prev.Snapshot(); ok {
			follow = snap.FollowMode
		}
	}

	feed := geolocation.NewFeed()
	nav := navigation.NewNavigator(navigation.Config{
		DealID:     t.dealID,
		CarrierID:  t.carrierID,
		ClientID:   t.clientID,
		Route:      route,
		Phrasebook: s.phrasebook,
		FollowMode: follow,
	}, feed, navigation.Sinks{
		Announcer: speechChannel{channel},
		Renderer:  mapview.NewRenderer(channel, log),
		Recorder:  s.recorder,
		Notifier:  eventChannel{userChannel: channel, clientID: t.clientID},
	}, log)

	// a cancellation either sees this navigator or makes us drop it
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		log.Info("Navigation dropped, deal cancelled while planning")
		return shared.NewDomainErrorf(shared.ErrCodeDealClosed, "deal %s was cancelled", t.dealID)
	case t.halted:
		t.mu.Unlock()
		log.Info("Navigation dropped, stopped while planning")
		return nil
	}
	t.feed, t.navigator = feed, nav
	nav.Start(s.baseCtx)
	t.mu.Unlock()
	waitAttached(feed, nav.Done())

	if s.activity != nil {
		s.activity.Track(t.dealID, t.carrierID, t.clientID)
	}
	log.Info("Navigation launched",
		zap.String("summary", route.Summary),
		zap.Float64("distanceM", route.Distance.Meters),
		zap.Int("steps", len(route.Steps)))
	return nil
}

func (s *NavigationService) release(t *trip) {
	if s.activity != nil {
		s.activity.Untrack(t.dealID)
	}
}

// waitAttached blocks until the navigator's watch is reading the feed so the
// first pushed fix is not refused
func waitAttached(feed *geolocation.Feed, done <-chan struct{}) {
	deadline := time.NewTimer(feedAttachTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()

	for !feed.Watching() {
		select {
		case <-done:
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

func (s *NavigationService) buildRequest(d *deal.Deal, params StartParams) directions.Request {
	req := directions.Request{
		Origin:       waypoint(params.Origin, params.OriginAddress, d.PickupCoords, d.PickupAddress),
		Destination:  waypoint(params.Destination, params.DestinationAddress, d.DeliveryCoords, d.DeliveryAddress),
		TravelMode:   s.opts.TravelMode,
		Alternatives: s.opts.Alternatives,
		Language:     s.opts.Language,
	}
	if params.TravelMode != "" {
		req.TravelMode = directions.ParseTravelMode(params.TravelMode)
	}
	if params.Alternatives != nil {
		req.Alternatives = *params.Alternatives
	}
	return req
}

func waypoint(coords *geo.Coordinate, address string, dealCoords *geo.Coordinate, dealAddress string) directions.Waypoint {
	switch {
	case coords != nil:
		return directions.At(*coords)
	case strings.TrimSpace(address) != "":
		return directions.Address(address)
	case dealCoords != nil:
		return directions.At(*dealCoords)
	default:
		return directions.Address(dealAddress)
	}
}

func (s *NavigationService) loadDeal(ctx context.Context, dealID, carrierID string) (*deal.Deal, error) {
	d, err := s.deals.GetByID(ctx, deal.ID(dealID))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, shared.ErrNotFound("deal")
	}
	if d.CarrierID == "" || d.CarrierID != carrierID {
		return nil, shared.ErrForbidden("navigate a deal assigned to another carrier")
	}
	if d.Status.IsTerminal() {
		return nil, shared.NewDomainErrorf(shared.ErrCodeDealClosed, "deal %s is already %s", d.ID, d.Status)
	}
	return d, nil
}

func (s *NavigationService) trip(dealID string) (*trip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[dealID]
	return t, ok
}

func (s *NavigationService) carrierTrip(dealID, carrierID string) (*trip, error) {
	t, ok := s.trip(dealID)
	if !ok {
		return nil, shared.ErrSessionNotFound(dealID)
	}
	if t.carrierID != carrierID {
		return nil, shared.ErrForbidden("navigate a deal assigned to another carrier")
	}
	return t, nil
}

func (s *NavigationService) runningTrip(dealID, carrierID string) (*trip, error) {
	t, err := s.carrierTrip(dealID, carrierID)
	if err != nil {
		return nil, err
	}
	if !t.running() {
		return nil, shared.ErrSessionNotFound(dealID)
	}
	return t, nil
}

func (s *NavigationService) status(t *trip) *NavigationStatus {
	_, nav := t.current()
	st := &NavigationStatus{
		DealID: t.dealID,
		Plan:   t.planner.Result(),
	}
	if nav != nil {
		st.Running = nav.Running()
		if snap, ok := nav.Snapshot(); ok {
			st.Session = &snap
		}
	}
	return st
}

var _ Recorder = (*tracking.AsyncRecorder)(nil)
