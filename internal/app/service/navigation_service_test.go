package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/app/command"
	"github.com/danghamo/haulnav/internal/app/handler"
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

// memoryRepo is an in-process deal.Repository
type memoryRepo struct {
	mu    sync.Mutex
	deals map[deal.ID]deal.Deal
}

func (r *memoryRepo) FindOneAndInsert(_ context.Context, id deal.ID, callback func() (*deal.Deal, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := callback()
	if err != nil {
		return err
	}
	r.deals[id] = *d
	return nil
}

func (r *memoryRepo) FindOneAndUpdate(_ context.Context, id deal.ID, callback func(*deal.Deal) (*deal.Deal, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *deal.Deal
	if d, ok := r.deals[id]; ok {
		current = &d
	}
	updated, err := callback(current)
	if err != nil {
		return err
	}
	r.deals[id] = *updated
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id deal.ID) (*deal.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *memoryRepo) ListByParticipant(context.Context, string) ([]*deal.Deal, error) {
	return nil, nil
}

func (r *memoryRepo) Delete(_ context.Context, id deal.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deals, id)
	return nil
}

// MockFetcher is a mock implementation of directions.Fetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req directions.Request) ([]navigation.Route, error) {
	args := m.Called(ctx, req)
	routes, _ := args.Get(0).([]navigation.Route)
	return routes, args.Error(1)
}

type fakeRecorder struct {
	mu        sync.Mutex
	samples   []tracking.Sample
	forgotten []string
}

func (r *fakeRecorder) Record(sample tracking.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
}

func (r *fakeRecorder) Forget(dealID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, dealID)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type sentNotification struct {
	users  []string
	method string
	params interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) BroadcastToUsers(_ context.Context, users []string, method string, params interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{users: users, method: method, params: params})
	return nil
}

func (n *recordingNotifier) find(method, user string) []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentNotification
	for _, s := range n.sent {
		if s.method != method {
			continue
		}
		for _, u := range s.users {
			if u == user {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (n *recordingNotifier) events(user string, kind navigation.EventKind) int {
	count := 0
	for _, s := range n.find(MethodEvent, user) {
		if e, ok := s.params.(navigation.Event); ok && e.Kind == kind {
			count++
		}
	}
	return count
}

type fakeActivity struct {
	mu     sync.Mutex
	active map[string]bool
}

func (a *fakeActivity) Track(dealID, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[dealID] = true
}

func (a *fakeActivity) Touch(string) {}

func (a *fakeActivity) Untrack(dealID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, dealID)
}

func (a *fakeActivity) isActive(dealID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[dealID]
}

// gatedFetcher holds every fetch until release is closed
type gatedFetcher struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedFetcher) Fetch(ctx context.Context, _ directions.Request) ([]navigation.Route, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}

	select {
	case <-g.release:
		return []navigation.Route{testRoute("main")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedFetcher) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testRoute(summary string) navigation.Route {
	pts := []geo.Coordinate{
		{Lat: 55.70, Lng: 37.6},
		{Lat: 55.73, Lng: 37.6},
		{Lat: 55.76, Lng: 37.6},
		{Lat: 55.80, Lng: 37.6},
	}
	step := func(i int, text string, meters float64) navigation.RouteStep {
		return navigation.RouteStep{
			Instruction:   text,
			Distance:      navigation.Distance{Meters: meters},
			StartLocation: pts[i],
			EndLocation:   pts[i+1],
		}
	}
	return navigation.Route{
		Summary:  summary,
		Distance: navigation.Distance{Meters: 11120},
		Points:   pts,
		Steps: []navigation.RouteStep{
			step(0, "Head north", 3336),
			step(1, "Continue straight", 3336),
			step(2, "Keep right to the destination", 4448),
		},
	}
}

type fixture struct {
	svc      *NavigationService
	repo     *memoryRepo
	fetcher  *MockFetcher
	recorder *fakeRecorder
	notifier *recordingNotifier
	activity *fakeActivity
	dealID   string
}

func newFixture(t *testing.T, withCoords bool) *fixture {
	t.Helper()
	return newFixtureWith(t, withCoords, nil)
}

// newFixtureWith builds the service on fetcher instead of the mock
func newFixtureWith(t *testing.T, withCoords bool, fetcher directions.Fetcher) *fixture {
	t.Helper()

	f := &fixture{
		repo:     &memoryRepo{deals: make(map[deal.ID]deal.Deal)},
		fetcher:  &MockFetcher{},
		recorder: &fakeRecorder{},
		notifier: &recordingNotifier{},
		activity: &fakeActivity{active: make(map[string]bool)},
	}
	commands := handler.NewDealCommandHandler(f.repo, nil, logger.NewNop())

	var pickup, delivery *geo.Coordinate
	if withCoords {
		pickup = &geo.Coordinate{Lat: 55.70, Lng: 37.6}
		delivery = &geo.Coordinate{Lat: 55.80, Lng: 37.6}
	}
	create := command.NewCreateDealCommand("client-1", "Warehouse 4", "Tverskaya 1", pickup, delivery)
	require.NoError(t, commands.Handle(context.Background(), create))
	f.dealID = create.AggregateID()
	require.NoError(t, commands.Handle(context.Background(), command.NewAcceptDealCommand(f.dealID, "carrier-1")))

	if fetcher == nil {
		fetcher = f.fetcher
	}
	svc, err := NewNavigationService(f.repo, commands, fetcher, f.recorder, f.notifier, f.activity,
		NavigationOptions{Locale: "en", FollowMode: true}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	f.svc = svc
	return f
}

func (f *fixture) dealStatus(t *testing.T) deal.Status {
	d, err := f.repo.GetByID(context.Background(), deal.ID(f.dealID))
	require.NoError(t, err)
	return d.Status
}

func trail() []geolocation.Fix {
	fixes := make([]geolocation.Fix, 0, 51)
	for i := 0; i <= 50; i++ {
		fixes = append(fixes, geolocation.Fix{Coords: geo.Coordinate{Lat: 55.70 + float64(i)*0.002, Lng: 37.6}, SpeedKmh: 40})
	}
	return fixes
}

func TestNavigationService_Delivery(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]navigation.Route{testRoute("main")}, nil).Once()
	ctx := context.Background()

	st, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, directions.StateReady, st.Plan.State)
	assert.Equal(t, deal.StatusInTransit, f.dealStatus(t))
	assert.True(t, f.activity.isActive(f.dealID))

	req := f.fetcher.Calls[0].Arguments.Get(1).(directions.Request)
	require.NotNil(t, req.Origin.Coords)
	assert.Equal(t, 55.70, req.Origin.Coords.Lat)
	assert.Equal(t, 55.80, req.Destination.Coords.Lat)

	// Start while running only reports status
	_, err = f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)
	f.fetcher.AssertNumberOfCalls(t, "Fetch", 1)

	for _, fix := range trail() {
		require.NoError(t, f.svc.ReportPosition(f.dealID, "carrier-1", fix))
	}

	require.Eventually(t, func() bool {
		return f.notifier.events("carrier-1", navigation.EventArrived) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, f.notifier.events("carrier-1", navigation.EventStepAnnounced))
	assert.Equal(t, 4, f.notifier.events("carrier-1", navigation.EventProximity))
	assert.Equal(t, 4, f.notifier.events("client-1", navigation.EventProximity))
	assert.Equal(t, 1, f.notifier.events("client-1", navigation.EventArrived))
	assert.Len(t, f.notifier.find(mapview.MethodRoute, "carrier-1"), 1)
	assert.NotEmpty(t, f.notifier.find(MethodSpeak, "carrier-1"))
	assert.Empty(t, f.notifier.find(MethodSpeak, "client-1"))
	assert.Equal(t, 51, f.recorder.count())

	status, err := f.svc.Status(f.dealID, "client-1")
	require.NoError(t, err)
	require.NotNil(t, status.Session)
	assert.True(t, status.Session.Arrived)
	assert.Equal(t, 2, status.Session.LastAnnouncedStepIndex)
}

func TestNavigationService_RouteFailureKeepsRequestForRetry(t *testing.T) {
	f := newFixture(t, false)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]navigation.Route{testRoute("main")}, nil).Once()
	ctx := context.Background()

	st, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.Error(t, err)
	assert.Equal(t, shared.ErrCodeRouteUnavailable, shared.ErrorCode(err))
	require.NotNil(t, st)
	assert.False(t, st.Running)
	assert.Equal(t, directions.StateUnavailable, st.Plan.State)
	require.NotNil(t, st.Plan.Request)
	assert.Equal(t, "Warehouse 4", st.Plan.Request.Origin.Address)
	assert.Equal(t, "Tverskaya 1", st.Plan.Request.Destination.Address)
	assert.Equal(t, deal.StatusAccepted, f.dealStatus(t))

	st, err = f.svc.RetryRoute(ctx, f.dealID, "carrier-1")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, deal.StatusInTransit, f.dealStatus(t))

	second := f.fetcher.Calls[1].Arguments.Get(1).(directions.Request)
	assert.Equal(t, "Warehouse 4", second.Origin.Address)
	assert.Equal(t, "Tverskaya 1", second.Destination.Address)
}

func TestNavigationService_DealCancelledMidTrip(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]navigation.Route{testRoute("main")}, nil)

	_, err := f.svc.Start(context.Background(), StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)

	for _, fix := range trail()[:10] {
		require.NoError(t, f.svc.ReportPosition(f.dealID, "carrier-1", fix))
	}
	require.Eventually(t, func() bool { return f.recorder.count() == 10 }, time.Second, 5*time.Millisecond)

	assert.True(t, f.svc.HandleDealCancelled(f.dealID, "client cancelled"))
	assert.False(t, f.svc.HandleDealCancelled(f.dealID, "client cancelled"))

	assert.Equal(t, 1, f.notifier.events("carrier-1", navigation.EventCancelled))
	exits := f.notifier.find(MethodExit, "carrier-1")
	require.Len(t, exits, 1)
	assert.Equal(t, navigation.ExitRedirect, exits[0].params.(map[string]string)["redirect"])
	assert.NotEmpty(t, f.notifier.find(MethodSpeechClear, "carrier-1"))

	err = f.svc.ReportPosition(f.dealID, "carrier-1", trail()[10])
	assert.Equal(t, shared.ErrCodeSessionNotFound, shared.ErrorCode(err))
	assert.Equal(t, 10, f.recorder.count())
	assert.Equal(t, []string{f.dealID}, f.recorder.forgotten)
	assert.False(t, f.activity.isActive(f.dealID))
	assert.Equal(t, 0, f.svc.Active())
}

func TestNavigationService_StopAndRestart(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]navigation.Route{testRoute("main")}, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.ReportPosition(f.dealID, "carrier-1", trail()[0]))

	stopped, err := f.svc.Stop(f.dealID, "carrier-1")
	require.NoError(t, err)
	assert.False(t, stopped.Running)
	_, err = f.svc.Stop(f.dealID, "carrier-1")
	require.NoError(t, err)

	err = f.svc.ReportPosition(f.dealID, "carrier-1", trail()[1])
	assert.Equal(t, shared.ErrCodeSessionNotFound, shared.ErrorCode(err))

	second, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)
	require.NotNil(t, first.Session)
	require.NotNil(t, second.Session)
	assert.NotEqual(t, first.Session.SessionID, second.Session.SessionID)
	assert.Equal(t, -1, second.Session.LastAnnouncedStepIndex)
}

func TestNavigationService_ConcurrentStartLaunchesOnce(t *testing.T) {
	gate := newGatedFetcher()
	f := newFixtureWith(t, true, gate)
	params := StartParams{DealID: f.dealID, CarrierID: "carrier-1"}

	var wg sync.WaitGroup
	results := make([]*NavigationStatus, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Start(context.Background(), params)
		}(i)
	}

	<-gate.entered
	// a tap while planning reports the plan in progress
	during, err := f.svc.Start(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, during.Running)
	assert.Equal(t, directions.StateLoading, during.Plan.State)

	close(gate.release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, 1, gate.callCount())
	assert.Len(t, f.notifier.find(mapview.MethodRoute, "carrier-1"), 1)
	assert.Equal(t, 1, f.svc.Active())

	assert.True(t, f.svc.HandleDealCancelled(f.dealID, "client cancelled"))
	assert.Equal(t, 0, f.svc.Active())
	assert.Equal(t, 1, f.notifier.events("carrier-1", navigation.EventCancelled))

	err = f.svc.ReportPosition(f.dealID, "carrier-1", trail()[0])
	assert.Equal(t, shared.ErrCodeSessionNotFound, shared.ErrorCode(err))
	assert.False(t, f.activity.isActive(f.dealID))
}

func TestNavigationService_CancelledWhilePlanningNeverLaunches(t *testing.T) {
	gate := newGatedFetcher()
	f := newFixtureWith(t, true, gate)

	var st *NavigationStatus
	var startErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		st, startErr = f.svc.Start(context.Background(), StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	}()

	<-gate.entered
	assert.False(t, f.svc.HandleDealCancelled(f.dealID, "client cancelled"))
	close(gate.release)
	<-done

	require.Error(t, startErr)
	assert.Nil(t, st)
	assert.Equal(t, shared.ErrCodeDealClosed, shared.ErrorCode(startErr))
	assert.Empty(t, f.notifier.find(mapview.MethodRoute, "carrier-1"))
	assert.Equal(t, deal.StatusAccepted, f.dealStatus(t))
	assert.Equal(t, 0, f.svc.Active())
	assert.False(t, f.activity.isActive(f.dealID))
}

func TestNavigationService_StopWhilePlanning(t *testing.T) {
	gate := newGatedFetcher()
	f := newFixtureWith(t, true, gate)
	params := StartParams{DealID: f.dealID, CarrierID: "carrier-1"}

	var st *NavigationStatus
	var startErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		st, startErr = f.svc.Start(context.Background(), params)
	}()

	<-gate.entered
	_, err := f.svc.Stop(f.dealID, "carrier-1")
	require.NoError(t, err)
	close(gate.release)
	<-done

	require.NoError(t, startErr)
	assert.False(t, st.Running)
	assert.Empty(t, f.notifier.find(mapview.MethodRoute, "carrier-1"))
	assert.Equal(t, 0, f.svc.Active())

	// the stopped plan does not block a fresh start
	st, err = f.svc.Start(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 2, gate.callCount())
}

func TestNavigationService_SelectRoute(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return([]navigation.Route{testRoute("main"), testRoute("alternative")}, nil)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)
	assert.Len(t, first.Plan.Routes, 2)

	_, err = f.svc.SelectRoute(ctx, f.dealID, "carrier-1", 5)
	assert.Equal(t, shared.ErrCodeInvalidRouteIndex, shared.ErrorCode(err))

	same, err := f.svc.SelectRoute(ctx, f.dealID, "carrier-1", 0)
	require.NoError(t, err)
	assert.Equal(t, first.Session.SessionID, same.Session.SessionID)

	switched, err := f.svc.SelectRoute(ctx, f.dealID, "carrier-1", 1)
	require.NoError(t, err)
	assert.True(t, switched.Running)
	assert.Equal(t, 1, switched.Plan.Selected)
	assert.NotEqual(t, first.Session.SessionID, switched.Session.SessionID)
	assert.Len(t, f.notifier.find(mapview.MethodRoute, "carrier-1"), 2)
}

func TestNavigationService_AccessAndErrors(t *testing.T) {
	f := newFixture(t, true)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]navigation.Route{testRoute("main")}, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-2"})
	assert.Equal(t, shared.ErrCodeForbidden, shared.ErrorCode(err))

	_, err = f.svc.Start(ctx, StartParams{DealID: "missing", CarrierID: "carrier-1"})
	assert.Equal(t, shared.ErrCodeNotFound, shared.ErrorCode(err))

	_, err = f.svc.Status(f.dealID, "carrier-1")
	assert.Equal(t, shared.ErrCodeSessionNotFound, shared.ErrorCode(err))

	_, err = f.svc.Start(ctx, StartParams{DealID: f.dealID, CarrierID: "carrier-1"})
	require.NoError(t, err)

	_, err = f.svc.Status(f.dealID, "stranger")
	assert.Equal(t, shared.ErrCodeForbidden, shared.ErrorCode(err))

	err = f.svc.ReportPosition(f.dealID, "carrier-1", geolocation.Fix{Coords: geo.Coordinate{Lat: 120, Lng: 0}})
	assert.Equal(t, shared.ErrCodeInvalidInput, shared.ErrorCode(err))

	require.NoError(t, f.svc.ReportError(f.dealID, "carrier-1", geolocation.Timeout, "no fix"))
	require.Eventually(t, func() bool {
		return f.notifier.events("carrier-1", navigation.EventPositionError) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.svc.Active())

	require.NoError(t, f.svc.SetFollowMode(f.dealID, "carrier-1", false))
	require.NoError(t, f.svc.Recenter(f.dealID, "carrier-1"))
	status, err := f.svc.Status(f.dealID, "carrier-1")
	require.NoError(t, err)
	assert.False(t, status.Session.FollowMode)
}

func TestNewHeartbeat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	missing := newHeartbeat("d1", "c1", nil, now, 30*time.Second)
	assert.True(t, missing.Stale)
	assert.Nil(t, missing.Position)

	fresh := newHeartbeat("d1", "c1", &tracking.Sample{Timestamp: now.Add(-10 * time.Second)}, now, 30*time.Second)
	assert.False(t, fresh.Stale)
	assert.Equal(t, 10.0, fresh.AgeSeconds)

	old := newHeartbeat("d1", "c1", &tracking.Sample{Timestamp: now.Add(-time.Minute)}, now, 30*time.Second)
	assert.True(t, old.Stale)

	future := newHeartbeat("d1", "c1", &tracking.Sample{Timestamp: now.Add(time.Second)}, now, 30*time.Second)
	assert.Zero(t, future.AgeSeconds)
	assert.False(t, future.Stale)
}
