package directions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/navigation"
	"github.com/danghamo/haulnav/pkg/geo"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req Request) ([]navigation.Route, error) {
	args := m.Called(ctx, req)
	routes, _ := args.Get(0).([]navigation.Route)
	return routes, args.Error(1)
}

func twoRoutes() []navigation.Route {
	return []navigation.Route{
		{Summary: "fastest", Points: []geo.Coordinate{moscow, khimki}},
		{Summary: "scenic", Points: []geo.Coordinate{moscow, {Lat: 55.8, Lng: 37.7}, khimki}},
	}
}

func TestPlanner_FailureThenRetryKeepsAddresses(t *testing.T) {
	req := Request{
		Origin:      Address("Tverskaya 1, Moscow"),
		Destination: Address("Leningradskaya 1, Khimki"),
		TravelMode:  ModeDriving,
	}

	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, req).Return(nil, shared.ErrRouteUnavailable(errors.New("dial tcp: connection refused"))).Once()
	fetcher.On("Fetch", mock.Anything, req).Return(twoRoutes(), nil).Once()

	planner := NewPlanner(fetcher)
	assert.Equal(t, StateIdle, planner.State())

	_, err := planner.Plan(context.Background(), req)
	require.Error(t, err)
	assert.True(t, shared.HasCode(err, shared.ErrCodeRouteUnavailable))
	assert.Equal(t, StateUnavailable, planner.State())
	assert.Error(t, planner.Err())

	// The addresses survive the failure
	res := planner.Result()
	require.NotNil(t, res.Request)
	assert.Equal(t, req, *res.Request)

	route, err := planner.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fastest", route.Summary)
	assert.False(t, route.IsEmpty())
	assert.Equal(t, StateReady, planner.State())
	assert.NoError(t, planner.Err())

	fetcher.AssertExpectations(t)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestPlanner_WrapsForeignErrors(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := NewPlanner(fetcher).Plan(context.Background(), Request{Origin: At(moscow), Destination: At(khimki)})
	assert.Equal(t, shared.ErrCodeRouteUnavailable, shared.ErrorCode(err))
}

func TestPlanner_EmptyResultIsUnavailable(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, nil)
	planner := NewPlanner(fetcher)

	route, err := planner.Plan(context.Background(), Request{Origin: At(moscow), Destination: At(khimki)})
	assert.Nil(t, route)
	assert.Equal(t, shared.ErrCodeRouteUnavailable, shared.ErrorCode(err))
	assert.ErrorIs(t, err, errNoRoute)
	assert.Equal(t, StateUnavailable, planner.State())
	assert.NotNil(t, planner.Result().Request)
}

func TestPlanner_RetryWithoutRequest(t *testing.T) {
	_, err := NewPlanner(&MockFetcher{}).Retry(context.Background())
	assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidOperation))
}

func TestPlanner_Select(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(twoRoutes(), nil)
	planner := NewPlanner(fetcher)

	_, err := planner.Select(0)
	assert.True(t, shared.HasCode(err, shared.ErrCodeNoRouteSelected))

	_, err = planner.Plan(context.Background(), Request{Origin: At(moscow), Destination: At(khimki), Alternatives: true})
	require.NoError(t, err)

	route, err := planner.Select(1)
	require.NoError(t, err)
	assert.Equal(t, "scenic", route.Summary)

	selected, ok := planner.Selected()
	require.True(t, ok)
	assert.Equal(t, "scenic", selected.Summary)

	_, err = planner.Select(2)
	assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidRouteIndex))
	_, err = planner.Select(-1)
	assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidRouteIndex))

	// A new plan resets the selection
	_, err = planner.Plan(context.Background(), Request{Origin: At(moscow), Destination: At(khimki)})
	require.NoError(t, err)
	assert.Equal(t, 0, planner.Result().Selected)
	assert.Len(t, planner.Result().Routes, 2)
}
