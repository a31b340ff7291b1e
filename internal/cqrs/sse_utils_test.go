package cqrs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockEventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
	PublishedEvents []interface{}
}

func (m *MockEventPublisher) Publish(ctx context.Context, event interface{}) error {
	m.PublishedEvents = append(m.PublishedEvents, event)
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestSSEBroadcastHelper_BroadcastToAll(t *testing.T) {
	mockPublisher := &MockEventPublisher{}
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	helper := NewSSEBroadcastHelper(mockPublisher)
	params := map[string]interface{}{"message": "maintenance in 10 minutes"}

	err := helper.BroadcastToAll(context.Background(), "server.notice", params)

	require.NoError(t, err)
	require.Len(t, mockPublisher.PublishedEvents, 1)

	event, ok := mockPublisher.PublishedEvents[0].(*SSENotificationEvent)
	require.True(t, ok)
	assert.Equal(t, SSENotificationTypeBroadcast, event.Type)
	assert.Equal(t, "server.notice", event.Method)
	assert.Equal(t, params, event.Params)
	assert.Empty(t, event.TargetUsers)
	assert.NotEmpty(t, event.RequestID)
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestSSEBroadcastHelper_BroadcastToUsers(t *testing.T) {
	mockPublisher := &MockEventPublisher{}
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	helper := NewSSEBroadcastHelper(mockPublisher)
	params := map[string]interface{}{"deal_id": "d1", "threshold_km": 5.0}

	err := helper.BroadcastToUsers(context.Background(), []string{"client", "", "carrier", "client"}, "navigation.proximity", params)

	require.NoError(t, err)
	require.Len(t, mockPublisher.PublishedEvents, 1)

	event := mockPublisher.PublishedEvents[0].(*SSENotificationEvent)
	assert.Equal(t, SSENotificationTypeUsers, event.Type)
	assert.Equal(t, []string{"client", "carrier"}, event.TargetUsers)
	assert.Equal(t, params, event.Params)
}

func TestSSEBroadcastHelper_BroadcastToUsers_EmptyList(t *testing.T) {
	mockPublisher := &MockEventPublisher{}
	helper := NewSSEBroadcastHelper(mockPublisher)
	ctx := context.Background()

	assert.NoError(t, helper.BroadcastToUsers(ctx, []string{}, "test.method", nil))
	assert.NoError(t, helper.BroadcastToUsers(ctx, nil, "test.method", nil))
	assert.NoError(t, helper.BroadcastToUsers(ctx, []string{""}, "test.method", nil))
	assert.Empty(t, mockPublisher.PublishedEvents)
}

func TestSSEBroadcastHelper_PropagatesPublishError(t *testing.T) {
	mockPublisher := &MockEventPublisher{}
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	helper := NewSSEBroadcastHelper(mockPublisher)

	err := helper.BroadcastToUsers(context.Background(), []string{"client"}, "navigation.arrived", nil)
	assert.EqualError(t, err, "redis down")
	mockPublisher.AssertExpectations(t)
}
