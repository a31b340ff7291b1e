package geolocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

type failingSource struct{ err error }

func (s failingSource) Watch(context.Context, chan<- Fix, chan<- error) error { return s.err }

func receiveFix(t *testing.T, sub *Subscription) Fix {
	t.Helper()
	select {
	case fix, ok := <-sub.Fixes:
		require.True(t, ok, "fix stream closed")
		return fix
	case <-time.After(time.Second):
		t.Fatal("no fix received")
	}
	return Fix{}
}

func TestWatcher_DuplicateStartIsNoop(t *testing.T) {
	w := NewWatcher(NewFeed(), logger.NewNop())
	defer w.Stop()

	first, started := w.Start(context.Background())
	require.True(t, started)

	second, started := w.Start(context.Background())
	assert.False(t, started)
	assert.Same(t, first, second)
	assert.True(t, w.Active())
}

func TestWatcher_StopIsIdempotentAndRestartIsFresh(t *testing.T) {
	feed := NewFeed()
	w := NewWatcher(feed, logger.NewNop())

	first, _ := w.Start(context.Background())
	require.Eventually(t, feed.Watching, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	assert.False(t, w.Active())
	assert.False(t, feed.Watching())
	_, open := <-first.Fixes
	assert.False(t, open)

	second, started := w.Start(context.Background())
	require.True(t, started)
	defer w.Stop()
	assert.NotEqual(t, first.ID, second.ID)

	require.Eventually(t, feed.Watching, time.Second, 5*time.Millisecond)
	require.True(t, feed.Push(Fix{Coords: geo.Coordinate{Lat: 1, Lng: 2}}))
	assert.Equal(t, 1.0, receiveFix(t, second).Coords.Lat)
}

func TestWatcher_ParentContextCancelEndsSubscription(t *testing.T) {
	w := NewWatcher(NewFeed(), logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	sub, _ := w.Start(ctx)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	assert.False(t, w.Active())

	_, started := w.Start(context.Background())
	assert.True(t, started)
	w.Stop()
}

func TestWatcher_SourceErrorIsReported(t *testing.T) {
	boom := errors.New("gps chip offline")
	w := NewWatcher(failingSource{err: boom}, logger.NewNop())
	defer w.Stop()

	sub, _ := w.Start(context.Background())
	err, ok := <-sub.Errors
	require.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestFeed_PushOrderAndErrors(t *testing.T) {
	feed := NewFeed()
	assert.False(t, feed.Push(Fix{}))
	assert.False(t, feed.Fail(NewError(Timeout, "")))

	w := NewWatcher(feed, logger.NewNop())
	defer w.Stop()
	sub, _ := w.Start(context.Background())
	require.Eventually(t, feed.Watching, time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		require.True(t, feed.Push(Fix{SpeedKmh: float64(i)}))
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, float64(i), receiveFix(t, sub).SpeedKmh)
	}

	require.True(t, feed.Fail(NewError(PermissionDenied, "user denied")))
	err := <-sub.Errors
	var geoErr *Error
	require.ErrorAs(t, err, &geoErr)
	assert.Equal(t, PermissionDenied, geoErr.Code)
}

func TestFeed_SecondWatcherIsRejected(t *testing.T) {
	feed := NewFeed()
	first := NewWatcher(feed, logger.NewNop())
	defer first.Stop()
	first.Start(context.Background())
	require.Eventually(t, feed.Watching, time.Second, 5*time.Millisecond)

	second := NewWatcher(feed, logger.NewNop())
	defer second.Stop()
	sub, _ := second.Start(context.Background())

	err := <-sub.Errors
	assert.ErrorIs(t, err, ErrFeedBusy)
}

func TestReplay_DeliversTrailInOrder(t *testing.T) {
	trail := []Fix{{SpeedKmh: 10}, {SpeedKmh: 20}, {SpeedKmh: 30}}
	w := NewWatcher(&Replay{Fixes: trail, Interval: time.Millisecond}, logger.NewNop())
	defer w.Stop()

	sub, _ := w.Start(context.Background())

	var got []float64
	for fix := range sub.Fixes {
		got = append(got, fix.SpeedKmh)
	}
	assert.Equal(t, []float64{10, 20, 30}, got)
}

func TestParseErrorCode(t *testing.T) {
	assert.Equal(t, PermissionDenied, ParseErrorCode("permission_denied"))
	assert.Equal(t, Timeout, ParseErrorCode("timeout"))
	assert.Equal(t, PositionUnavailable, ParseErrorCode("whatever"))
	assert.Contains(t, NewError(Timeout, "no fix in 10s").Error(), "timeout")
}
