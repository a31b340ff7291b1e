package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/api/middleware"
	"github.com/danghamo/haulnav/pkg/logger"
)

// recordingWriter is a goroutine-safe ResponseWriter + Flusher
type recordingWriter struct {
	mu     sync.Mutex
	header http.Header
	body   strings.Builder
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{header: make(http.Header)}
}

func (w *recordingWriter) Header() http.Header { return w.header }
func (w *recordingWriter) WriteHeader(int)     {}
func (w *recordingWriter) Flush()              {}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.Write(p)
}

func (w *recordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.body.String()
}

func newClient(id, userID string, w *recordingWriter) *SSEClient {
	return &SSEClient{
		ID:       id,
		UserID:   userID,
		Writer:   w,
		Flusher:  w,
		Done:     make(chan bool),
		LastSeen: time.Now(),
	}
}

func TestSSEBroadcaster_BroadcastToUsers(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())
	defer broadcaster.Close()

	alice1, alice2, bob := newRecordingWriter(), newRecordingWriter(), newRecordingWriter()
	broadcaster.AddClient(newClient("client1", "alice", alice1))
	broadcaster.AddClient(newClient("client2", "alice", alice2))
	broadcaster.AddClient(newClient("client3", "bob", bob))

	broadcaster.BroadcastToUsers([]string{"alice", "charlie"}, jsonrpcx.NewNotification("navigation.speech.speak", map[string]string{
		"text": "Turn right",
	}))

	assert.Eventually(t, func() bool {
		return strings.Contains(alice1.String(), "navigation.speech.speak") &&
			strings.Contains(alice2.String(), "navigation.speech.speak")
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.String())
	assert.Equal(t, 3, broadcaster.GetClientCount())
}

func TestSSEBroadcaster_BroadcastToAll(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())
	defer broadcaster.Close()

	alice, bob := newRecordingWriter(), newRecordingWriter()
	broadcaster.AddClient(newClient("client1", "alice", alice))
	broadcaster.AddClient(newClient("client2", "bob", bob))

	broadcaster.BroadcastToAll(jsonrpcx.NewNotification("server.notice", nil))

	assert.Eventually(t, func() bool {
		return strings.Contains(alice.String(), "server.notice") && strings.Contains(bob.String(), "server.notice")
	}, time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(alice.String(), "data: "))
	assert.True(t, strings.HasSuffix(alice.String(), "\n\n"))
}

func TestSSEBroadcaster_RemoveClientCleansUserIndex(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())
	defer broadcaster.Close()

	broadcaster.AddClient(newClient("client1", "alice", newRecordingWriter()))
	require.True(t, broadcaster.IsConnected("alice"))

	broadcaster.RemoveClient("client1")
	broadcaster.RemoveClient("client1")

	assert.False(t, broadcaster.IsConnected("alice"))
	assert.Equal(t, 0, broadcaster.GetClientCount())
}

func TestSSEBroadcaster_RemoveStale(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())
	defer broadcaster.Close()

	stale := newClient("old", "alice", newRecordingWriter())
	stale.LastSeen = time.Now().Add(-2 * staleAfter)
	broadcaster.AddClient(stale)
	broadcaster.AddClient(newClient("fresh", "bob", newRecordingWriter()))

	broadcaster.removeStale(time.Now())

	assert.False(t, broadcaster.IsConnected("alice"))
	assert.True(t, broadcaster.IsConnected("bob"))
}

func TestSSEBroadcaster_EmptyTargetsAndClose(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())

	notification := jsonrpcx.NewNotification("test.message", nil)
	broadcaster.BroadcastToUsers([]string{}, notification)
	broadcaster.BroadcastToUsers(nil, notification)

	broadcaster.Close()
	broadcaster.Close()

	// Publishing after close must not panic
	broadcaster.BroadcastToAll(notification)
	assert.Equal(t, 0, broadcaster.GetClientCount())
}

func TestSSEBroadcaster_HandleSSE(t *testing.T) {
	broadcaster := NewSSEBroadcaster(logger.NewNop())
	defer broadcaster.Close()

	t.Run("rejects anonymous stream", func(t *testing.T) {
		rec := httptest.NewRecorder()
		broadcaster.HandleSSE(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stream/events", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("streams until request is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.WithValue(context.Background(), middleware.UserIDContextKey, "alice"))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/events", nil).WithContext(ctx)
		w := newRecordingWriter()

		done := make(chan struct{})
		go func() {
			broadcaster.HandleSSE(w, req)
			close(done)
		}()

		require.Eventually(t, func() bool {
			return broadcaster.IsConnected("alice") && strings.Contains(w.String(), "stream.connected")
		}, time.Second, 10*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("HandleSSE did not return after cancellation")
		}
		assert.False(t, broadcaster.IsConnected("alice"))
	})
}
