package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/api/middleware"
	"github.com/danghamo/haulnav/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	cleanupInterval   = 30 * time.Second
	staleAfter        = 2 * heartbeatInterval
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	UserID   string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan bool
	LastSeen time.Time
	mutex    sync.Mutex // Protects concurrent writes to this client
}

// UserMessage represents a message targeted to a specific user
type UserMessage struct {
	UserID       string
	Notification jsonrpcx.Notification
}

// SSEBroadcaster manages SSE connections and broadcasts
type SSEBroadcaster struct {
	logger        *logger.Logger
	clients       map[string]*SSEClient
	userClients   map[string][]*SSEClient // Map userID to their clients
	mutex         sync.RWMutex
	broadcast     chan []byte
	userBroadcast chan UserMessage
	cleanup       *time.Ticker
	shutdown      chan struct{} // Global shutdown signal
	closeOnce     sync.Once
}

// NewSSEBroadcaster creates a new SSE broadcaster
func NewSSEBroadcaster(logger *logger.Logger) *SSEBroadcaster {
	broadcaster := &SSEBroadcaster{
		logger:        logger.WithComponent("sse-broadcaster"),
		clients:       make(map[string]*SSEClient),
		userClients:   make(map[string][]*SSEClient),
		broadcast:     make(chan []byte, 1000),
		userBroadcast: make(chan UserMessage, 1000),
		cleanup:       time.NewTicker(cleanupInterval),
		shutdown:      make(chan struct{}),
	}

	go broadcaster.broadcastLoop()
	go broadcaster.userBroadcastLoop()
	go broadcaster.cleanupLoop()

	return broadcaster
}

// AddClient adds a new SSE client
func (b *SSEBroadcaster) AddClient(client *SSEClient) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.clients[client.ID] = client
	b.userClients[client.UserID] = append(b.userClients[client.UserID], client)

	b.logger.Debug("SSE client connected",
		zap.String("clientId", client.ID),
		zap.String("userId", client.UserID))
}

// RemoveClient removes an SSE client
func (b *SSEBroadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.removeLocked(clientID)
}

// removeLocked drops a client from both indexes; caller holds the write lock
func (b *SSEBroadcaster) removeLocked(clientID string) {
	client, exists := b.clients[clientID]
	if !exists {
		return
	}

	select {
	case <-client.Done:
	default:
		close(client.Done)
	}
	delete(b.clients, clientID)

	userClients := b.userClients[client.UserID]
	for i, uc := range userClients {
		if uc.ID == clientID {
			b.userClients[client.UserID] = append(userClients[:i], userClients[i+1:]...)
			break
		}
	}
	if len(b.userClients[client.UserID]) == 0 {
		delete(b.userClients, client.UserID)
	}

	b.logger.Debug("SSE client disconnected",
		zap.String("clientId", clientID),
		zap.String("userId", client.UserID))
}

// broadcastToUser sends a JSON-RPC notification to a specific user (internal helper)
func (b *SSEBroadcaster) broadcastToUser(userID string, notification jsonrpcx.Notification) {
	msg := UserMessage{
		UserID:       userID,
		Notification: notification,
	}

	select {
	case <-b.shutdown:
	case b.userBroadcast <- msg:
	default:
		b.logger.Warn("User broadcast channel full, dropping message",
			zap.String("userId", userID),
			zap.String("method", notification.Method))
	}
}

// BroadcastToAll sends a JSON-RPC notification to all connected clients
func (b *SSEBroadcaster) BroadcastToAll(notification jsonrpcx.Notification) {
	data, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
	case b.broadcast <- data:
	default:
		b.logger.Warn("Broadcast channel full, dropping message")
	}
}

// BroadcastToUsers sends a JSON-RPC notification to specific users (only if they are connected to this server)
func (b *SSEBroadcaster) BroadcastToUsers(targetUsers []string, notification jsonrpcx.Notification) {
	if len(targetUsers) == 0 {
		return
	}

	localTargetUsers := b.localUsers(targetUsers)
	if len(localTargetUsers) == 0 {
		b.logger.Debug("No target users connected to this server",
			zap.Strings("targetUsers", targetUsers))
		return
	}

	for _, userID := range localTargetUsers {
		b.broadcastToUser(userID, notification)
	}

	b.logger.Debug("Broadcast sent to local target users",
		zap.String("method", notification.Method),
		zap.Strings("localTargetUsers", localTargetUsers))
}

// IsConnected reports whether the user has a stream open on this server
func (b *SSEBroadcaster) IsConnected(userID string) bool {
	return len(b.localUsers([]string{userID})) > 0
}

func (b *SSEBroadcaster) localUsers(targetUsers []string) []string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	local := make([]string, 0, len(targetUsers))
	for _, userID := range targetUsers {
		if len(b.userClients[userID]) > 0 {
			local = append(local, userID)
		}
	}
	return local
}

// userBroadcastLoop handles broadcasting messages to specific users
func (b *SSEBroadcaster) userBroadcastLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in userBroadcastLoop", zap.Any("panic", r))
			go b.userBroadcastLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			b.logger.Info("User broadcast loop shutting down")
			return
		case msg := <-b.userBroadcast:
			b.mutex.RLock()
			userClients := append([]*SSEClient(nil), b.userClients[msg.UserID]...)
			b.mutex.RUnlock()

			if len(userClients) == 0 {
				b.logger.Debug("No clients found for user", zap.String("userId", msg.UserID))
				continue
			}

			data, err := json.Marshal(msg.Notification)
			if err != nil {
				b.logger.Error("Failed to marshal user notification", zap.Error(err))
				continue
			}

			b.deliver(userClients, data)
		}
	}
}

// broadcastLoop handles broadcasting messages to all connected clients
func (b *SSEBroadcaster) broadcastLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in broadcastLoop", zap.Any("panic", r))
			go b.broadcastLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			b.logger.Info("Broadcast loop shutting down")
			return
		case data := <-b.broadcast:
			b.mutex.RLock()
			clients := make([]*SSEClient, 0, len(b.clients))
			for _, client := range b.clients {
				clients = append(clients, client)
			}
			b.mutex.RUnlock()

			b.deliver(clients, data)
		}
	}
}

// deliver writes data to each client and drops the ones that fail
func (b *SSEBroadcaster) deliver(clients []*SSEClient, data []byte) {
	var toRemove []string

	for _, client := range clients {
		if client == nil {
			continue
		}

		select {
		case <-client.Done:
			toRemove = append(toRemove, client.ID)
		default:
			if err := b.sendToClient(client, data); err != nil {
				b.logger.Warn("Failed to send to client",
					zap.String("clientId", client.ID),
					zap.String("userId", client.UserID),
					zap.Error(err))
				toRemove = append(toRemove, client.ID)
			}
		}
	}

	for _, clientID := range toRemove {
		b.RemoveClient(clientID)
	}
}

// sendToClient sends data to a specific SSE client
func (b *SSEBroadcaster) sendToClient(client *SSEClient, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in sendToClient",
				zap.Any("panic", r),
				zap.String("clientId", client.ID))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	if client.Writer == nil {
		return fmt.Errorf("client writer is nil")
	}
	if client.Flusher == nil {
		return fmt.Errorf("client flusher is nil")
	}

	client.mutex.Lock()
	defer client.mutex.Unlock()

	select {
	case <-client.Done:
		return fmt.Errorf("client connection closed")
	default:
	}

	// Single write per event to reduce chunking issues
	sseData := fmt.Sprintf("data: %s\n\n", data)
	n, err := client.Writer.Write([]byte(sseData))
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(sseData) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(sseData))
	}

	client.Flusher.Flush()
	client.LastSeen = time.Now()
	return nil
}

// cleanupLoop removes stale connections
func (b *SSEBroadcaster) cleanupLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in cleanupLoop", zap.Any("panic", r))
			go b.cleanupLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			b.logger.Info("Cleanup loop shutting down")
			return
		case <-b.cleanup.C:
			b.removeStale(time.Now())
		}
	}
}

func (b *SSEBroadcaster) removeStale(now time.Time) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for clientID, client := range b.clients {
		client.mutex.Lock()
		lastSeen := client.LastSeen
		client.mutex.Unlock()

		if now.Sub(lastSeen) > staleAfter {
			b.logger.Debug("Removing stale SSE client", zap.String("clientId", clientID))
			b.removeLocked(clientID)
		}
	}
}

// GetClientCount returns the number of connected clients
func (b *SSEBroadcaster) GetClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// Close shuts down the broadcaster. Safe to call more than once.
func (b *SSEBroadcaster) Close() {
	b.closeOnce.Do(func() {
		b.logger.Debug("Shutting down SSE broadcaster")

		close(b.shutdown)
		b.cleanup.Stop()

		b.mutex.Lock()
		defer b.mutex.Unlock()

		for clientID := range b.clients {
			b.removeLocked(clientID)
		}

		b.logger.Debug("SSE broadcaster shutdown complete")
	})
}

// HandleSSE streams JSON-RPC notifications addressed to the authenticated user
func (b *SSEBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		b.logger.Warn("SSE: Authentication failed - no user ID in context")
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		b.logger.Error("SSE: Client does not support flusher interface")
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	clientID := fmt.Sprintf("%s-%d", userID, time.Now().UnixNano())
	client := &SSEClient{
		ID:       clientID,
		UserID:   userID,
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan bool),
		LastSeen: time.Now(),
	}

	b.AddClient(client)
	defer b.RemoveClient(clientID)

	if err := b.sendNotification(client, jsonrpcx.NewNotification("stream.connected", map[string]string{
		"client_id": clientID,
	})); err != nil {
		b.logger.Warn("Failed to send connected message", zap.String("clientId", clientID), zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done:
			b.logger.Debug("SSE client done signal received", zap.String("clientId", clientID))
			return
		case <-r.Context().Done():
			b.logger.Debug("SSE request context cancelled", zap.String("clientId", clientID))
			return
		case <-b.shutdown:
			return
		case <-heartbeat.C:
			err := b.sendNotification(client, jsonrpcx.NewNotification("stream.heartbeat", map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			}))
			if err != nil {
				b.logger.Warn("Failed to send heartbeat",
					zap.String("clientId", clientID),
					zap.Error(err))
				return
			}
		}
	}
}

func (b *SSEBroadcaster) sendNotification(client *SSEClient, notification jsonrpcx.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return b.sendToClient(client, data)
}
