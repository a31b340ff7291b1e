package handlers

import (
	"net/http"
	"time"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
)

// Version is stamped at build time with -ldflags
var Version = "dev"

// ServerStats reports live counters for server.Info
type ServerStats interface {
	ActiveNavigations() int
	ConnectedClients() int
}

// ServerHandler handles server information requests
type ServerHandler struct {
	environment string
	startedAt   time.Time
	stats       ServerStats
}

// NewServerHandler creates a new server handler
func NewServerHandler(environment string, stats ServerStats) *ServerHandler {
	return &ServerHandler{
		environment: environment,
		startedAt:   time.Now(),
		stats:       stats,
	}
}

// ServerInfoResponse represents server information
type ServerInfoResponse struct {
	Version           string    `json:"version"`
	Environment       string    `json:"environment"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	ActiveNavigations int       `json:"active_navigations"`
	ConnectedClients  int       `json:"connected_clients"`
}

// PingResponse answers ping
type PingResponse struct {
	Message string `json:"message" example:"pong"`
}

// Info handles POST /api/v1/server.Info
// @Summary Server information
// @Description Version, uptime and live counters
// @Tags server
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[EmptyRequest] true "JSON-RPC request"
// @Success 200 {object} jsonrpcx.ResponseT[ServerInfoResponse] "Server information"
// @Router /api/v1/server.Info [post]
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	req, ok := parse(r, nil)
	if !ok {
		return
	}

	response := ServerInfoResponse{
		Version:       Version,
		Environment:   h.environment,
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.stats != nil {
		response.ActiveNavigations = h.stats.ActiveNavigations()
		response.ConnectedClients = h.stats.ConnectedClients()
	}

	jsonrpcx.Success(w, req.ID, response)
}

// Ping handles POST /api/v1/ping
// @Summary Ping
// @Tags server
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[EmptyRequest] true "JSON-RPC request"
// @Success 200 {object} jsonrpcx.ResponseT[PingResponse] "pong"
// @Router /api/v1/ping [post]
func (h *ServerHandler) Ping(w http.ResponseWriter, r *http.Request) {
	req, ok := parse(r, nil)
	if !ok {
		return
	}
	jsonrpcx.Success(w, req.ID, PingResponse{Message: "pong"})
}
