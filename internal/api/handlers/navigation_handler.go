package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/app/service"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/geolocation"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// Navigator is the navigation service as seen by the API
type Navigator interface {
	Start(ctx context.Context, params service.StartParams) (*service.NavigationStatus, error)
	RetryRoute(ctx context.Context, dealID, carrierID string) (*service.NavigationStatus, error)
	SelectRoute(ctx context.Context, dealID, carrierID string, index int) (*service.NavigationStatus, error)
	Stop(dealID, carrierID string) (*service.NavigationStatus, error)
	Recenter(dealID, carrierID string) error
	SetFollowMode(dealID, carrierID string, enabled bool) error
	Status(dealID, userID string) (*service.NavigationStatus, error)
	ReportPosition(dealID, carrierID string, fix geolocation.Fix) error
	ReportError(dealID, carrierID string, code geolocation.ErrorCode, message string) error
}

var _ Navigator = (*service.NavigationService)(nil)

// NavigationHandler exposes turn-by-turn navigation to the carrier app
type NavigationHandler struct {
	logger    *logger.Logger
	navigator Navigator
}

// NewNavigationHandler creates a new navigation handler
func NewNavigationHandler(logger *logger.Logger, navigator Navigator) *NavigationHandler {
	return &NavigationHandler{
		logger:    logger.WithComponent("navigation-handler"),
		navigator: navigator,
	}
}

// StartNavigationRequest starts navigation for a deal. Omitted waypoints
// fall back to the deal's pickup and delivery.
type StartNavigationRequest struct {
	DealID             string          `json:"deal_id"`
	Origin             *geo.Coordinate `json:"origin,omitempty"`
	OriginAddress      string          `json:"origin_address,omitempty"`
	Destination        *geo.Coordinate `json:"destination,omitempty"`
	DestinationAddress string          `json:"destination_address,omitempty"`
	TravelMode         string          `json:"travel_mode,omitempty" example:"driving"`
	Alternatives       *bool           `json:"alternatives,omitempty"`
}

// SelectRouteRequest picks an alternative route
type SelectRouteRequest struct {
	DealID string `json:"deal_id"`
	Index  int    `json:"index"`
}

// FollowModeRequest toggles continuous recentering
type FollowModeRequest struct {
	DealID  string `json:"deal_id"`
	Enabled bool   `json:"enabled"`
}

// ReportPositionRequest is one device fix
type ReportPositionRequest struct {
	DealID     string    `json:"deal_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg,omitempty"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Fix converts the request to a geolocation fix
func (p ReportPositionRequest) Fix() geolocation.Fix {
	return geolocation.Fix{
		Coords:     geo.Coordinate{Lat: p.Lat, Lng: p.Lng},
		SpeedKmh:   p.SpeedKmh,
		HeadingDeg: p.HeadingDeg,
		AccuracyM:  p.AccuracyM,
		Timestamp:  p.Timestamp,
	}
}

// ReportErrorRequest is a device position failure
type ReportErrorRequest struct {
	DealID  string `json:"deal_id"`
	Code    string `json:"code" example:"permission_denied"`
	Message string `json:"message,omitempty"`
}

// Start handles POST /api/v1/navigation.Start
// @Summary Start navigation
// @Description Resolve waypoints, plan the route and start tracking the carrier. Route failures return ROUTE_UNAVAILABLE with the kept request in error.data.details.
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[StartNavigationRequest] true "JSON-RPC request with StartNavigationRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[service.NavigationStatus] "Navigation status"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Route unavailable (retryable)"
// @Failure 401 {object} jsonrpcx.ErrorResponse "Authentication required"
// @Security BearerAuth
// @Router /api/v1/navigation.Start [post]
func (h *NavigationHandler) Start(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := authenticated(r)
	if !ok {
		return
	}

	var params StartNavigationRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) || !hasRole(r, req.ID, shared.RoleCarrier) {
		return
	}

	status, err := h.navigator.Start(r.Context(), service.StartParams{
		DealID:             params.DealID,
		CarrierID:          carrierID,
		Origin:             params.Origin,
		OriginAddress:      params.OriginAddress,
		Destination:        params.Destination,
		DestinationAddress: params.DestinationAddress,
		TravelMode:         params.TravelMode,
		Alternatives:       params.Alternatives,
	})
	if err != nil {
		h.failPlan(r, req.ID, status, err)
		return
	}

	h.logger.Info("Navigation started",
		zap.String("dealId", params.DealID),
		zap.String("carrierId", carrierID))

	jsonrpcx.Success(w, req.ID, status)
}

// RetryRoute handles POST /api/v1/navigation.RetryRoute
// @Summary Retry route
// @Description Re-issue the kept route request after ROUTE_UNAVAILABLE
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[service.NavigationStatus] "Navigation status"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Route unavailable (retryable)"
// @Security BearerAuth
// @Router /api/v1/navigation.RetryRoute [post]
func (h *NavigationHandler) RetryRoute(w http.ResponseWriter, r *http.Request) {
	carrierID, req, params, ok := h.dealRequest(r)
	if !ok {
		return
	}

	status, err := h.navigator.RetryRoute(r.Context(), params.DealID, carrierID)
	if err != nil {
		h.failPlan(r, req.ID, status, err)
		return
	}
	jsonrpcx.Success(w, req.ID, status)
}

// SelectRoute handles POST /api/v1/navigation.SelectRoute
// @Summary Select alternative route
// @Description Switch to another planned route; tracking restarts with a fresh session
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[SelectRouteRequest] true "JSON-RPC request with SelectRouteRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[service.NavigationStatus] "Navigation status"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid route index"
// @Security BearerAuth
// @Router /api/v1/navigation.SelectRoute [post]
func (h *NavigationHandler) SelectRoute(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := authenticated(r)
	if !ok {
		return
	}

	var params SelectRouteRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	status, err := h.navigator.SelectRoute(r.Context(), params.DealID, carrierID, params.Index)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, status)
}

// Stop handles POST /api/v1/navigation.Stop
// @Summary Stop navigation
// @Description Stop tracking; stopping twice is a no-op
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[service.NavigationStatus] "Navigation status"
// @Security BearerAuth
// @Router /api/v1/navigation.Stop [post]
func (h *NavigationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	carrierID, req, params, ok := h.dealRequest(r)
	if !ok {
		return
	}

	status, err := h.navigator.Stop(params.DealID, carrierID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	h.logger.Info("Navigation stopped",
		zap.String("dealId", params.DealID),
		zap.String("carrierId", carrierID))

	jsonrpcx.Success(w, req.ID, status)
}

// Recenter handles POST /api/v1/navigation.Recenter
// @Summary Recenter map
// @Description Move the carrier's map view to the live marker
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[AckResponse] "Acknowledged"
// @Security BearerAuth
// @Router /api/v1/navigation.Recenter [post]
func (h *NavigationHandler) Recenter(w http.ResponseWriter, r *http.Request) {
	carrierID, req, params, ok := h.dealRequest(r)
	if !ok {
		return
	}

	if err := h.navigator.Recenter(params.DealID, carrierID); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, AckResponse{OK: true})
}

// SetFollowMode handles POST /api/v1/navigation.SetFollowMode
// @Summary Toggle follow mode
// @Description Enable or disable continuous recentering on each position
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[FollowModeRequest] true "JSON-RPC request with FollowModeRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[AckResponse] "Acknowledged"
// @Security BearerAuth
// @Router /api/v1/navigation.SetFollowMode [post]
func (h *NavigationHandler) SetFollowMode(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := authenticated(r)
	if !ok {
		return
	}

	var params FollowModeRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	if err := h.navigator.SetFollowMode(params.DealID, carrierID, params.Enabled); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, AckResponse{OK: true})
}

// Status handles POST /api/v1/navigation.Status
// @Summary Navigation status
// @Description Route plan and session snapshot for a deal participant
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[service.NavigationStatus] "Navigation status"
// @Failure 400 {object} jsonrpcx.ErrorResponse "No navigation for deal"
// @Security BearerAuth
// @Router /api/v1/navigation.Status [post]
func (h *NavigationHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, req, params, ok := h.dealRequest(r)
	if !ok {
		return
	}

	status, err := h.navigator.Status(params.DealID, userID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, status)
}

// ReportPosition handles POST /api/v1/navigation.ReportPosition
// @Summary Report device position
// @Description Feed one geolocation fix into the running navigation
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[ReportPositionRequest] true "JSON-RPC request with ReportPositionRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[AckResponse] "Accepted"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid position or no running navigation"
// @Failure 429 {object} jsonrpcx.ErrorResponse "Rate limited"
// @Security BearerAuth
// @Router /api/v1/navigation.ReportPosition [post]
func (h *NavigationHandler) ReportPosition(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := authenticated(r)
	if !ok {
		return
	}

	var params ReportPositionRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	if err := h.navigator.ReportPosition(params.DealID, carrierID, params.Fix()); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, AckResponse{OK: true})
}

// ReportError handles POST /api/v1/navigation.ReportError
// @Summary Report device position failure
// @Description Forward a recoverable geolocation error; the session keeps running
// @Tags navigation
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[ReportErrorRequest] true "JSON-RPC request with ReportErrorRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[AckResponse] "Accepted"
// @Security BearerAuth
// @Router /api/v1/navigation.ReportError [post]
func (h *NavigationHandler) ReportError(w http.ResponseWriter, r *http.Request) {
	carrierID, ok := authenticated(r)
	if !ok {
		return
	}

	var params ReportErrorRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	code := geolocation.ParseErrorCode(params.Code)
	if err := h.navigator.ReportError(params.DealID, carrierID, code, params.Message); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}
	jsonrpcx.Success(w, req.ID, AckResponse{OK: true})
}

func (h *NavigationHandler) dealRequest(r *http.Request) (string, *jsonrpcx.JSONRPCRequest, DealIDRequest, bool) {
	var params DealIDRequest
	userID, ok := authenticated(r)
	if !ok {
		return "", nil, params, false
	}

	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return "", nil, params, false
	}
	return userID, req, params, true
}

// failPlan reports a planning failure with the kept route request so the
// app can show the entered addresses next to the retry action
func (h *NavigationHandler) failPlan(r *http.Request, id any, status *service.NavigationStatus, err error) {
	var details any
	if status != nil {
		details = status.Plan
	}
	failWith(r, h.logger, id, err, details)
}
