package handlers

import (
	"net/http"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/app/query"
	"github.com/danghamo/haulnav/internal/tracking"
	"github.com/danghamo/haulnav/pkg/logger"
)

// TrackingHandler serves recorded positions to deal participants
type TrackingHandler struct {
	logger  *logger.Logger
	queries query.QueryHandler
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(logger *logger.Logger, queries query.QueryHandler) *TrackingHandler {
	return &TrackingHandler{
		logger:  logger.WithComponent("tracking-handler"),
		queries: queries,
	}
}

// HistoryRequest pages through recorded positions
type HistoryRequest struct {
	DealID string `json:"deal_id"`
	Limit  int64  `json:"limit,omitempty" example:"100"`
}

// HistoryResponse lists samples newest first
type HistoryResponse struct {
	Samples []tracking.Sample `json:"samples"`
	Count   int               `json:"count"`
}

// LastPositionResponse is the latest recorded sample, if any
type LastPositionResponse struct {
	Position *tracking.Sample `json:"position"`
	Found    bool             `json:"found"`
}

// History handles POST /api/v1/tracking.History
// @Summary Tracking history
// @Description Recorded carrier positions of a deal, newest first
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[HistoryRequest] true "JSON-RPC request with HistoryRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[HistoryResponse] "Recorded samples"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Deal not found or not visible"
// @Security BearerAuth
// @Router /api/v1/tracking.History [post]
func (h *TrackingHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params HistoryRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	result, err := h.queries.Handle(r.Context(), query.NewTrackingHistoryQuery(params.DealID, userID, params.Limit))
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	samples, _ := result.([]tracking.Sample)
	if samples == nil {
		samples = []tracking.Sample{}
	}
	jsonrpcx.Success(w, req.ID, HistoryResponse{Samples: samples, Count: len(samples)})
}

// LastPosition handles POST /api/v1/tracking.LastPosition
// @Summary Last position
// @Description Latest recorded carrier position of a deal
// @Tags tracking
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[LastPositionResponse] "Latest sample"
// @Security BearerAuth
// @Router /api/v1/tracking.LastPosition [post]
func (h *TrackingHandler) LastPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params DealIDRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	result, err := h.queries.Handle(r.Context(), query.NewLastPositionQuery(params.DealID, userID))
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	sample, _ := result.(*tracking.Sample)
	jsonrpcx.Success(w, req.ID, LastPositionResponse{Position: sample, Found: sample != nil})
}
