package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/app/command"
	"github.com/danghamo/haulnav/internal/app/query"
	"github.com/danghamo/haulnav/internal/domain/deal"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/geo"
	"github.com/danghamo/haulnav/pkg/logger"
)

// DealHandler exposes the deal lifecycle over JSON-RPC
type DealHandler struct {
	logger   *logger.Logger
	commands command.CommandHandler
	queries  query.QueryHandler
}

// NewDealHandler creates a new deal handler
func NewDealHandler(logger *logger.Logger, commands command.CommandHandler, queries query.QueryHandler) *DealHandler {
	return &DealHandler{
		logger:   logger.WithComponent("deal-handler"),
		commands: commands,
		queries:  queries,
	}
}

// CreateDealRequest opens a deal. Each end needs an address or coordinates.
type CreateDealRequest struct {
	PickupAddress   string          `json:"pickup_address"`
	DeliveryAddress string          `json:"delivery_address"`
	Pickup          *geo.Coordinate `json:"pickup,omitempty"`
	Delivery        *geo.Coordinate `json:"delivery,omitempty"`
}

// DealIDRequest addresses one deal
type DealIDRequest struct {
	DealID string `json:"deal_id"`
}

// CancelDealRequest cancels a deal
type CancelDealRequest struct {
	DealID string `json:"deal_id"`
	Reason string `json:"reason,omitempty"`
}

// ListDealsRequest filters the caller's deals
type ListDealsRequest struct {
	Status string `json:"status,omitempty"`
}

// ListDealsResponse lists the caller's deals
type ListDealsResponse struct {
	Deals []*deal.Deal `json:"deals"`
	Total int          `json:"total"`
}

// Create handles POST /api/v1/deal.Create
// @Summary Create a deal
// @Description Open a pending shipment deal as the authenticated client
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[CreateDealRequest] true "JSON-RPC request with CreateDealRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[deal.Deal] "Created deal"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid request parameters"
// @Failure 401 {object} jsonrpcx.ErrorResponse "Authentication required"
// @Security BearerAuth
// @Router /api/v1/deal.Create [post]
func (h *DealHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params CreateDealRequest
	req, ok := parse(r, &params)
	if !ok {
		return
	}
	if !hasRole(r, req.ID, shared.RoleClient) {
		return
	}

	cmd := command.NewCreateDealCommand(userID, params.PickupAddress, params.DeliveryAddress, params.Pickup, params.Delivery)
	if err := h.commands.Handle(r.Context(), cmd); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	d, err := h.getDeal(r.Context(), cmd.AggregateID(), userID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	h.logger.Info("Deal created",
		zap.String("dealId", d.ID.String()),
		zap.String("clientId", userID))

	jsonrpcx.Success(w, req.ID, d)
}

// Get handles POST /api/v1/deal.Get
// @Summary Get a deal
// @Description Get a deal the caller participates in
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[deal.Deal] "Deal"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Deal not found or not visible"
// @Security BearerAuth
// @Router /api/v1/deal.Get [post]
func (h *DealHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params DealIDRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	d, err := h.getDeal(r.Context(), params.DealID, userID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, d)
}

// List handles POST /api/v1/deal.List
// @Summary List deals
// @Description List deals where the caller is client or carrier
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[ListDealsRequest] true "JSON-RPC request with ListDealsRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[ListDealsResponse] "Deals"
// @Security BearerAuth
// @Router /api/v1/deal.List [post]
func (h *DealHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params ListDealsRequest
	req, ok := parse(r, &params)
	if !ok {
		return
	}

	result, err := h.queries.Handle(r.Context(), query.NewListDealsQuery(userID, params.Status))
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	deals, _ := result.([]*deal.Deal)
	if deals == nil {
		deals = []*deal.Deal{}
	}
	jsonrpcx.Success(w, req.ID, ListDealsResponse{Deals: deals, Total: len(deals)})
}

// Accept handles POST /api/v1/deal.Accept
// @Summary Accept a deal
// @Description Assign the authenticated carrier to a pending deal
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[deal.Deal] "Accepted deal"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Deal is not pending"
// @Security BearerAuth
// @Router /api/v1/deal.Accept [post]
func (h *DealHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, shared.RoleCarrier, func(dealID, userID string) command.Command {
		return command.NewAcceptDealCommand(dealID, userID)
	})
}

// Complete handles POST /api/v1/deal.Complete
// @Summary Complete a deal
// @Description Mark an in-transit deal as delivered
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[DealIDRequest] true "JSON-RPC request with DealIDRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[deal.Deal] "Delivered deal"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Deal is not in transit"
// @Security BearerAuth
// @Router /api/v1/deal.Complete [post]
func (h *DealHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "", func(dealID, userID string) command.Command {
		return command.NewCompleteDealCommand(dealID, userID)
	})
}

// Cancel handles POST /api/v1/deal.Cancel
// @Summary Cancel a deal
// @Description Cancel a deal; a running navigation is interrupted on every server
// @Tags deal
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[CancelDealRequest] true "JSON-RPC request with CancelDealRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[deal.Deal] "Cancelled deal"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Deal already closed"
// @Security BearerAuth
// @Router /api/v1/deal.Cancel [post]
func (h *DealHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params CancelDealRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}

	if err := h.commands.Handle(r.Context(), command.NewCancelDealCommand(params.DealID, userID, params.Reason)); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	d, err := h.getDeal(r.Context(), params.DealID, userID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	h.logger.Info("Deal cancelled",
		zap.String("dealId", params.DealID),
		zap.String("by", userID))

	jsonrpcx.Success(w, req.ID, d)
}

func (h *DealHandler) transition(w http.ResponseWriter, r *http.Request, role shared.Role, build func(dealID, userID string) command.Command) {
	userID, ok := authenticated(r)
	if !ok {
		return
	}

	var params DealIDRequest
	req, ok := parse(r, &params)
	if !ok || !requireDealID(r, req.ID, params.DealID) {
		return
	}
	if role != "" && !hasRole(r, req.ID, role) {
		return
	}

	if err := h.commands.Handle(r.Context(), build(params.DealID, userID)); err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	d, err := h.getDeal(r.Context(), params.DealID, userID)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, d)
}

func (h *DealHandler) getDeal(ctx context.Context, dealID, userID string) (*deal.Deal, error) {
	result, err := h.queries.Handle(ctx, query.NewGetDealQuery(dealID, userID))
	if err != nil {
		return nil, err
	}
	d, ok := result.(*deal.Deal)
	if !ok || d == nil {
		return nil, shared.ErrNotFound("deal")
	}
	return d, nil
}
