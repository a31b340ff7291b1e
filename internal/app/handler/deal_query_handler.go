package handler

import (
	"context"
	"fmt"

	"github.com/danghamo/haulnav/internal/app/query"
	"github.com/danghamo/haulnav/internal/domain/deal"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/tracking"
)

const defaultHistoryLimit = 100

// DealQueryHandler handles deal and tracking queries
type DealQueryHandler struct {
	dealRepo deal.Repository
	tracks   tracking.Reader
}

// NewDealQueryHandler creates a new deal query handler
func NewDealQueryHandler(dealRepo deal.Repository, tracks tracking.Reader) *DealQueryHandler {
	return &DealQueryHandler{
		dealRepo: dealRepo,
		tracks:   tracks,
	}
}

// Handle handles deal queries
func (h *DealQueryHandler) Handle(ctx context.Context, q query.Query) (interface{}, error) {
	if err := validate.Struct(q); err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "invalid query")
	}

	switch qq := q.(type) {
	case query.GetDealQuery:
		return h.handleGetDeal(ctx, qq)
	case query.ListDealsQuery:
		return h.handleListDeals(ctx, qq)
	case query.TrackingHistoryQuery:
		return h.handleTrackingHistory(ctx, qq)
	case query.LastPositionQuery:
		return h.handleLastPosition(ctx, qq)
	default:
		return nil, fmt.Errorf("unknown query type: %T", q)
	}
}

func (h *DealQueryHandler) handleGetDeal(ctx context.Context, q query.GetDealQuery) (*deal.Deal, error) {
	return h.visibleDeal(ctx, q.DealID, q.UserID)
}

func (h *DealQueryHandler) handleListDeals(ctx context.Context, q query.ListDealsQuery) ([]*deal.Deal, error) {
	deals, err := h.dealRepo.ListByParticipant(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	if q.Status == "" {
		return deals, nil
	}

	filtered := make([]*deal.Deal, 0, len(deals))
	for _, d := range deals {
		if string(d.Status) == q.Status {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (h *DealQueryHandler) handleTrackingHistory(ctx context.Context, q query.TrackingHistoryQuery) ([]tracking.Sample, error) {
	if _, err := h.visibleDeal(ctx, q.DealID, q.UserID); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	return h.tracks.History(ctx, q.DealID, limit)
}

func (h *DealQueryHandler) handleLastPosition(ctx context.Context, q query.LastPositionQuery) (*tracking.Sample, error) {
	if _, err := h.visibleDeal(ctx, q.DealID, q.UserID); err != nil {
		return nil, err
	}
	return h.tracks.Last(ctx, q.DealID)
}

// visibleDeal loads a deal only its participants may see
func (h *DealQueryHandler) visibleDeal(ctx context.Context, dealID, userID string) (*deal.Deal, error) {
	d, err := h.dealRepo.GetByID(ctx, deal.ID(dealID))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, shared.ErrNotFound("deal")
	}
	if !d.IsParticipant(userID) {
		return nil, shared.ErrForbidden("view this deal")
	}
	return d, nil
}
