package query

// Deal query types
const (
	GetDealType         = "deal.get"
	ListDealsType       = "deal.list"
	TrackingHistoryType = "tracking.history"
	LastPositionType    = "tracking.last"
)

// GetDealQuery loads one deal visible to the user
type GetDealQuery struct {
	BaseQuery
	DealID string `json:"deal_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// NewGetDealQuery creates a new get deal query
func NewGetDealQuery(dealID, userID string) GetDealQuery {
	return GetDealQuery{BaseQuery: NewBaseQuery(GetDealType), DealID: dealID, UserID: userID}
}

// ListDealsQuery lists deals where the user is client or carrier
type ListDealsQuery struct {
	BaseQuery
	UserID string `json:"user_id" validate:"required"`
	Status string `json:"status,omitempty"`
}

// NewListDealsQuery creates a new list deals query
func NewListDealsQuery(userID, status string) ListDealsQuery {
	return ListDealsQuery{BaseQuery: NewBaseQuery(ListDealsType), UserID: userID, Status: status}
}

// TrackingHistoryQuery reads recorded positions, newest first
type TrackingHistoryQuery struct {
	BaseQuery
	DealID string `json:"deal_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
	Limit  int64  `json:"limit" validate:"gte=0,lte=1000"`
}

// NewTrackingHistoryQuery creates a new tracking history query
func NewTrackingHistoryQuery(dealID, userID string, limit int64) TrackingHistoryQuery {
	return TrackingHistoryQuery{BaseQuery: NewBaseQuery(TrackingHistoryType), DealID: dealID, UserID: userID, Limit: limit}
}

// LastPositionQuery reads the latest recorded position
type LastPositionQuery struct {
	BaseQuery
	DealID string `json:"deal_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// NewLastPositionQuery creates a new last position query
func NewLastPositionQuery(dealID, userID string) LastPositionQuery {
	return LastPositionQuery{BaseQuery: NewBaseQuery(LastPositionType), DealID: dealID, UserID: userID}
}
