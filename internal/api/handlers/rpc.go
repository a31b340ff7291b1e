package handlers

import (
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/api/middleware"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/logger"
)

// ErrorData is attached to JSON-RPC errors raised by the domain
type ErrorData struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// EmptyRequest documents methods without params
type EmptyRequest struct{}

// AckResponse is returned by commands without a payload
type AckResponse struct {
	OK bool `json:"ok"`
}

// rpcCode maps a domain error code to a JSON-RPC error code
func rpcCode(domainCode int) int {
	switch domainCode {
	case shared.ErrCodeInvalidInput, shared.ErrCodeInvalidRouteIndex:
		return jsonrpcx.InvalidParams
	case shared.ErrCodeNotFound, shared.ErrCodeSessionNotFound:
		return jsonrpcx.NotFound
	case shared.ErrCodeForbidden, shared.ErrCodePermissionDenied:
		return jsonrpcx.Forbidden
	case shared.ErrCodeAlreadyExists, shared.ErrCodeInvalidOperation,
		shared.ErrCodeInvalidStatusTransition, shared.ErrCodeDealClosed,
		shared.ErrCodeNoRouteSelected:
		return jsonrpcx.Conflict
	case shared.ErrCodeRouteUnavailable:
		return jsonrpcx.RouteUnavailable
	}
	return jsonrpcx.InternalError
}

// fail converts err into a JSON-RPC error on the request. Errors without a
// domain code are logged and hidden behind a generic message.
func fail(r *http.Request, log *logger.Logger, id any, err error) {
	failWith(r, log, id, err, nil)
}

// failWith is fail carrying details for domain errors
func failWith(r *http.Request, log *logger.Logger, id any, err error, details any) {
	code := shared.ErrorCode(err)
	if code == 0 {
		log.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		jsonrpcx.WithError(r, id, jsonrpcx.InternalError, "Internal server error")
		return
	}

	message := err.Error()
	data := &ErrorData{Code: shared.CodeName(code), Details: details}
	if code == shared.ErrCodeRouteUnavailable {
		// upstream failures are logged, the carrier only learns it can retry
		log.Warn("Route unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		message = "Route unavailable"
		data.Retryable = true
	}
	jsonrpcx.WithErrorData(r, id, rpcCode(code), message, data)
}

// parse reads the JSON-RPC envelope and decodes params. On failure the
// error is already set on the request.
func parse(r *http.Request, params any) (*jsonrpcx.JSONRPCRequest, bool) {
	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, false
	}
	if params != nil {
		if err := jsonrpcx.DecodeParams(req, params); err != nil {
			jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
			return nil, false
		}
	}
	return req, true
}

// authenticated returns the caller's user ID
func authenticated(r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok || userID == "" {
		jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "User not authenticated")
		return "", false
	}
	return userID, true
}

// hasRole sets a Forbidden error unless the caller holds one of roles
func hasRole(r *http.Request, id any, roles ...shared.Role) bool {
	role, _ := middleware.GetUserRole(r.Context())
	if slices.Contains(roles, role) {
		return true
	}
	jsonrpcx.WithError(r, id, jsonrpcx.Forbidden, "Insufficient role")
	return false
}

// requireDealID sets InvalidParams when the deal ID is missing
func requireDealID(r *http.Request, id any, dealID string) bool {
	if dealID == "" {
		jsonrpcx.WithError(r, id, jsonrpcx.InvalidParams, "deal_id is required")
		return false
	}
	return true
}
