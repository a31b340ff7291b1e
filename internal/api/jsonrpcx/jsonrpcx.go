package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Version is the only supported protocol version
const Version = "2.0"

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Notification is a server-initiated JSON-RPC 2.0 message without ID
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RequestT documents a typed request for swagger
type RequestT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Method  string `json:"method"`
	Params  T      `json:"params"`
	ID      any    `json:"id"`
}

// ResponseT documents a typed success response for swagger
type ResponseT[T any] struct {
	JSONRPC string `json:"jsonrpc" example:"2.0"`
	Result  T      `json:"result"`
	ID      any    `json:"id"`
}

// ErrorResponse documents an error response for swagger
type ErrorResponse struct {
	JSONRPC string       `json:"jsonrpc" example:"2.0"`
	Error   JSONRPCError `json:"error"`
	ID      any          `json:"id"`
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Application error codes (server error range)
const (
	Unauthorized     = -32001
	Forbidden        = -32003
	NotFound         = -32004
	Conflict         = -32009
	RouteUnavailable = -32010
	RateLimited      = -32029
)

var errVersion = errors.New("unsupported jsonrpc version")

type contextKey string

const errorSlotKey contextKey = "jsonrpc_error"

// errorSlot survives r.WithContext copies made by inner middleware
type errorSlot struct {
	response *JSONRPCResponse
}

// NewNotification builds a notification for the given method
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: Version, Method: method, Params: params}
}

// ParseRequest parses JSON-RPC 2.0 request from HTTP request body
func ParseRequest(r *http.Request) (*JSONRPCRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	if req.JSONRPC != Version {
		return nil, errVersion
	}

	return &req, nil
}

// DecodeParams unmarshals params into v; absent params leave v untouched
func DecodeParams(req *JSONRPCRequest, v any) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	return json.Unmarshal(req.Params, v)
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	response := JSONRPCResponse{
		JSONRPC: Version,
		Result:  result,
		ID:      id,
	}

	Write(w, response)
}

// WithErrorSlot prepares the request context to carry handler errors
func WithErrorSlot(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), errorSlotKey, &errorSlot{}))
}

// WithError attaches an error to the request context for middleware processing
func WithError(r *http.Request, id any, code int, message string) {
	WithErrorData(r, id, code, message, nil)
}

// WithErrorData is WithError with a structured data member
func WithErrorData(r *http.Request, id any, code int, message string, data any) {
	response := &JSONRPCResponse{
		JSONRPC: Version,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}

	if slot, ok := r.Context().Value(errorSlotKey).(*errorSlot); ok {
		slot.response = response
		return
	}

	// No adapter installed: overwrite the request pointer
	ctx := context.WithValue(r.Context(), errorSlotKey, &errorSlot{response: response})
	*r = *r.WithContext(ctx)
}

// ErrorFrom returns the error stored by WithError, if any
func ErrorFrom(ctx context.Context) (*JSONRPCResponse, bool) {
	slot, ok := ctx.Value(errorSlotKey).(*errorSlot)
	if !ok || slot.response == nil {
		return nil, false
	}
	return slot.response, true
}

// ErrorAdapter interface for middleware to send error responses
type ErrorAdapter interface {
	SendError(w http.ResponseWriter, id any, code int, message string)
}

// errorAdapter is the private implementation of ErrorAdapter
type errorAdapter struct{}

// NewErrorAdapter creates a new error adapter for middleware use
func NewErrorAdapter() ErrorAdapter {
	return &errorAdapter{}
}

// SendError sends an error JSON-RPC 2.0 response (only accessible through ErrorAdapter)
func (ea *errorAdapter) SendError(w http.ResponseWriter, id any, code int, message string) {
	response := JSONRPCResponse{
		JSONRPC: Version,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	Write(w, response)
}

// Write sends a JSON-RPC 2.0 response (always HTTP 200)
func Write(w http.ResponseWriter, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC always returns HTTP 200

	// Encode response - if error occurs, it will be logged by middleware
	_ = json.NewEncoder(w).Encode(response)
}
