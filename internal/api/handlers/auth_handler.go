package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/domain/account"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/logger"
)

// AuthHandler issues access tokens. Real identity lives with the
// marketplace; this service only binds user IDs to a role.
type AuthHandler struct {
	logger      *logger.Logger
	accountRepo account.Repository
	jwtService  *account.JWTService
	devTokens   bool
}

// NewAuthHandler creates a new auth handler. devTokens enables auth.Token.
func NewAuthHandler(
	logger *logger.Logger,
	accountRepo account.Repository,
	jwtService *account.JWTService,
	devTokens bool,
) *AuthHandler {
	return &AuthHandler{
		logger:      logger.WithComponent("auth-handler"),
		accountRepo: accountRepo,
		jwtService:  jwtService,
		devTokens:   devTokens,
	}
}

// TokenRequest asks for a development token
type TokenRequest struct {
	UserID      string      `json:"user_id" example:"carrier-1"`
	Role        shared.Role `json:"role" example:"carrier"`
	DisplayName string      `json:"display_name,omitempty"`
}

// RefreshRequest exchanges a valid token for a fresh one
type RefreshRequest struct {
	Token string `json:"token"`
}

// TokenResponse carries an access token
type TokenResponse struct {
	JWTToken  string      `json:"jwt_token"`
	UserID    string      `json:"user_id"`
	Role      shared.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
	ExpiresIn int64       `json:"expires_in"`
}

// Token handles POST /api/v1/auth.Token
// @Summary Issue development token
// @Description Register or sign in a user in a role and issue a JWT. Disabled in production.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[TokenRequest] true "JSON-RPC request with TokenRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[TokenResponse] "Access token"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid user or role"
// @Router /api/v1/auth.Token [post]
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var params TokenRequest
	req, ok := parse(r, &params)
	if !ok {
		return
	}

	if !h.devTokens {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.Forbidden, "Development tokens are disabled")
		return
	}

	params.UserID = strings.TrimSpace(params.UserID)
	acc, err := h.signIn(r.Context(), params)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	resp, err := h.issue(acc.UserID, acc.Role)
	if err != nil {
		fail(r, h.logger, req.ID, err)
		return
	}

	h.logger.Info("Development token issued",
		zap.String("userId", acc.UserID),
		zap.String("role", string(acc.Role)))

	jsonrpcx.Success(w, req.ID, resp)
}

// Refresh handles POST /api/v1/auth.Refresh
// @Summary Refresh token
// @Description Exchange a still valid token for one with a new expiry
// @Tags auth
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[RefreshRequest] true "JSON-RPC request with RefreshRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[TokenResponse] "Access token"
// @Failure 401 {object} jsonrpcx.ErrorResponse "Invalid or expired token"
// @Router /api/v1/auth.Refresh [post]
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var params RefreshRequest
	req, ok := parse(r, &params)
	if !ok {
		return
	}

	claims, err := h.jwtService.ValidateToken(params.Token)
	if err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.Unauthorized, "Invalid or expired token")
		return
	}

	token, expiresAt, err := h.jwtService.RefreshToken(params.Token)
	if err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.Unauthorized, "Invalid or expired token")
		return
	}

	jsonrpcx.Success(w, req.ID, TokenResponse{
		JWTToken:  token,
		UserID:    claims.UserID,
		Role:      claims.Role,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

// signIn registers the user on first sight and records later logins
func (h *AuthHandler) signIn(ctx context.Context, params TokenRequest) (*account.Account, error) {
	var acc *account.Account
	err := h.accountRepo.FindOneAndInsert(ctx, params.UserID, func() (*account.Account, error) {
		a, err := account.NewAccount(params.UserID, params.Role, params.DisplayName)
		acc = a
		return a, err
	})
	if err == nil {
		h.logger.Info("Account registered",
			zap.String("userId", acc.UserID),
			zap.String("role", string(acc.Role)))
		return acc, nil
	}
	if !shared.HasCode(err, shared.ErrCodeAlreadyExists) {
		return nil, err
	}

	err = h.accountRepo.FindOneAndUpdate(ctx, params.UserID, func(a *account.Account) (*account.Account, error) {
		if err := a.Login(params.Role); err != nil {
			return nil, err
		}
		acc = a
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (h *AuthHandler) issue(userID string, role shared.Role) (TokenResponse, error) {
	token, expiresAt, err := h.jwtService.GenerateToken(userID, role)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		JWTToken:  token,
		UserID:    userID,
		Role:      role,
		ExpiresAt: expiresAt,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	}, nil
}
