package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/api/jsonrpcx"
	"github.com/danghamo/haulnav/internal/domain/account"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/logger"
)

// UserContextKey is the key for storing user info in request context
type UserContextKey string

const (
	// UserIDContextKey stores the user ID in context
	UserIDContextKey UserContextKey = "user_id"
	// UserRoleContextKey stores the marketplace role in context
	UserRoleContextKey UserContextKey = "user_role"
)

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	jwtService *account.JWTService
	logger     *logger.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtService *account.JWTService, logger *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger.WithComponent("auth-middleware"),
	}
}

// RequireAuth returns a middleware that requires a bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.logger.Debug("Missing Authorization header")
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Missing Authorization header")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			m.logger.Debug("Invalid Authorization header format")
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Invalid Authorization header format")
			return
		}

		claims, err := m.jwtService.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Invalid JWT token", zap.Error(err))
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireStreamAuth authenticates long-lived streams. Browsers cannot set
// headers on EventSource or WebSocket, so the token may come as ?token=.
func (m *AuthMiddleware) RequireStreamAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if scheme, t, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
				token = t
			}
		}
		if token == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtService.ValidateToken(token)
		if err != nil {
			m.logger.Debug("Stream token rejected", zap.Error(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireRole only lets through callers holding one of roles. It must run
// after RequireAuth.
func RequireRole(roles ...shared.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetUserRole(r.Context())
			if !ok || !slices.Contains(roles, role) {
				jsonrpcx.WithError(r, nil, jsonrpcx.Forbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withClaims(ctx context.Context, claims *account.JWTClaims) context.Context {
	ctx = context.WithValue(ctx, UserIDContextKey, claims.UserID)
	return context.WithValue(ctx, UserRoleContextKey, claims.Role)
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	return userID, ok
}

// GetUserRole extracts the marketplace role from request context
func GetUserRole(ctx context.Context) (shared.Role, bool) {
	role, ok := ctx.Value(UserRoleContextKey).(shared.Role)
	return role, ok
}
