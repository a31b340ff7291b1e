package account

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

// JWTClaims represents the JWT token claims of a marketplace user
type JWTClaims struct {
	UserID string      `json:"user_id"`
	Role   shared.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token operations
type JWTService struct {
	secretKey      []byte
	issuer         string
	expiryDuration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(secretKey string, issuer string, expiryDuration time.Duration) *JWTService {
	return &JWTService{
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		expiryDuration: expiryDuration,
	}
}

// GenerateToken generates a new JWT token for a user acting in a role
func (s *JWTService) GenerateToken(userID string, role shared.Role) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, shared.ErrInvalidInput("user id is required")
	}
	if !role.IsValid() {
		return "", time.Time{}, shared.NewDomainErrorf(shared.ErrCodeInvalidInput, "unknown role %q", role)
	}

	now := time.Now()
	expiresAt := now.Add(s.expiryDuration)
	claims := JWTClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, jwt.ErrTokenMalformed
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}

// RefreshToken creates a new token with extended expiry
func (s *JWTService) RefreshToken(tokenString string) (string, time.Time, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", time.Time{}, err
	}

	return s.GenerateToken(claims.UserID, claims.Role)
}
