package handlers

import (
	"fmt"
	"net/http"
	"time"

	"aa-backend/internal/config"
	"aa-backend/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type JWTClaims = dto.JWTClaims

func jwtSecret() []byte {
	if config.AppConfig != nil && config.AppConfig.JWT.Secret != "" {
		return []byte(config.AppConfig.JWT.Secret)
	}
	return []byte("aa-backend-dev-secret")
}

// GenerateJWTToken mints a service token. Used by cmd/generate-jwt.
func GenerateJWTToken(serviceName, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		hours := 24
		if config.AppConfig != nil && config.AppConfig.JWT.ExpiryHours > 0 {
			hours = config.AppConfig.JWT.ExpiryHours
		}
		ttl = time.Duration(hours) * time.Hour
	}

	claims := JWTClaims{
		ServiceName: serviceName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "aa-backend",
			Subject:   serviceName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecret())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateJWTToken verifies a service token and returns its claims
func ValidateJWTToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parsing failed: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// AuthHandler exposes token introspection
type AuthHandler struct{}

// NewAuthHandler creates the auth handler
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// VerifyTokenHandler reports the claims of the presented token.
// GET /api/v1/auth/verify
func (h *AuthHandler) VerifyTokenHandler(c *gin.Context) {
	serviceName := c.GetString("service_name")
	role := c.GetString("role")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": dto.TokenInfoResponse{
			ServiceName: serviceName,
			Role:        role,
		},
	})
}
