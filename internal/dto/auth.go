package dto

import "github.com/golang-jwt/jwt/v5"

// JWTClaims identifies the calling service. Tokens are minted offline with
// cmd/generate-jwt and handed to the platform backend.
type JWTClaims struct {
	ServiceName string `json:"service_name"`
	Role        string `json:"role"` // "admin" | "service"
	jwt.RegisteredClaims
}

// TokenInfoResponse is returned by the token verification endpoint
type TokenInfoResponse struct {
	ServiceName string `json:"serviceName"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}
