package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an access token. It lives in models because
// services, ws and middleware all read it.
type TokenClaims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
