package models

import "time"

// Session backs a refresh token. Access tokens are short lived and stateless;
// refresh tokens are stored so that logout can revoke them.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}
