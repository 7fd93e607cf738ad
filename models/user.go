// Package models defines the domain types shared by the server, the HTTP
// client and the chat view. JSON tags describe the wire format of the API.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// UserRole is the part a user plays in the practice.
type UserRole string

const (
	RoleAttorney  UserRole = "attorney"
	RoleClient    UserRole = "client"
	RoleStaff     UserRole = "staff"
	RoleMarketing UserRole = "marketing"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAttorney, RoleClient, RoleStaff, RoleMarketing:
		return true
	}
	return false
}

// User is an account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  *string   `json:"display_name"`
	Email        *string   `json:"email,omitempty"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CreateUserRequest is the registration body.
type CreateUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Role        UserRole `json:"role"`
}

// Validate trims and checks the request:
//   - username: 3-32 chars, letters, digits and underscore
//   - password: at least 8 chars
//   - display name: optional, at most 64 chars
//   - email: optional, must look like an address
//   - role: defaults to client
func (r *CreateUserRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	n := utf8.RuneCountInString(r.Username)
	if n < 3 || n > 32 {
		return fmt.Errorf("username must be between 3 and 32 characters")
	}
	for _, ch := range r.Username {
		if !isValidUsernameChar(ch) {
			return fmt.Errorf("username can only contain letters, numbers, and underscores")
		}
	}

	if utf8.RuneCountInString(r.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	r.DisplayName = strings.TrimSpace(r.DisplayName)
	if utf8.RuneCountInString(r.DisplayName) > 64 {
		return fmt.Errorf("display name must be at most 64 characters")
	}

	r.Email = strings.TrimSpace(r.Email)
	if r.Email != "" && !emailRegex.MatchString(r.Email) {
		return fmt.Errorf("invalid email format")
	}

	if r.Role == "" {
		r.Role = RoleClient
	}
	if !r.Role.Valid() {
		return fmt.Errorf("unknown role %q", r.Role)
	}
	return nil
}

// LoginRequest is the login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks that both fields are present.
func (r *LoginRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" {
		return fmt.Errorf("username is required")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func isValidUsernameChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '_'
}
