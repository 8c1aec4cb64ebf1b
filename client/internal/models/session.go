package models

import (
	"strings"
	"time"
)

// Role is the identity role carried by a session token.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes server role strings ("Manager", "ADMIN") into a Role.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleManager:
		return RoleManager, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// User is the profile object returned next to a token by the identity endpoints.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	FullName    string `json:"fullName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Name returns the best available display name.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.FullName
}

// Session is the client's local view of an authenticated identity.
type Session struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	Token       string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session token is past its expiry at now.
// A zero ExpiresAt means the token carried no exp claim and never expires locally.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Valid reports whether the session holds a token and a derived user that is not expired.
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && s.UserID != "" && !s.Expired(now)
}
