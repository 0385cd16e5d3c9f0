package auth

import "time"

type Role string

const (
	// RoleMember is every registered user; a member can list products, buy,
	// sell and dispute.
	RoleMember Role = "member"
	// RoleArbiter can rule on disputes, override orders and review KYC.
	// Arbiters are provisioned operationally, never via registration.
	RoleArbiter Role = "arbiter"
)

// User is the domain representation of an authenticated user. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
