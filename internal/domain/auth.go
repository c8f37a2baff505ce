package domain

import "time"

// ============================================================
// Users & Auth
// ============================================================

// User is a registered Alma account holder.
type User struct {
	ID           string    `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CustomerID   string    `json:"customer_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// SignupRequest is the body for POST /v1/auth/signup.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	CustomerID  string `json:"customer_id"`
}

// MeResponse is returned by GET /v1/auth/me.
type MeResponse struct {
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	CustomerID string     `json:"customer_id"`
	Carer      *CarerLink `json:"carer,omitempty"`
	BankLinked bool       `json:"bank_linked"`
}
