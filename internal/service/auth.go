// Package service holds Alma's application logic: the payee catalogue, risk
// evaluation, payment execution, the transfer protocol, the conversation
// dispatcher and the supporting account flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost        = 12
	minPasswordLength = 8
	tokenIssuer       = "alma-bfa"
)

// AuthService handles signup, login and the session tokens that bind a
// request to its session.
type AuthService struct {
	users     port.UserRepository
	sessions  port.SessionStore
	payments  port.PaymentsProvider
	jwtSecret []byte
	tokenTTL  time.Duration
	cost      int
	logger    *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(users port.UserRepository, sessions port.SessionStore, payments port.PaymentsProvider, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		sessions:  sessions,
		payments:  payments,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		cost:      bcryptCost,
		logger:    logger,
	}
}

// JWTClaims binds a token to a user and one session.
type JWTClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// ============================================================
// Signup: POST /v1/auth/signup
// ============================================================

func (s *AuthService) Signup(ctx context.Context, req *domain.SignupRequest) (*domain.AuthResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Signup")
	defer span.End()

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validateSignup(req); err != nil {
		return nil, err
	}

	existing, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil && domain.KindOf(err) != domain.KindNotFound {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "an account with this email already exists"}
	}

	customerID, err := s.payments.CreateCustomer(ctx, req.Name, req.Email)
	if err != nil {
		return nil, fmt.Errorf("create payments customer: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		CustomerID:   customerID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}

	s.logger.Info("user signed up",
		zap.String("user_id", user.ID),
		zap.String("customer_id", customerID),
	)
	return s.openSession(ctx, user)
}

func validateSignup(req *domain.SignupRequest) error {
	if req.Name == "" {
		return &domain.ErrValidation{Field: "name", Message: "is required"}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return &domain.ErrValidation{Field: "email", Message: "is not a valid address"}
	}
	if len(req.Password) < minPasswordLength {
		return &domain.ErrValidation{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	return nil
}

// ============================================================
// Login: POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrUnauthorized{Message: "invalid email or password"}
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: wrong password", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "invalid email or password"}
	}

	span.SetAttributes(attribute.String("user.id", user.ID))
	return s.openSession(ctx, user)
}

// ============================================================
// Logout / Me
// ============================================================

// Logout clears the session. The token becomes useless immediately.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Me describes the session's user.
func (s *AuthService) Me(ctx context.Context, sessionID string) (*domain.MeResponse, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.MeResponse{
		UserID:     sess.UserID,
		Name:       sess.UserName,
		Email:      sess.Email,
		CustomerID: sess.CustomerID,
		Carer:      sess.Carer,
		BankLinked: sess.Bank != nil && sess.Bank.AccessToken != "",
	}, nil
}

// ValidateAccessToken checks signature and expiry and returns the claims.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	return claims, nil
}

// ============================================================
// Internal helpers
// ============================================================

func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*domain.AuthResponse, error) {
	sess := &domain.Session{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		UserName:   user.Name,
		Email:      user.Email,
		CustomerID: user.CustomerID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token, err := s.signAccessToken(user.ID, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &domain.AuthResponse{
		AccessToken: token,
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		UserID:      user.ID,
		Name:        user.Name,
		CustomerID:  user.CustomerID,
	}, nil
}

func (s *AuthService) signAccessToken(userID, sessionID string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
