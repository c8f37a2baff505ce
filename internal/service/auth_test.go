package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/session"
	"github.com/alma-care/alma-bfa-go/internal/infra/store/memory"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newAuth(t *testing.T, secret string) (*service.AuthService, *session.Store) {
	t.Helper()
	sessions := session.NewStore()
	svc := service.NewAuthService(memory.New(), sessions, &mockPayments{customerID: "cus_new"}, secret, time.Hour, zap.NewNop())
	service.SetBcryptCost(svc, bcrypt.MinCost)
	return svc, sessions
}

func TestAuthService_SignupLoginMe(t *testing.T) {
	svc, sessions := newAuth(t, "secret")
	ctx := context.Background()

	resp, err := svc.Signup(ctx, &domain.SignupRequest{Name: " Rose ", Email: "Rose@Example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if resp.CustomerID != "cus_new" || resp.Name != "Rose" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected signup response %+v", resp)
	}

	claims, err := svc.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != resp.UserID {
		t.Errorf("expected subject %s, got %s", resp.UserID, claims.Subject)
	}

	me, err := svc.Me(ctx, claims.SessionID)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.Email != "rose@example.com" || me.BankLinked || me.Carer != nil {
		t.Errorf("unexpected me %+v", me)
	}

	login, err := svc.Login(ctx, &domain.LoginRequest{Email: "ROSE@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	loginClaims, _ := svc.ValidateAccessToken(login.AccessToken)
	if loginClaims.SessionID == claims.SessionID {
		t.Error("expected login to open a fresh session")
	}
	if sessions.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", sessions.Len())
	}
}

func TestAuthService_SignupValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   domain.SignupRequest
		field string
	}{
		{"missing name", domain.SignupRequest{Email: "a@b.co", Password: "long-enough"}, "name"},
		{"bad email", domain.SignupRequest{Name: "A", Email: "not-an-email", Password: "long-enough"}, "email"},
		{"short password", domain.SignupRequest{Name: "A", Email: "a@b.co", Password: "short"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newAuth(t, "secret")
			req := tt.req

			_, err := svc.Signup(context.Background(), &req)
			v, ok := err.(*domain.ErrValidation)
			if !ok {
				t.Fatalf("expected *domain.ErrValidation, got %v", err)
			}
			if v.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, v.Field)
			}
		})
	}
}

func TestAuthService_DuplicateEmail(t *testing.T) {
	svc, _ := newAuth(t, "secret")
	ctx := context.Background()
	req := domain.SignupRequest{Name: "Rose", Email: "rose@example.com", Password: "correct-horse"}

	first := req
	if _, err := svc.Signup(ctx, &first); err != nil {
		t.Fatal(err)
	}
	second := req
	second.Email = "ROSE@example.com"
	if _, err := svc.Signup(ctx, &second); domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	svc, _ := newAuth(t, "secret")
	ctx := context.Background()
	if _, err := svc.Signup(ctx, &domain.SignupRequest{Name: "Rose", Email: "rose@example.com", Password: "correct-horse"}); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, &domain.LoginRequest{Email: "rose@example.com", Password: "wrong-horse"}); domain.KindOf(err) != domain.KindAuthentication {
		t.Errorf("expected authentication error for a wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, &domain.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"}); domain.KindOf(err) != domain.KindAuthentication {
		t.Errorf("expected authentication error for an unknown email, got %v", err)
	}
}

func TestAuthService_TokenFromAnotherSecretIsRejected(t *testing.T) {
	other, _ := newAuth(t, "other-secret")
	resp, err := other.Signup(context.Background(), &domain.SignupRequest{Name: "Rose", Email: "rose@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatal(err)
	}

	svc, _ := newAuth(t, "secret")
	if _, err := svc.ValidateAccessToken(resp.AccessToken); domain.KindOf(err) != domain.KindAuthentication {
		t.Errorf("expected authentication error, got %v", err)
	}
	if _, err := svc.ValidateAccessToken("not-a-jwt"); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}

func TestAuthService_LogoutEndsSession(t *testing.T) {
	svc, _ := newAuth(t, "secret")
	ctx := context.Background()
	resp, err := svc.Signup(ctx, &domain.SignupRequest{Name: "Rose", Email: "rose@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatal(err)
	}
	claims, _ := svc.ValidateAccessToken(resp.AccessToken)

	if err := svc.Logout(ctx, claims.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Me(ctx, claims.SessionID); err == nil {
		t.Error("expected the session to be gone")
	}
}
