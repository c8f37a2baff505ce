package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/infra/session"
	"github.com/alma-care/alma-bfa-go/internal/service"
)

func TestPayeeRegistry_Lookup(t *testing.T) {
	r, err := service.NewPayeeRegistry(testPayees())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	p, ok := r.Lookup("  ELECTRIC ireland ")
	if !ok || p.Label != "Electric Ireland" || p.Type != domain.PayeeMerchant {
		t.Errorf("expected case-insensitive match, got %+v, %v", p, ok)
	}
	if _, ok := r.Lookup("Electric"); ok {
		t.Error("expected no partial match")
	}
}

func TestPayeeRegistry_RejectsDuplicates(t *testing.T) {
	_, err := service.NewPayeeRegistry([]domain.Payee{
		{Label: "Mary", Type: domain.PayeePerson},
		{Label: "mary", Type: domain.PayeeMerchant},
	})
	if err == nil {
		t.Fatal("expected duplicate label error")
	}
}

func TestPayeeRegistry_ResolveUnknown(t *testing.T) {
	r, _ := service.NewPayeeRegistry(testPayees())

	_, err := r.Resolve("Bob")
	var unknown *domain.ErrUnknownPayee
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownPayee, got %v", err)
	}
	if len(unknown.Allowed) != 3 || unknown.Allowed[0] != "Mary" {
		t.Errorf("expected catalogue order, got %v", unknown.Allowed)
	}
}

func TestPayeeRegistry_LabelsAreACopy(t *testing.T) {
	r, _ := service.NewPayeeRegistry(testPayees())
	labels := r.Labels()
	labels[0] = "Mallory"

	if _, ok := r.Lookup("Mary"); !ok {
		t.Error("mutating the returned labels must not affect the registry")
	}
}

func TestTransferMachine_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	r, _ := service.NewPayeeRegistry(testPayees())
	sessions := session.NewStore()
	if err := sessions.Create(ctx, &domain.Session{ID: "s", CustomerID: "cus_1"}); err != nil {
		t.Fatal(err)
	}
	m := service.NewTransferMachine(r, sessions, "EUR")

	draft, err := m.Draft(ctx, "s", "Mary", dec("12.50"), "")
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Destination != "acct_mary" || draft.Currency != "EUR" {
		t.Errorf("unexpected draft %+v", draft)
	}

	before, pending, err := m.Consume(ctx, "s")
	if err != nil || pending == nil {
		t.Fatalf("expected a pending transfer, got %v, %v", pending, err)
	}
	if before.Pending == nil {
		t.Error("expected the pre-consume session to still show the draft")
	}

	_, pending, err = m.Consume(ctx, "s")
	if err != nil || pending != nil {
		t.Errorf("expected nothing on second consume, got %v, %v", pending, err)
	}
}
