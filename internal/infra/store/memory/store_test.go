package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := &domain.User{ID: "u1", Name: "Ann", Email: "ann@example.com"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateUser(ctx, &domain.User{ID: "u2", Email: "ANN@example.com"}); domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict on duplicate email, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "Ann@Example.com")
	if err != nil || got.ID != "u1" {
		t.Fatalf("lookup by email: %+v, %v", got, err)
	}
	got.Name = "changed"
	again, _ := s.GetUserByID(ctx, "u1")
	if again.Name != "Ann" {
		t.Error("store must not share records with callers")
	}

	if _, err := s.GetUserByID(ctx, "missing"); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"txn_1", "txn_2", "txn_3"} {
		rec := &domain.TransactionRecord{
			ID:        id,
			UserID:    "u1",
			Type:      domain.TxnPayment,
			Amount:    decimal.NewFromInt(int64(10 * (i + 1))),
			Currency:  "EUR",
			Status:    domain.TxnPending,
			ChargeID:  "pi_" + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.AppendTransaction(ctx, rec); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	_ = s.AppendTransaction(ctx, &domain.TransactionRecord{ID: "txn_9", UserID: "u2", CreatedAt: base})

	if err := s.AppendTransaction(ctx, &domain.TransactionRecord{ID: "txn_1"}); domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict on duplicate id, got %v", err)
	}

	list, err := s.ListTransactions(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "txn_3" || list[1].ID != "txn_2" {
		t.Errorf("expected newest first with limit, got %+v", list)
	}

	all, _ := s.ListTransactions(ctx, "u1", 0)
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}

	rec, err := s.FindByChargeID(ctx, "pi_txn_2")
	if err != nil || rec.ID != "txn_2" {
		t.Fatalf("find by charge: %+v, %v", rec, err)
	}

	updated, err := s.UpdateTransactionStatus(ctx, "txn_2", domain.TxnCompleted)
	if err != nil || updated.Status != domain.TxnCompleted {
		t.Fatalf("update: %+v, %v", updated, err)
	}
	stored, _ := s.GetTransaction(ctx, "txn_2")
	if stored.Status != domain.TxnCompleted {
		t.Errorf("status not persisted")
	}

	if _, err := s.UpdateTransactionStatus(ctx, "nope", domain.TxnFailed); domain.KindOf(err) != domain.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}
