package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/service"

	"go.uber.org/zap"
)

func newCarerService(h *harness) *service.CarerService {
	return service.NewCarerService(h.sessions, h.notifier, zap.NewNop())
}

func TestCarerService_RegisterNotifiesCarer(t *testing.T) {
	h := newHarness(t, "")
	h.seed(t, false)
	svc := newCarerService(h)
	ctx := context.Background()

	reply, err := svc.Register(ctx, testSessionID, "  Anne ", "+353 87 123 4567")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	res := reply.Data.(service.CarerResult)
	if !res.Notified || res.Carer.Phone != testCarerPhone || res.Carer.Name != "Anne" {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(reply.AssistantMessage, "I've let Anne know") {
		t.Errorf("unexpected message %q", reply.AssistantMessage)
	}

	msgs := h.messenger.messages()
	if len(msgs) != 1 || msgs[0].to != testCarerPhone || !strings.Contains(msgs[0].body, "trusted contact for Rose") {
		t.Errorf("unexpected welcome message %+v", msgs)
	}

	carer, err := svc.Get(ctx, testSessionID)
	if err != nil || carer == nil || carer.Phone != testCarerPhone {
		t.Errorf("expected carer stored, got %+v, %v", carer, err)
	}
}

func TestCarerService_RegisterStillLinksWhenDeliveryFails(t *testing.T) {
	h := newHarness(t, "")
	h.seed(t, false)
	h.messenger.err = context.DeadlineExceeded
	svc := newCarerService(h)

	reply, err := svc.Register(context.Background(), testSessionID, "Anne", testCarerPhone)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply.Data.(service.CarerResult).Notified {
		t.Error("expected notified=false")
	}
	if h.session(t).Carer == nil {
		t.Error("expected carer linked regardless")
	}
}

func TestCarerService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		carer string
		phone string
		field string
	}{
		{"empty name", " ", testCarerPhone, "name"},
		{"no plus", "Anne", "0871234567", "phone"},
		{"too short", "Anne", "+3531", "phone"},
		{"too long", "Anne", "+3538712345678901", "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			h.seed(t, false)

			_, err := newCarerService(h).Register(context.Background(), testSessionID, tt.carer, tt.phone)
			v, ok := err.(*domain.ErrValidation)
			if !ok || v.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
			if len(h.messenger.messages()) != 0 || h.session(t).Carer != nil {
				t.Error("a rejected carer must not be stored or messaged")
			}
		})
	}
}

func TestCarerService_Remove(t *testing.T) {
	h := newHarness(t, "")
	h.seed(t, true)
	svc := newCarerService(h)
	ctx := context.Background()

	if _, err := svc.Remove(ctx, testSessionID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	carer, err := svc.Get(ctx, testSessionID)
	if err != nil || carer != nil {
		t.Errorf("expected no carer, got %+v, %v", carer, err)
	}
}
