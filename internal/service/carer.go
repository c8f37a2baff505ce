package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"
	"github.com/alma-care/alma-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var carerTracer = otel.Tracer("service/carer")

// CarerService manages the trusted contact linked to a session.
type CarerService struct {
	sessions port.SessionStore
	notifier *Notifier
	logger   *zap.Logger
}

// NewCarerService creates the carer service.
func NewCarerService(sessions port.SessionStore, notifier *Notifier, logger *zap.Logger) *CarerService {
	return &CarerService{sessions: sessions, notifier: notifier, logger: logger}
}

// CarerResult is the structured payload of a registration.
type CarerResult struct {
	Carer    *domain.CarerLink `json:"carer"`
	Notified bool              `json:"notified"`
}

// Register links (or replaces) the carer and sends them a welcome message.
func (c *CarerService) Register(ctx context.Context, sessionID, name, phone string) (*domain.Reply, error) {
	ctx, span := carerTracer.Start(ctx, "CarerService.Register")
	defer span.End()

	link := &domain.CarerLink{Name: strings.TrimSpace(name), Phone: normalizePhone(phone)}
	if link.Name == "" {
		err := &domain.ErrValidation{Field: "name", Message: "is required"}
		return ReplyForError(err), err
	}
	if !validPhone(link.Phone) {
		err := &domain.ErrValidation{Field: "phone", Message: "must be in international format, e.g. +353871234567"}
		return ReplyForError(err), err
	}

	sess, err := c.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		l := *link
		s.Carer = &l
		return nil
	})
	if err != nil {
		return ReplyForError(err), err
	}

	notified := c.notifier.Notify(ctx, link.Phone, CarerRegisteredAlert(sess.DisplayName()))
	c.logger.Info("carer registered", zap.String("user_id", sess.UserID), zap.Bool("notified", notified))

	return &domain.Reply{
		AssistantMessage: fmt.Sprintf("I've let %s know they've been added as your trusted contact. "+
			"They'll get a text if anything looks unusual.", link.Name),
		Data: CarerResult{Carer: link, Notified: notified},
	}, nil
}

// Get returns the linked carer, or nil.
func (c *CarerService) Get(ctx context.Context, sessionID string) (*domain.CarerLink, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Carer, nil
}

// Remove unlinks the carer. Removing when none is linked is fine.
func (c *CarerService) Remove(ctx context.Context, sessionID string) (*domain.Reply, error) {
	ctx, span := carerTracer.Start(ctx, "CarerService.Remove")
	defer span.End()

	if _, err := c.sessions.Update(ctx, sessionID, func(s *domain.Session) error {
		s.Carer = nil
		return nil
	}); err != nil {
		return ReplyForError(err), err
	}
	return &domain.Reply{AssistantMessage: "I've removed your trusted contact."}, nil
}

func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '+':
			return r
		default:
			return -1
		}
	}, phone)
}

// validPhone accepts E.164: a plus sign and 8 to 15 digits.
func validPhone(phone string) bool {
	if !strings.HasPrefix(phone, "+") {
		return false
	}
	digits := phone[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	return !strings.Contains(digits, "+")
}
