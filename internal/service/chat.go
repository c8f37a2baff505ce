package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alma-care/alma-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgDidNotCatch    = "I didn't catch that. Please rephrase your request."
	msgNeedPayee      = "I need both a payee and an amount. Who would you like to pay, and how much?"
	msgClarify        = "Could you please clarify what you'd like to do?"
	msgUnknownIntent  = "I'm not sure how to help with that. Could you rephrase?"
	msgClassifierDown = "Sorry, I'm having trouble understanding requests right now. Please try again in a moment."
)

// HandleChatTurn classifies one free-text turn and dispatches it. Failures
// inside the dispatched operation come back as a reply, not an error; the
// only error returned is a classifier outage (or a missing session).
func (a *Assistant) HandleChatTurn(ctx context.Context, sessionID, transcript string) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.HandleChatTurn")
	defer span.End()

	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return ReplyForError(err), err
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return &domain.Reply{Intent: domain.Clarify{}.IntentName(), AssistantMessage: msgDidNotCatch}, nil
	}

	cls, err := a.classify(ctx, &domain.ClassifyRequest{
		Transcript:    transcript,
		AllowedPayees: a.registry.Labels(),
		Pending:       sess.Pending,
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Error("intent classifier unavailable", zap.Error(err))
		return &domain.Reply{AssistantMessage: msgClassifierDown, Kind: domain.KindUnavailable}, err
	}

	name := cls.Intent.IntentName()
	span.SetAttributes(attribute.String("chat.intent", name))
	a.metrics.IncrChatIntent(name)

	reply := a.dispatch(ctx, sessionID, cls)
	reply.Intent = name
	return reply, nil
}

// classify asks the classifier once and, on unparseable output, asks it to
// repair its answer once more. A second failure degrades to CLARIFY.
func (a *Assistant) classify(ctx context.Context, req *domain.ClassifyRequest) (*domain.Classification, error) {
	cls, err := a.classifier.Classify(ctx, req)
	if err == nil {
		return cls, nil
	}

	var parseErr *domain.ErrClassification
	if !errors.As(err, &parseErr) {
		return nil, err
	}

	a.logger.Debug("classifier output unparseable, repairing", zap.String("reason", parseErr.Reason))
	cls, err = a.classifier.Repair(ctx, parseErr.Raw)
	if err == nil {
		a.metrics.IncrClassifierRepair("ok")
		cls.Repaired = true
		return cls, nil
	}
	if !errors.As(err, &parseErr) {
		return nil, err
	}

	a.metrics.IncrClassifierRepair("failed")
	a.logger.Warn("classifier repair failed, asking user to rephrase", zap.String("reason", parseErr.Reason))
	return &domain.Classification{
		Intent: domain.Clarify{},
		Say:    msgDidNotCatch,
		Raw:    parseErr.Raw,
	}, nil
}

func (a *Assistant) dispatch(ctx context.Context, sessionID string, cls *domain.Classification) *domain.Reply {
	switch in := cls.Intent.(type) {
	case domain.CheckBalance:
		return a.checkBalance(ctx, sessionID)

	case domain.TransferDraft:
		if strings.TrimSpace(in.PayeeLabel) == "" || !in.Amount.IsPositive() {
			return &domain.Reply{AssistantMessage: msgNeedPayee}
		}
		reply, err := a.DraftTransfer(ctx, sessionID, in.PayeeLabel, in.Amount, in.Currency)
		if err == nil && cls.Say != "" {
			reply.AssistantMessage = cls.Say
		}
		return reply

	case domain.Confirm:
		reply, err := a.ConfirmTransfer(ctx, sessionID)
		if err != nil {
			a.logger.Info("chat confirm did not complete", zap.String("kind", string(domain.KindOf(err))))
		}
		return reply

	case domain.Cancel:
		reply, _ := a.CancelTransfer(ctx, sessionID)
		if reply.Kind == "" && cls.Say != "" {
			reply.AssistantMessage = cls.Say
		}
		return reply

	case domain.Clarify:
		return &domain.Reply{
			AssistantMessage: orDefault(cls.Say, msgClarify),
			Data:             map[string][]string{"choices": in.Choices},
		}

	case domain.Help:
		return &domain.Reply{AssistantMessage: orDefault(cls.Say, a.helpMessage())}

	case domain.Unrecognized:
		return &domain.Reply{AssistantMessage: msgUnknownIntent}

	default:
		return &domain.Reply{AssistantMessage: msgUnknownIntent}
	}
}

// CheckBalance answers a balance question for the session.
func (a *Assistant) CheckBalance(ctx context.Context, sessionID string) (*domain.Reply, error) {
	ctx, span := tracer.Start(ctx, "Assistant.CheckBalance")
	defer span.End()

	bal, err := a.banking.Balance(ctx, sessionID)
	if err != nil {
		reply := ReplyForError(err)
		if domain.KindOf(err) == domain.KindUnavailable {
			reply.AssistantMessage = "I had trouble checking your balance. Please try again later."
		}
		return reply, err
	}
	return &domain.Reply{
		AssistantMessage: fmt.Sprintf("Your available balance is %s %s, and your current balance is %s %s.",
			bal.Available.StringFixed(2), bal.Currency, bal.Current.StringFixed(2), bal.Currency),
		Data: bal,
	}, nil
}

func (a *Assistant) checkBalance(ctx context.Context, sessionID string) *domain.Reply {
	reply, err := a.CheckBalance(ctx, sessionID)
	if err != nil {
		a.logger.Info("chat balance check did not complete", zap.Error(err))
	}
	return reply
}

// ChatState returns the diagnostic view of the session.
func (a *Assistant) ChatState(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := sess.State()
	return &st, nil
}

func (a *Assistant) helpMessage() string {
	return "Here's what I can help you with: check your balance, send money to someone, " +
		"or confirm/cancel a transfer. I can send money to: " + strings.Join(a.registry.Labels(), ", ") + "."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
