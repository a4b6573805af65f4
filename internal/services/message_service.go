// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the message lifecycle. It validates inputs, verifies the target
// inbox, persists the message and bumps the inbox recency atomically, and
// then hands the stored message to the registered automations (auto-reply
// rules, AI responder). Automation failures are logged and never surface
// to the sender.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include inbox/user identifiers and pagination parameters where
// applicable.

package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Automation is a post-send hook. Implementations receive every stored
// message together with its inbox and decide themselves whether to act.
// They must not return errors to the sender path; anything that goes wrong
// stays inside the implementation.
type Automation interface {
	ProcessMessage(ctx context.Context, msg *domain.Message, inbox *domain.Inbox)
}

// MessageService coordinates message persistence, read tracking and the
// automation fan-out.
type MessageService struct {
	DB      *gorm.DB
	Inboxes *InboxService

	// Automations run in registration order after every successful Send.
	Automations []Automation

	// MaxBodyRunes caps the message body length when > 0.
	MaxBodyRunes int

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Send validates the body, verifies the inbox, persists the message and
// touches the inbox in one transaction, then dispatches the automations.
func (s *MessageService) Send(ctx context.Context, inboxID, senderID, body string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("inbox.id", inboxID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return nil, ErrTooLong
	}

	inbox, err := repo.GetInbox(ctx, s.DB, inboxID)
	if err != nil {
		return nil, ErrInboxNotFound
	}

	msg, err := s.persist(ctx, inboxID, senderID, &body)
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, msg, inbox)
	return msg, nil
}

// SendToUsers resolves (or creates) the inbox for the given participant set
// and sends the message there. The sender is always part of the set.
func (s *MessageService) SendToUsers(ctx context.Context, participantIDs []string, senderID, body string, title *string) (*domain.Message, *domain.Inbox, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SendToUsers",
		trace.WithAttributes(
			attribute.String("user.id", senderID),
			attribute.Int("participants", len(participantIDs)),
		),
	)
	defer span.End()

	inbox, err := s.Inboxes.ResolveOrCreate(ctx, participantIDs, senderID, title)
	if err != nil {
		return nil, nil, err
	}

	msg, err := s.Send(ctx, inbox.ID, senderID, body)
	if err != nil {
		return nil, nil, err
	}
	return msg, inbox, nil
}

// persist stores the message and bumps the inbox updated_at atomically.
func (s *MessageService) persist(ctx context.Context, inboxID, senderID string, body *string) (*domain.Message, error) {
	now := s.now()
	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, inboxID, senderID, body, now)
		if err != nil {
			return err
		}
		msg = m
		return repo.TouchInbox(tx, inboxID, now)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// dispatch runs the registered automations. Each one is isolated: a panic
// or internal failure in one never blocks the others, and nothing reaches
// the caller.
func (s *MessageService) dispatch(ctx context.Context, msg *domain.Message, inbox *domain.Inbox) {
	for _, a := range s.Automations {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("inbox_id", inbox.ID).
						Str("message_id", msg.ID).
						Msg("automation panicked")
				}
			}()
			a.ProcessMessage(ctx, msg, inbox)
		}()
	}
}

// UnreadCount returns how many messages in the inbox the user has not read.
// The user's own messages never count as unread.
func (s *MessageService) UnreadCount(ctx context.Context, inboxID, userID string) (int64, error) {
	if _, err := repo.GetInbox(ctx, s.DB, inboxID); err != nil {
		return 0, ErrInboxNotFound
	}
	return repo.UnreadCount(s.DB.WithContext(ctx), inboxID, userID)
}

// MarkRead records a read receipt for every message in the inbox the user
// has not read yet and returns how many were newly marked. Calling it again
// is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, inboxID, userID string) (int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("inbox.id", inboxID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := repo.GetInbox(ctx, s.DB, inboxID); err != nil {
		return 0, ErrInboxNotFound
	}
	return repo.MarkRead(s.DB.WithContext(ctx), inboxID, userID, s.now())
}

// Latest returns the newest message in the inbox, or (nil, nil) when the
// inbox is empty.
func (s *MessageService) Latest(ctx context.Context, inboxID string) (*domain.Message, error) {
	if _, err := repo.GetInbox(ctx, s.DB, inboxID); err != nil {
		return nil, ErrInboxNotFound
	}
	msg, err := repo.LatestMessage(s.DB.WithContext(ctx), inboxID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// Recent returns up to limit messages, newest first.
func (s *MessageService) Recent(ctx context.Context, inboxID string, limit int) ([]domain.Message, error) {
	if _, err := repo.GetInbox(ctx, s.DB, inboxID); err != nil {
		return nil, ErrInboxNotFound
	}
	if limit <= 0 {
		limit = 20
	}
	return repo.ListRecentMessages(s.DB.WithContext(ctx), inboxID, limit)
}

// ListPage returns a page of the inbox's messages in chronological order
// together with the total count.
func (s *MessageService) ListPage(ctx context.Context, inboxID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("inbox.id", inboxID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetInbox(ctx, s.DB, inboxID); err != nil {
		return nil, 0, ErrInboxNotFound
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMessages(s.DB.WithContext(ctx), inboxID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), inboxID, offset, pageSize)
	return items, total, err
}
