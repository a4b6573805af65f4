package airesponder

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/config"
	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
)

// attachmentFallback stands in for messages that carry no text body when
// building the provider context.
const attachmentFallback = "[Attachment]"

// NameLookup resolves user ids to display names for the provider context.
// services.StaticDirectory satisfies it.
type NameLookup interface {
	DisplayName(ctx context.Context, userID string) (string, bool)
}

// Responder is the Automation that answers messages on behalf of the
// configured AI user. The pipeline per message: enabled check, self-message
// guard, participation guard, per-inbox rate limit, context assembly,
// provider call, reply persistence. Every failure is logged and swallowed.
type Responder struct {
	DB        *gorm.DB
	Cfg       config.AIConfig
	Provider  Provider
	Directory NameLookup

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// NewResponder wires a Responder with the provider selected by cfg.
func NewResponder(db *gorm.DB, cfg config.AIConfig, dir NameLookup, custom CustomFunc) *Responder {
	return &Responder{
		DB:        db,
		Cfg:       cfg,
		Provider:  NewProvider(cfg, custom),
		Directory: dir,
	}
}

func (r *Responder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// ProcessMessage runs the responder pipeline for one stored message.
func (r *Responder) ProcessMessage(ctx context.Context, msg *domain.Message, inbox *domain.Inbox) {
	if !r.Cfg.Enabled || r.Cfg.UserID == "" {
		return
	}
	if msg.SenderID == r.Cfg.UserID {
		return
	}
	if !inbox.HasParticipant(r.Cfg.UserID) {
		return
	}

	now := r.now()
	if window := r.Cfg.RateLimitWindow(); window > 0 {
		recent, err := repo.CountMessagesFromSince(r.DB.WithContext(ctx), inbox.ID, r.Cfg.UserID, now.Add(-window))
		if err != nil {
			r.logErr(err, inbox, msg, "ai rate-limit probe failed")
			return
		}
		if recent > 0 {
			return
		}
	}

	turns, err := r.buildContext(ctx, inbox.ID)
	if err != nil {
		r.logErr(err, inbox, msg, "ai context assembly failed")
		return
	}
	if len(turns) == 0 {
		return
	}

	reply, err := r.Provider.Generate(ctx, turns)
	if err != nil {
		r.logErr(err, inbox, msg, "ai provider call failed")
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(tx, inbox.ID, r.Cfg.UserID, &reply, now); err != nil {
			return err
		}
		return repo.TouchInbox(tx, inbox.ID, now)
	})
	if err != nil {
		r.logErr(err, inbox, msg, "ai reply persistence failed")
	}
}

// buildContext loads the most recent messages and converts them to provider
// turns in chronological order. The AI user's own messages become assistant
// turns; everyone else's are user turns prefixed with the sender's name.
func (r *Responder) buildContext(ctx context.Context, inboxID string) ([]Turn, error) {
	limit := r.Cfg.ContextMessages
	if limit <= 0 {
		limit = 10
	}
	recent, err := repo.ListRecentMessages(r.DB.WithContext(ctx), inboxID, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		if m.SenderID == r.Cfg.UserID {
			turns = append(turns, Turn{Role: RoleAssistant, Content: m.BodyOrEmpty()})
			continue
		}
		// The attachment marker is for user turns only.
		body := attachmentFallback
		if m.Body != nil {
			body = *m.Body
		}
		name := r.displayName(ctx, m.SenderID)
		turns = append(turns, Turn{Role: RoleUser, Content: "[" + name + "]: " + body})
	}
	return turns, nil
}

func (r *Responder) displayName(ctx context.Context, userID string) string {
	if r.Directory != nil {
		if name, ok := r.Directory.DisplayName(ctx, userID); ok && name != "" {
			return name
		}
	}
	return userID
}

func (r *Responder) logErr(err error, inbox *domain.Inbox, msg *domain.Message, what string) {
	log.Error().Err(err).
		Str("inbox_id", inbox.ID).
		Str("message_id", msg.ID).
		Msg(what)
}
