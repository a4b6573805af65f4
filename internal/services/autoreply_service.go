// Package services – AutoReplyService
//
// This file implements the auto-reply rule engine. It owns rule CRUD for a
// user and, as an Automation, evaluates every stored message against the
// rules of the other participants. Per recipient the newest matching rule
// fires once; its template is rendered with sender/recipient/date/time
// placeholders and appended to the same inbox as the recipient's message.

package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/config"
	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
)

// Template placeholder time layouts ("January 2, 2006" / "3:04 PM").
const (
	placeholderDateLayout = "January 2, 2006"
	placeholderTimeLayout = "3:04 PM"
)

// AutoReplyService evaluates and manages per-user auto-reply rules. It
// implements Automation and is registered on the MessageService.
type AutoReplyService struct {
	DB        *gorm.DB
	Cfg       config.AutoReplyConfig
	Directory UserDirectory

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

func (s *AutoReplyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// ProcessMessage evaluates the rules of every participant other than the
// sender. A failure for one recipient is logged and never blocks the rest.
func (s *AutoReplyService) ProcessMessage(ctx context.Context, msg *domain.Message, inbox *domain.Inbox) {
	if !s.Cfg.Enabled {
		return
	}
	for _, userID := range inbox.ParticipantIDs() {
		if userID == msg.SenderID {
			continue
		}
		if err := s.evaluateFor(ctx, userID, msg, inbox); err != nil {
			log.Error().Err(err).
				Str("inbox_id", inbox.ID).
				Str("message_id", msg.ID).
				Str("user_id", userID).
				Msg("auto-reply evaluation failed")
		}
	}
}

// evaluateFor walks the recipient's active rules newest-first and fires the
// first one whose trigger matches. At most one rule replies per recipient
// per message.
func (s *AutoReplyService) evaluateFor(ctx context.Context, userID string, msg *domain.Message, inbox *domain.Inbox) error {
	rules, err := repo.ListActiveAutoReplies(ctx, s.DB, userID)
	if err != nil {
		return err
	}

	now := s.now()
	for i := range rules {
		rule := &rules[i]
		fire, err := s.shouldTrigger(ctx, rule, msg, now)
		if err != nil {
			return err
		}
		if !fire {
			continue
		}
		if err := s.sendReply(ctx, rule, msg, inbox, now); err != nil {
			return err
		}
		break
	}
	return nil
}

// shouldTrigger applies the schedule window, the reply-once dedupe and the
// rule's trigger condition. An unrecognized trigger type never fires.
func (s *AutoReplyService) shouldTrigger(ctx context.Context, rule *domain.AutoReply, msg *domain.Message, now time.Time) (bool, error) {
	if !rule.WithinSchedule(now) {
		return false, nil
	}
	if rule.ReplyOncePerConversation {
		replied, err := repo.HasReplied(s.DB.WithContext(ctx), rule.ID, msg.InboxID)
		if err != nil {
			return false, err
		}
		if replied {
			return false, nil
		}
	}

	switch rule.TriggerType {
	case domain.TriggerAll:
		return true, nil
	case domain.TriggerFirstMessage:
		// The triggering message is already stored, so the first message
		// in the conversation sees a count of one.
		total, err := repo.CountMessages(s.DB.WithContext(ctx), msg.InboxID)
		if err != nil {
			return false, err
		}
		return total <= 1, nil
	case domain.TriggerKeywords:
		return rule.MatchesKeywords(msg.Body), nil
	default:
		log.Warn().
			Str("rule_id", rule.ID).
			Str("trigger_type", rule.TriggerType).
			Msg("unrecognized auto-reply trigger type")
		return false, nil
	}
}

// sendReply renders the rule template, appends the reply on behalf of the
// rule owner and records the reply-once marker when the rule asks for it.
func (s *AutoReplyService) sendReply(ctx context.Context, rule *domain.AutoReply, msg *domain.Message, inbox *domain.Inbox, now time.Time) error {
	body := s.renderTemplate(ctx, rule, msg, inbox, now)

	// The reply must sort after the message that triggered it, even when the
	// engine clock trails the store clock.
	stamp := now
	if !stamp.After(msg.CreatedAt) {
		stamp = msg.CreatedAt.Add(time.Millisecond)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(tx, inbox.ID, rule.UserID, &body, stamp); err != nil {
			return err
		}
		return repo.TouchInbox(tx, inbox.ID, stamp)
	})
	if err != nil {
		return err
	}

	if rule.ReplyOncePerConversation {
		if err := repo.MarkReplied(s.DB.WithContext(ctx), rule.ID, inbox.ID); err != nil {
			return err
		}
	}
	return nil
}

// renderTemplate substitutes the supported placeholders:
//
//	{sender_name}    comma-joined names of every participant except the
//	                 rule owner
//	{recipient_name} the rule owner's name
//	{date} / {time}  the current date and time in the configured timezone
func (s *AutoReplyService) renderTemplate(ctx context.Context, rule *domain.AutoReply, msg *domain.Message, inbox *domain.Inbox, now time.Time) string {
	var senders []string
	for _, id := range inbox.ParticipantIDs() {
		if id == rule.UserID {
			continue
		}
		senders = append(senders, displayNameOrFallback(ctx, s.Directory, id))
	}

	local := now.In(s.Cfg.Location())
	return strings.NewReplacer(
		"{sender_name}", strings.Join(senders, ", "),
		"{recipient_name}", displayNameOrFallback(ctx, s.Directory, rule.UserID),
		"{date}", local.Format(placeholderDateLayout),
		"{time}", local.Format(placeholderTimeLayout),
	).Replace(rule.Message)
}

// RuleInput carries the writable fields of an auto-reply rule.
type RuleInput struct {
	Message                  string
	IsActive                 bool
	TriggerType              string
	Keywords                 []string
	StartAt                  *time.Time
	EndAt                    *time.Time
	ReplyDelaySeconds        int
	ReplyOncePerConversation bool
}

// validate normalizes in against the engine configuration and returns the
// effective trigger type.
func (s *AutoReplyService) validate(in *RuleInput) error {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return ErrEmptyTemplate
	}

	if in.TriggerType == "" {
		in.TriggerType = s.Cfg.DefaultTrigger
	}
	switch in.TriggerType {
	case domain.TriggerAll, domain.TriggerFirstMessage:
	case domain.TriggerKeywords:
		if !s.Cfg.AllowKeywords {
			return ErrKeywordsNotAllowed
		}
	default:
		return ErrInvalidTrigger
	}

	if in.StartAt != nil || in.EndAt != nil {
		if !s.Cfg.AllowScheduled {
			return ErrScheduleNotAllowed
		}
		if in.StartAt != nil && in.EndAt != nil && in.EndAt.Before(*in.StartAt) {
			return ErrInvalidSchedule
		}
	}

	if in.ReplyDelaySeconds < 0 || (s.Cfg.MaxDelaySeconds > 0 && in.ReplyDelaySeconds > s.Cfg.MaxDelaySeconds) {
		return ErrDelayTooLong
	}
	return nil
}

// CreateRule validates the input, enforces the per-user rule cap and
// persists a new rule owned by userID.
func (s *AutoReplyService) CreateRule(ctx context.Context, userID string, in RuleInput) (*domain.AutoReply, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	if s.Cfg.MaxRulesPerUser > 0 {
		total, err := repo.CountAutoReplies(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		if total >= int64(s.Cfg.MaxRulesPerUser) {
			return nil, ErrRuleLimit
		}
	}

	rule := &domain.AutoReply{
		ID:                       uuid.NewString(),
		UserID:                   userID,
		Message:                  in.Message,
		IsActive:                 in.IsActive,
		TriggerType:              in.TriggerType,
		Keywords:                 in.Keywords,
		StartAt:                  in.StartAt,
		EndAt:                    in.EndAt,
		ReplyDelaySeconds:        in.ReplyDelaySeconds,
		ReplyOncePerConversation: in.ReplyOncePerConversation,
	}
	return repo.CreateAutoReply(ctx, s.DB, rule)
}

// GetRule fetches a rule owned by userID.
func (s *AutoReplyService) GetRule(ctx context.Context, userID, id string) (*domain.AutoReply, error) {
	rule, err := repo.GetAutoReply(ctx, s.DB, id, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// UpdateRule replaces the writable fields of a rule owned by userID.
func (s *AutoReplyService) UpdateRule(ctx context.Context, userID, id string, in RuleInput) (*domain.AutoReply, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	rule, err := repo.GetAutoReply(ctx, s.DB, id, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	rule.Message = in.Message
	rule.IsActive = in.IsActive
	rule.TriggerType = in.TriggerType
	rule.Keywords = in.Keywords
	rule.StartAt = in.StartAt
	rule.EndAt = in.EndAt
	rule.ReplyDelaySeconds = in.ReplyDelaySeconds
	rule.ReplyOncePerConversation = in.ReplyOncePerConversation

	if err := repo.SaveAutoReply(ctx, s.DB, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule soft-deletes a rule owned by userID.
func (s *AutoReplyService) DeleteRule(ctx context.Context, userID, id string) error {
	err := repo.DeleteAutoReply(ctx, s.DB, id, userID)
	if err == gorm.ErrRecordNotFound {
		return ErrRuleNotFound
	}
	return err
}

// ListRules returns all rules owned by userID, newest first.
func (s *AutoReplyService) ListRules(ctx context.Context, userID string) ([]domain.AutoReply, error) {
	return repo.ListAutoReplies(ctx, s.DB, userID)
}
