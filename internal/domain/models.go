// Package domain defines the persistence models for inboxes, messages,
// read receipts, and auto-reply rules. These types are mapped with GORM and
// form the core data layer of the messaging backend.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Inbox represents a conversation shared by a fixed set of participants.
// Two inboxes never hold the same participant set: the canonical set is
// hashed into ParticipantKey, which carries a unique index so concurrent
// first-message sends collapse onto one row (insert-if-absent).
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Title: optional human-readable title for group conversations.
//   - ParticipantKey: sha-256 hex of the sorted, deduplicated participant ids.
//   - Participants: child rows, one per participant user id.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM; UpdatedAt is bumped
//     on every new message so inbox lists sort by recency.
//   - DeletedAt: soft deletion marker.
type Inbox struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	Title          *string        `json:"title,omitempty" gorm:"type:varchar(255)"`
	ParticipantKey string         `json:"-"               gorm:"type:char(64);not null;uniqueIndex:ux_inbox_participant_key"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"      gorm:"index"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Participants []InboxParticipant `json:"participants" gorm:"foreignKey:InboxID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Inbox.
func (Inbox) TableName() string { return "inboxes" }

// ParticipantIDs returns the user ids of all participants.
func (i *Inbox) ParticipantIDs() []string {
	out := make([]string, 0, len(i.Participants))
	for _, p := range i.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// HasParticipant reports whether userID belongs to the inbox.
func (i *Inbox) HasParticipant(userID string) bool {
	for _, p := range i.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// InboxParticipant links one user to one inbox.
type InboxParticipant struct {
	InboxID string `json:"-"       gorm:"type:char(36);not null;primaryKey;index:idx_participant_user,priority:2"`
	UserID  string `json:"user_id" gorm:"type:varchar(64);not null;primaryKey;index:idx_participant_user,priority:1"`
}

// TableName returns the database table name for InboxParticipant.
func (InboxParticipant) TableName() string { return "inbox_participants" }

// CanonicalParticipants normalizes a participant id list: blank entries are
// dropped, duplicates removed, and the result sorted. The canonical form is
// what ParticipantKey hashes, so any ordering of the same set produces the
// same inbox.
func CanonicalParticipants(userIDs []string) []string {
	seen := make(map[string]struct{}, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ParticipantKey hashes a canonical participant set into the unique lookup
// key stored on Inbox. Callers should pass the output of
// CanonicalParticipants; the function canonicalizes again to be safe.
func ParticipantKey(userIDs []string) string {
	canon := CanonicalParticipants(userIDs)
	sum := sha256.Sum256([]byte(strings.Join(canon, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Message represents a single utterance within an inbox. Body is nullable:
// a nil body marks an attachment-only message. Messages are immutable after
// creation except for read-state rows that accumulate alongside them.
//
// Read tracking is row-based (MessageRead / MessageNotification) rather than
// the parallel-array layout some messaging schemas use; a unique pair index
// makes read marking naturally idempotent.
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	InboxID   string         `json:"inbox_id"   gorm:"type:char(36);not null;index:idx_inbox_msgs,priority:1"`
	SenderID  string         `json:"sender_id"  gorm:"type:varchar(64);not null;index"`
	Body      *string        `json:"body"       gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_inbox_msgs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Inbox is the parent conversation. Messages are cascade-deleted if
	// their inbox is removed.
	Inbox Inbox `json:"-" gorm:"foreignKey:InboxID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// BodyOrEmpty returns the message body, or "" for attachment-only messages.
func (m *Message) BodyOrEmpty() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// MessageRead records that one user has read one message, and when.
// The (message_id, user_id) pair is unique: re-marking is a no-op.
type MessageRead struct {
	MessageID string    `json:"message_id" gorm:"type:char(36);not null;primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;primaryKey"`
	ReadAt    time.Time `json:"read_at"    gorm:"not null"`
}

// TableName returns the database table name for MessageRead.
func (MessageRead) TableName() string { return "message_reads" }

// MessageNotification records that one user has been notified of one message.
type MessageNotification struct {
	MessageID  string    `json:"message_id"  gorm:"type:char(36);not null;primaryKey"`
	UserID     string    `json:"user_id"     gorm:"type:varchar(64);not null;primaryKey"`
	NotifiedAt time.Time `json:"notified_at" gorm:"not null"`
}

// TableName returns the database table name for MessageNotification.
func (MessageNotification) TableName() string { return "message_notifications" }

// Trigger kinds accepted by AutoReply rules.
const (
	TriggerAll          = "all"
	TriggerFirstMessage = "first_message"
	TriggerKeywords     = "keywords"
)

// AutoReply is a per-user rule that decides whether an automated reply is
// sent when the owner receives a message. Rules are soft-deleted so users
// can recover them.
//
// Fields:
//   - UserID: the rule owner; only the owner may edit or delete the rule.
//   - Message: reply template, may contain {sender_name}, {recipient_name},
//     {date} and {time} placeholders.
//   - TriggerType: one of TriggerAll, TriggerFirstMessage, TriggerKeywords.
//   - Keywords: matched case-insensitively as substrings; only meaningful
//     for the keywords trigger.
//   - StartAt / EndAt: optional schedule window, either bound open-ended.
//   - ReplyDelaySeconds: stored and validated but advisory; no deferred
//     delivery mechanism consumes it.
//   - ReplyOncePerConversation: when set, the rule fires at most once per
//     inbox, tracked by AutoReplyReply rows.
type AutoReply struct {
	ID                       string         `json:"id"                          gorm:"type:char(36);primaryKey"`
	UserID                   string         `json:"user_id"                     gorm:"type:varchar(64);not null;index:idx_user_rules"`
	Message                  string         `json:"message"                     gorm:"type:text;not null"`
	IsActive                 bool           `json:"is_active"                   gorm:"not null"`
	TriggerType              string         `json:"trigger_type"                gorm:"type:varchar(32);not null;default:'all'"`
	Keywords                 []string       `json:"keywords,omitempty"          gorm:"serializer:json"`
	StartAt                  *time.Time     `json:"start_at,omitempty"`
	EndAt                    *time.Time     `json:"end_at,omitempty"`
	ReplyDelaySeconds        int            `json:"reply_delay_seconds"         gorm:"not null;default:0"`
	ReplyOncePerConversation bool           `json:"reply_once_per_conversation" gorm:"not null;default:false"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	DeletedAt                gorm.DeletedAt `json:"-"                           gorm:"index"`
}

// TableName returns the database table name for AutoReply.
func (AutoReply) TableName() string { return "auto_replies" }

// WithinSchedule reports whether now falls inside the rule's optional
// schedule window. A nil bound is open-ended.
func (r *AutoReply) WithinSchedule(now time.Time) bool {
	if r.StartAt != nil && now.Before(*r.StartAt) {
		return false
	}
	if r.EndAt != nil && now.After(*r.EndAt) {
		return false
	}
	return true
}

// MatchesKeywords reports whether body contains any configured keyword as a
// case-insensitive substring. A nil body or empty keyword list never matches.
func (r *AutoReply) MatchesKeywords(body *string) bool {
	if body == nil || len(r.Keywords) == 0 {
		return false
	}
	lower := strings.ToLower(*body)
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// AutoReplyReply marks one inbox as already replied to by one rule. The
// unique pair makes "reply once per conversation" bookkeeping an idempotent
// insert instead of a read-modify-write on a JSON array.
type AutoReplyReply struct {
	RuleID    string    `json:"rule_id"  gorm:"type:char(36);not null;primaryKey"`
	InboxID   string    `json:"inbox_id" gorm:"type:char(36);not null;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for AutoReplyReply.
func (AutoReplyReply) TableName() string { return "auto_reply_replies" }
