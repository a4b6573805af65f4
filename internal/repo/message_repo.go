// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model and its read/notification receipt rows.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
)

// CreateMessage inserts a new message row together with the sender's own
// read and notification receipts: an author has always read, and been
// notified of, their own message. Callers compose it with TouchInbox inside
// a transaction so recency ordering stays consistent.
func CreateMessage(db *gorm.DB, inboxID, senderID string, body *string, now time.Time) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		InboxID:   inboxID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}
	if err := db.Create(m).Error; err != nil {
		return nil, err
	}
	if err := db.Create(&domain.MessageRead{MessageID: m.ID, UserID: senderID, ReadAt: now}).Error; err != nil {
		return nil, err
	}
	if err := db.Create(&domain.MessageNotification{MessageID: m.ID, UserID: senderID, NotifiedAt: now}).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestMessage returns the newest message in an inbox, or ErrNotFound when
// the inbox holds no messages.
func LatestMessage(db *gorm.DB, inboxID string) (*domain.Message, error) {
	var m domain.Message
	err := db.
		Where("inbox_id = ?", inboxID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessages returns up to limit messages ordered newest-first.
func ListRecentMessages(db *gorm.DB, inboxID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.Where("inbox_id = ?", inboxID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(db *gorm.DB, inboxID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.
		Where("inbox_id = ?", inboxID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error (as tests expect).
func CountMessages(db *gorm.DB, inboxID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM messages WHERE inbox_id = ? AND deleted_at IS NULL", inboxID).Scan(&total).Error
	return total, err
}

// CountMessagesFromSince counts messages a given sender authored in the
// inbox at or after the cutoff. The AI responder uses it as its rate-limit
// probe: any recent message from the automated participant blocks another.
func CountMessagesFromSince(db *gorm.DB, inboxID, senderID string, since time.Time) (int64, error) {
	var total int64
	err := db.Model(&domain.Message{}).
		Where("inbox_id = ? AND sender_id = ? AND created_at >= ?", inboxID, senderID, since).
		Count(&total).Error
	return total, err
}

// UnreadCount returns the number of messages in the inbox without a read
// receipt for userID.
func UnreadCount(db *gorm.DB, inboxID, userID string) (int64, error) {
	var total int64
	err := db.Model(&domain.Message{}).
		Where("inbox_id = ?", inboxID).
		Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
		Count(&total).Error
	return total, err
}

// MarkRead inserts a read receipt for every message in the inbox that
// userID has not read yet, all stamped with the same timestamp. Receipts
// are keyed by (message_id, user_id) so calling twice inserts nothing new.
// Returns the number of messages marked.
func MarkRead(db *gorm.DB, inboxID, userID string, now time.Time) (int64, error) {
	var unread []domain.Message
	err := db.
		Where("inbox_id = ?", inboxID).
		Where("NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = messages.id AND mr.user_id = ?)", userID).
		Find(&unread).Error
	if err != nil {
		return 0, err
	}

	var marked int64
	for _, m := range unread {
		res := db.Create(&domain.MessageRead{MessageID: m.ID, UserID: userID, ReadAt: now})
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				continue // lost a race with a concurrent MarkRead; already read
			}
			return marked, res.Error
		}
		marked++
	}
	return marked, nil
}

// ReadersOf returns the user ids holding a read receipt for the message.
func ReadersOf(db *gorm.DB, messageID string) ([]string, error) {
	var out []string
	err := db.Model(&domain.MessageRead{}).
		Where("message_id = ?", messageID).
		Order("user_id ASC").
		Pluck("user_id", &out).Error
	return out, err
}
