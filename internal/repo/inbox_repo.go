// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Inbox
// aggregate and its participant rows.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an inbox is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - CreateInbox returns ErrDuplicate when another inbox already holds the
//     same canonical participant set; the service layer uses this to resolve
//     the lookup-or-create race with a single retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation, e.g. a concurrent
// insert of an inbox with the same participant key, or an idempotency key
// replay. Callers treat it as "the row already exists".
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err carries a SQLite UNIQUE failure.
// glebarez/sqlite often returns plain-text errors for these.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateInbox inserts a new Inbox row plus one participant row per user id.
// participantIDs must already be canonical (sorted, deduplicated); the
// participant key is derived from them. Everything runs in one transaction.
//
// Returns ErrDuplicate when an inbox with the same participant key already
// exists so the caller can re-run the lookup.
func CreateInbox(ctx context.Context, db *gorm.DB, participantIDs []string, title *string) (*domain.Inbox, error) {
	now := time.Now().UTC()
	in := &domain.Inbox{
		ID:             uuid.NewString(),
		Title:          title,
		ParticipantKey: domain.ParticipantKey(participantIDs),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, id := range participantIDs {
		in.Participants = append(in.Participants, domain.InboxParticipant{InboxID: in.ID, UserID: id})
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(in).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return in, nil
}

// FindInboxByParticipants fetches the inbox whose participant set exactly
// equals the given ids (any order, duplicates ignored), or ErrNotFound.
func FindInboxByParticipants(ctx context.Context, db *gorm.DB, participantIDs []string) (*domain.Inbox, error) {
	key := domain.ParticipantKey(participantIDs)
	var in domain.Inbox
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("participant_key = ?", key).
		First(&in).Error
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// GetInbox fetches a single inbox by its ID with participants preloaded.
// If the record does not exist it returns ErrNotFound.
func GetInbox(ctx context.Context, db *gorm.DB, id string) (*domain.Inbox, error) {
	var in domain.Inbox
	err := db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&in).Error
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// ListInboxesForUser returns every inbox the user participates in, most
// recently updated first. It returns an empty slice for unknown users.
func ListInboxesForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Inbox, error) {
	var out []domain.Inbox
	err := db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN inbox_participants ip ON ip.inbox_id = inboxes.id AND ip.user_id = ?", userID).
		Order("inboxes.updated_at DESC").
		Find(&out).Error
	return out, err
}

// CountInboxesForUser returns the number of inboxes the user participates in.
func CountInboxesForUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Inbox{}).
		Joins("JOIN inbox_participants ip ON ip.inbox_id = inboxes.id AND ip.user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListInboxesPage returns a paginated slice of the user's inboxes ordered by
// recency. Use CountInboxesForUser for pagination metadata.
func ListInboxesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Inbox, error) {
	var out []domain.Inbox
	err := db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN inbox_participants ip ON ip.inbox_id = inboxes.id AND ip.user_id = ?", userID).
		Order("inboxes.updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TouchInbox bumps the inbox UpdatedAt so recency ordering reflects the
// latest message. Returns ErrNotFound when the inbox does not exist.
func TouchInbox(db *gorm.DB, id string, now time.Time) error {
	res := db.Model(&domain.Inbox{}).
		Where("id = ?", id).
		Update("updated_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
