// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
)

// InboxesStats returns aggregate metadata for a user's inboxes: the total
// number of rows and the maximum UpdatedAt timestamp among those rows.
//
// When the user has no inboxes, the returned count is 0 and maxUpdatedAt is
// nil. The HTTP layer folds both into a weak ETag for inbox listings.
func InboxesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Inbox{}).
		Joins("JOIN inbox_participants ip ON ip.inbox_id = inboxes.id AND ip.user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("inboxes.updated_at").Order("inboxes.updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns aggregate metadata for messages within a given
// inbox: the total number of rows and the maximum UpdatedAt timestamp among
// those rows. When the inbox has no messages, the returned count is 0 and
// maxUpdatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, inboxID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("inbox_id = ?", inboxID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
