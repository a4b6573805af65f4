// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for AutoReply
// rules and their per-inbox replied markers.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
)

// CreateAutoReply inserts a new rule row owned by rule.UserID. The ID and
// CreatedAt are assigned here; everything else comes from the caller.
func CreateAutoReply(ctx context.Context, db *gorm.DB, rule *domain.AutoReply) (*domain.AutoReply, error) {
	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// GetAutoReply fetches a rule by ID enforcing ownership. Returns ErrNotFound
// when the rule does not exist or belongs to another user.
func GetAutoReply(ctx context.Context, db *gorm.DB, id, userID string) (*domain.AutoReply, error) {
	var r domain.AutoReply
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAutoReplies returns all of a user's rules, newest first. This ordering
// is also the evaluation order: the first rule that fires wins.
func ListAutoReplies(ctx context.Context, db *gorm.DB, userID string) ([]domain.AutoReply, error) {
	var out []domain.AutoReply
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// ListActiveAutoReplies returns the user's active rules, newest first.
// Schedule windows are evaluated in the service so the gate order (active,
// schedule, dedupe, trigger) stays observable and testable.
func ListActiveAutoReplies(ctx context.Context, db *gorm.DB, userID string) ([]domain.AutoReply, error) {
	var out []domain.AutoReply
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// CountAutoReplies returns the number of live (not soft-deleted) rules the
// user owns, used to enforce the per-user rule cap.
func CountAutoReplies(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AutoReply{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// SaveAutoReply persists edits to an existing rule.
func SaveAutoReply(ctx context.Context, db *gorm.DB, rule *domain.AutoReply) error {
	return db.WithContext(ctx).Save(rule).Error
}

// DeleteAutoReply soft-deletes a rule enforcing ownership. Returns
// ErrNotFound when no row matched.
func DeleteAutoReply(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.AutoReply{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// HasReplied reports whether the rule already replied in the given inbox.
func HasReplied(db *gorm.DB, ruleID, inboxID string) (bool, error) {
	var total int64
	err := db.Model(&domain.AutoReplyReply{}).
		Where("rule_id = ? AND inbox_id = ?", ruleID, inboxID).
		Count(&total).Error
	return total > 0, err
}

// MarkReplied records that the rule replied in the inbox. The pair carries
// a primary-key constraint, so a concurrent duplicate insert degrades to a
// no-op instead of corrupting the replied set.
func MarkReplied(db *gorm.DB, ruleID, inboxID string) error {
	err := db.Create(&domain.AutoReplyReply{
		RuleID:    ruleID,
		InboxID:   inboxID,
		CreatedAt: time.Now().UTC(),
	}).Error
	if err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}
