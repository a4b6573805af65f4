// Package services – InboxService
//
// This file implements the InboxService, the conversation directory. It
// resolves a participant set to a single inbox, creating one when none
// exists. Matching is by exact set equality regardless of order: the set is
// canonicalized (sender added, duplicates dropped, sorted) and hashed into
// a uniquely-indexed key, so the lookup-or-create race between two
// first-message senders collapses onto one row via insert-if-absent plus a
// single retry.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
)

// InboxService provides conversation directory operations: resolving
// participant sets to inboxes and listing a user's inboxes by recency.
type InboxService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// NewInboxService constructs an InboxService.
func NewInboxService(db *gorm.DB) *InboxService {
	return &InboxService{DB: db}
}

// ResolveOrCreate returns the inbox whose participant set exactly equals
// participantIDs plus the sender (order-insensitive), creating it when no
// such inbox exists. Calling twice with the same set in any order yields
// the same inbox id.
func (s *InboxService) ResolveOrCreate(ctx context.Context, participantIDs []string, senderID string, title *string) (*domain.Inbox, error) {
	ids := domain.CanonicalParticipants(append(append([]string{}, participantIDs...), senderID))
	if len(ids) == 0 {
		return nil, ErrNoParticipants
	}

	in, err := repo.FindInboxByParticipants(ctx, s.DB, ids)
	if err == nil {
		return in, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	in, err = repo.CreateInbox(ctx, s.DB, ids, title)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the creation race: the other sender's row exists now.
		return repo.FindInboxByParticipants(ctx, s.DB, ids)
	}
	return in, err
}

// Get fetches an inbox by id with its participants.
func (s *InboxService) Get(ctx context.Context, id string) (*domain.Inbox, error) {
	in, err := repo.GetInbox(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInboxNotFound
		}
		return nil, err
	}
	return in, nil
}

// List returns all inboxes the user participates in, most recently updated
// first. Prefer ListPage for scalability on large datasets.
func (s *InboxService) List(ctx context.Context, userID string) ([]domain.Inbox, error) {
	return repo.ListInboxesForUser(ctx, s.DB, userID)
}

// ListPage returns a page of the user's inboxes (paginated). It applies
// defaults for invalid page/pageSize and returns the total count.
func (s *InboxService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Inbox, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountInboxesForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Inbox{}, 0, nil
	}

	items, err := repo.ListInboxesPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}
