// Inbox HTTP handlers.
//
// This file exposes REST endpoints for inbox resources:
//   - POST   /inboxes        (resolve or create by participant set)
//   - GET    /inboxes        (list, paginated, ETag support)
//   - GET    /inboxes/{id}   (fetch one inbox with participants)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
	"github.com/tbourn/go-messaging-backend/internal/services"
	"github.com/tbourn/go-messaging-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// InboxService defines the conversation directory operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type InboxService interface {
	// ResolveOrCreate returns the inbox for the participant set, creating
	// it when none exists. The sender is always included in the set.
	ResolveOrCreate(ctx context.Context, participantIDs []string, senderID string, title *string) (*domain.Inbox, error)
	// Get fetches an inbox by id.
	Get(ctx context.Context, id string) (*domain.Inbox, error)
	// ListPage returns a page of the user's inboxes and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Inbox, int64, error)
}

// MessageService defines message lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send appends a message to an existing inbox and runs the automations.
	Send(ctx context.Context, inboxID, senderID, body string) (*domain.Message, error)
	// SendToUsers resolves the inbox for the participant set and sends there.
	SendToUsers(ctx context.Context, participantIDs []string, senderID, body string, title *string) (*domain.Message, *domain.Inbox, error)
	// ListPage returns a page of an inbox's messages and the total count.
	ListPage(ctx context.Context, inboxID string, page, pageSize int) ([]domain.Message, int64, error)
	// UnreadCount returns how many messages the user has not read.
	UnreadCount(ctx context.Context, inboxID, userID string) (int64, error)
	// MarkRead marks every message in the inbox read for the user.
	MarkRead(ctx context.Context, inboxID, userID string) (int64, error)
}

// AutoReplyService defines rule CRUD operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AutoReplyService interface {
	CreateRule(ctx context.Context, userID string, in services.RuleInput) (*domain.AutoReply, error)
	GetRule(ctx context.Context, userID, id string) (*domain.AutoReply, error)
	UpdateRule(ctx context.Context, userID, id string, in services.RuleInput) (*domain.AutoReply, error)
	DeleteRule(ctx context.Context, userID, id string) error
	ListRules(ctx context.Context, userID string) ([]domain.AutoReply, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for inboxes, messages, and auto-reply
// rules. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	inboxSvc InboxService
	msgSvc   MessageService
	ruleSvc  AutoReplyService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(inboxSvc InboxService, msgSvc MessageService, ruleSvc AutoReplyService) *Handlers {
	return &Handlers{inboxSvc: inboxSvc, msgSvc: msgSvc, ruleSvc: ruleSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// ResolveInboxRequest is the JSON payload for resolving or creating an inbox.
type ResolveInboxRequest struct {
	// Participants are the other members of the conversation; the caller is
	// always added to the set.
	Participants []string `json:"participants" binding:"required,min=1"`
	// Title optionally names the inbox on first creation.
	Title *string `json:"title,omitempty" example:"Order #42"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListInboxesResponse wraps a page of inboxes and pagination information.
type ListInboxesResponse struct {
	Inboxes    []domain.Inbox `json:"inboxes"`
	Pagination Pagination     `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ResolveInbox godoc
// @ID          resolveInbox
// @Summary     Resolve or create an inbox
// @Description Returns the inbox whose participant set equals the caller plus
// @Description the given participants, creating it when none exists. The same
// @Description set in any order maps to the same inbox.
// @Tags        Inboxes
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.ResolveInboxRequest  true  "Participant set"
//
// @Success     200  {object}  domain.Inbox
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /inboxes [post]
func (h *Handlers) ResolveInbox(c *gin.Context) {
	var req ResolveInboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participants required")
		return
	}

	in, err := h.inboxSvc.ResolveOrCreate(c.Request.Context(), req.Participants, userID(c), req.Title)
	if err != nil {
		switch err {
		case services.ErrNoParticipants:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participants required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, in)
}

// ListInboxes godoc
// @ID          listInboxes
// @Summary     List inboxes (paginated)
// @Description Returns a page of the user's inboxes ordered by recency.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Inboxes
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListInboxesResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /inboxes [get]
func (h *Handlers) ListInboxes(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.inboxSvc.(*services.InboxService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.InboxesStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"inboxes:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.inboxSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListInboxesResponse{
		Inboxes: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetInbox godoc
// @ID          getInbox
// @Summary     Fetch an inbox
// @Description Returns one inbox with its participant list.
// @Tags        Inboxes
// @Produce     json
//
// @Param       id  path  string  true  "Inbox ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Inbox
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Inbox not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /inboxes/{id} [get]
func (h *Handlers) GetInbox(c *gin.Context) {
	inboxID := c.Param("id")
	if _, err := uuid.Parse(inboxID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "inbox id must be a UUID")
		return
	}

	in, err := h.inboxSvc.Get(c.Request.Context(), inboxID)
	if err != nil {
		switch err {
		case services.ErrInboxNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "inbox not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, in)
}
