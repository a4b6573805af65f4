// Message HTTP handlers.
//
// This file exposes REST endpoints for messages and read state:
//   - POST /inboxes/{id}/messages  (append a message; automations may reply)
//   - GET  /inboxes/{id}/messages  (list paginated messages, ETag support)
//   - POST /messages               (resolve the inbox by participants and send)
//   - POST /inboxes/{id}/read      (mark everything read for the caller)
//   - GET  /inboxes/{id}/unread    (unread count for the caller)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, inbox, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/repo"
	"github.com/tbourn/go-messaging-backend/internal/services"
	"github.com/tbourn/go-messaging-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message to an inbox.
//
// Body is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The service also enforces a
// maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// Body is the message text. It must be non-empty.
	Body string `json:"body" binding:"required,min=1" example:"Hi, is my order still on the way?"`
}

// PostMessageResponse is the JSON envelope for a newly created message.
type PostMessageResponse struct {
	// Message is the stored message created by the request.
	Message *domain.Message `json:"message"`
}

// SendToUsersRequest is the JSON payload for sending a message addressed to
// a set of users rather than an existing inbox.
type SendToUsersRequest struct {
	// Participants are the other members of the conversation; the caller is
	// always added to the set.
	Participants []string `json:"participants" binding:"required,min=1"`
	// Body is the message text. It must be non-empty.
	Body string `json:"body" binding:"required,min=1"`
	// Title optionally names the inbox when this send creates it.
	Title *string `json:"title,omitempty"`
}

// SendToUsersResponse carries both the message and the inbox it landed in,
// since the inbox may have been created by the request.
type SendToUsersResponse struct {
	Message *domain.Message `json:"message"`
	Inbox   *domain.Inbox   `json:"inbox"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// MarkReadResponse reports how many messages became read.
type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

// UnreadCountResponse carries the caller's unread count for an inbox.
type UnreadCountResponse struct {
	Unread int64 `json:"unread"`
}

//
// Helpers
//

// clampMsgPagination parses page/page_size from query parameters, applies sane
// defaults and caps, and returns the validated (page, pageSize).
func clampMsgPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
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

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeBody normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeBody(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxBodyRunes inspects the concrete MessageService for a configured
// body-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxBodyRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxBodyRunes > 0 {
			return ms.MaxBodyRunes
		}
	}
	return fallback
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to an inbox
// @Description Appends a message to the inbox. Auto-reply rules and the AI
// @Description responder may append further messages; their failures never
// @Description affect this request.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Sending user ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Inbox ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.PostMessageResponse  "Stored message"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Inbox not found"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /inboxes/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	inboxID := c.Param("id")

	if _, err := uuid.Parse(inboxID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "inbox id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	body := sanitizeBody(req.Body)
	maxRunes := discoverMaxBodyRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		return
	}
	if body == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, inboxID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, PostMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	// Normal processing (service has a second guard for length).
	m, err := h.msgSvc.Send(ctx, inboxID, currentUser, body)
	if err != nil {
		switch err {
		case services.ErrInboxNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "inbox not found")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, ok := h.msgSvc.(*services.MessageService); ok && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, inboxID, idemKey, m.ID, http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, PostMessageResponse{Message: m})
}

// SendToUsers godoc
// @ID          sendToUsers
// @Summary     Send a message to a set of users
// @Description Resolves (or creates) the inbox for the caller plus the given
// @Description participants and appends the message there.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Sending user ID"  example(user123)
// @Param       body       body    handlers.SendToUsersRequest  true  "Message payload"
//
// @Success     200  {object}  handlers.SendToUsersResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages [post]
func (h *Handlers) SendToUsers(c *gin.Context) {
	var req SendToUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participants and body required")
		return
	}

	body := sanitizeBody(req.Body)
	if body == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		return
	}

	m, in, err := h.msgSvc.SendToUsers(c.Request.Context(), req.Participants, userID(c), body, req.Title)
	if err != nil {
		switch err {
		case services.ErrNoParticipants:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "participants required")
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body required")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, SendToUsersResponse{Message: m, Inbox: in})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in an inbox
// @Description Returns a paginated list of messages in chronological order.
// @Tags        Messages
// @Produce     json
//
// @Param       id         path   string  true  "Inbox ID (UUID)"  format(uuid)
// @Param       page       query  int     false "Page number"      minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"   minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Inbox not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /inboxes/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	inboxID := c.Param("id")

	if _, err := uuid.Parse(inboxID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "inbox id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, inboxID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, inboxID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampMsgPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, inboxID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrInboxNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "inbox not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MarkRead godoc
// @ID          markRead
// @Summary     Mark an inbox read
// @Description Records a read receipt for every message the caller has not
// @Description read yet. Repeating the call changes nothing.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"          example(user123)
// @Param       id         path    string  true  "Inbox ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.MarkReadResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Inbox not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /inboxes/{id}/read [post]
func (h *Handlers) MarkRead(c *gin.Context) {
	inboxID := c.Param("id")
	if _, err := uuid.Parse(inboxID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "inbox id must be a UUID")
		return
	}

	marked, err := h.msgSvc.MarkRead(c.Request.Context(), inboxID, userID(c))
	if err != nil {
		switch err {
		case services.ErrInboxNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "inbox not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Marked: marked})
}

// UnreadCount godoc
// @ID          unreadCount
// @Summary     Unread count for an inbox
// @Description Returns how many messages in the inbox the caller has not read.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID"          example(user123)
// @Param       id         path    string  true  "Inbox ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.UnreadCountResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Inbox not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /inboxes/{id}/unread [get]
func (h *Handlers) UnreadCount(c *gin.Context) {
	inboxID := c.Param("id")
	if _, err := uuid.Parse(inboxID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "inbox id must be a UUID")
		return
	}

	unread, err := h.msgSvc.UnreadCount(c.Request.Context(), inboxID, userID(c))
	if err != nil {
		switch err {
		case services.ErrInboxNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "inbox not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{Unread: unread})
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
