// Auto-reply rule HTTP handlers.
//
// This file exposes REST endpoints for the caller's auto-reply rules:
//   - POST   /auto-replies        (create)
//   - GET    /auto-replies        (list, newest first)
//   - GET    /auto-replies/{id}   (fetch one rule)
//   - PUT    /auto-replies/{id}   (replace the writable fields)
//   - DELETE /auto-replies/{id}   (soft delete)
//
// Rules are strictly owner-scoped: the authenticated user can only ever see
// or change their own.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-messaging-backend/internal/domain"
	"github.com/tbourn/go-messaging-backend/internal/services"
)

//
// DTOs
//

// RuleRequest is the JSON payload for creating or replacing an auto-reply
// rule.
type RuleRequest struct {
	// Message is the reply template; it may contain {sender_name},
	// {recipient_name}, {date} and {time} placeholders.
	Message string `json:"message" binding:"required,min=1" example:"Hi {sender_name}, I'm away until Monday."`
	// IsActive toggles the rule without deleting it. Omitted means active.
	IsActive *bool `json:"is_active"`
	// TriggerType is one of all, first_message, keywords. Empty selects the
	// server default.
	TriggerType string `json:"trigger_type,omitempty" example:"keywords"`
	// Keywords are matched case-insensitively as substrings (keywords
	// trigger only).
	Keywords []string `json:"keywords,omitempty"`
	// StartAt / EndAt bound the optional schedule window.
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	// ReplyDelaySeconds is stored for clients; delivery is not deferred.
	ReplyDelaySeconds int `json:"reply_delay_seconds"`
	// ReplyOncePerConversation limits the rule to one reply per inbox.
	ReplyOncePerConversation bool `json:"reply_once_per_conversation"`
}

func (r RuleRequest) input() services.RuleInput {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return services.RuleInput{
		Message:                  r.Message,
		IsActive:                 active,
		TriggerType:              r.TriggerType,
		Keywords:                 r.Keywords,
		StartAt:                  r.StartAt,
		EndAt:                    r.EndAt,
		ReplyDelaySeconds:        r.ReplyDelaySeconds,
		ReplyOncePerConversation: r.ReplyOncePerConversation,
	}
}

// ListRulesResponse wraps the caller's auto-reply rules.
type ListRulesResponse struct {
	AutoReplies []domain.AutoReply `json:"auto_replies"`
}

// failRule maps service validation errors onto HTTP responses; ok reports
// whether err was handled.
func failRule(c *gin.Context, err error) bool {
	switch err {
	case nil:
		return false
	case services.ErrEmptyTemplate:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "message template required")
	case services.ErrInvalidTrigger:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "unknown trigger type")
	case services.ErrKeywordsNotAllowed:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "keyword triggers are disabled")
	case services.ErrScheduleNotAllowed:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "scheduled rules are disabled")
	case services.ErrInvalidSchedule:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "end_at must not precede start_at")
	case services.ErrDelayTooLong:
		fail(c, http.StatusBadRequest, ErrCodeInvalidRule, "reply delay out of range")
	case services.ErrRuleLimit:
		fail(c, http.StatusConflict, ErrCodeRuleLimit, "rule limit reached")
	case services.ErrRuleNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
	default:
		return false
	}
	return true
}

//
// Handlers
//

// CreateRule godoc
// @ID          createAutoReply
// @Summary     Create an auto-reply rule
// @Description Creates a rule owned by the current user. The server enforces a
// @Description per-user rule limit and the configured trigger restrictions.
// @Tags        AutoReplies
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.RuleRequest  true  "Rule payload"
//
// @Success     201  {object}  domain.AutoReply
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Rule limit reached"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auto-replies [post]
func (h *Handlers) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	rule, err := h.ruleSvc.CreateRule(c.Request.Context(), userID(c), req.input())
	if err != nil {
		if !failRule(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, rule)
}

// ListRules godoc
// @ID          listAutoReplies
// @Summary     List the caller's auto-reply rules
// @Tags        AutoReplies
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListRulesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auto-replies [get]
func (h *Handlers) ListRules(c *gin.Context) {
	rules, err := h.ruleSvc.ListRules(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRulesResponse{AutoReplies: rules})
}

// GetRule godoc
// @ID          getAutoReply
// @Summary     Fetch one auto-reply rule
// @Tags        AutoReplies
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
//
// @Success     200  {object} domain.AutoReply
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auto-replies/{id} [get]
func (h *Handlers) GetRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	rule, err := h.ruleSvc.GetRule(c.Request.Context(), userID(c), ruleID)
	if err != nil {
		if !failRule(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, rule)
}

// UpdateRule godoc
// @ID          updateAutoReply
// @Summary     Replace an auto-reply rule
// @Description Replaces the writable fields of a rule owned by the current user.
// @Tags        AutoReplies
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
// @Param       body       body    handlers.RuleRequest  true  "Rule payload"
//
// @Success     200  {object} domain.AutoReply
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auto-replies/{id} [put]
func (h *Handlers) UpdateRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	rule, err := h.ruleSvc.UpdateRule(c.Request.Context(), userID(c), ruleID, req.input())
	if err != nil {
		if !failRule(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, rule)
}

// DeleteRule godoc
// @ID          deleteAutoReply
// @Summary     Delete an auto-reply rule
// @Description Soft-deletes a rule owned by the current user.
// @Tags        AutoReplies
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auto-replies/{id} [delete]
func (h *Handlers) DeleteRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	if err := h.ruleSvc.DeleteRule(c.Request.Context(), userID(c), ruleID); err != nil {
		if !failRule(c, err) {
			fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		}
		return
	}
	noContent(c)
}
