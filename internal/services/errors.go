// Package services defines the business logic for inboxes, messages, and
// auto-reply rules. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

// Inbox and message errors.
var (
	// ErrInboxNotFound indicates that the requested inbox does not exist or
	// is not accessible to the current user.
	ErrInboxNotFound = errors.New("inbox not found")

	// ErrNoParticipants is returned when a conversation is requested with an
	// empty participant set after normalization.
	ErrNoParticipants = errors.New("participant list is empty")

	// ErrEmptyMessage is returned when a request to send a message contains
	// an empty body.
	ErrEmptyMessage = errors.New("message body is empty")

	// ErrTooLong is returned when a message body exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message body too long")
)

// Auto-reply rule errors.
var (
	// ErrRuleNotFound indicates that the requested auto-reply rule does not
	// exist or belongs to another user.
	ErrRuleNotFound = errors.New("auto-reply rule not found")

	// ErrRuleLimit is returned when creating a rule would exceed the
	// configured per-user maximum.
	ErrRuleLimit = errors.New("auto-reply rule limit reached")

	// ErrEmptyTemplate is returned when a rule is created or edited with a
	// blank message template.
	ErrEmptyTemplate = errors.New("auto-reply template is empty")

	// ErrInvalidTrigger is returned when a rule carries an unknown trigger
	// kind.
	ErrInvalidTrigger = errors.New("invalid trigger type")

	// ErrKeywordsNotAllowed is returned when keyword triggers are disabled
	// by configuration.
	ErrKeywordsNotAllowed = errors.New("keyword triggers are not allowed")

	// ErrScheduleNotAllowed is returned when scheduled rules are disabled by
	// configuration.
	ErrScheduleNotAllowed = errors.New("scheduled rules are not allowed")

	// ErrInvalidSchedule is returned when a schedule window ends before it
	// starts.
	ErrInvalidSchedule = errors.New("schedule end precedes start")

	// ErrDelayTooLong is returned when the reply delay exceeds the
	// configured maximum.
	ErrDelayTooLong = errors.New("reply delay exceeds the configured maximum")
)
