// internal/errors/errors.go
package appErrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrStatusConflict is returned by the store when a conditional status update
// finds the message in a status outside the expected set.
var ErrStatusConflict = errors.New("message status changed concurrently")

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type ConversationNotFound struct {
	WorkspaceID    string
	ConversationID string
}

func (e *ConversationNotFound) Error() string {
	return fmt.Sprintf("conversation %s not found in workspace %s", e.ConversationID, e.WorkspaceID)
}

func NewConversationNotFound(workspaceID, conversationID string) error {
	return &ConversationNotFound{WorkspaceID: workspaceID, ConversationID: conversationID}
}

// ContactAddressMissing means the conversation exists but has no reachable destination.
type ContactAddressMissing struct {
	ConversationID string
}

func (e *ContactAddressMissing) Error() string {
	return fmt.Sprintf("conversation %s has no contact address", e.ConversationID)
}

func NewContactAddressMissing(conversationID string) error {
	return &ContactAddressMissing{ConversationID: conversationID}
}

type RateLimited struct {
	Scope    string
	Capacity int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limit of %d messages per minute reached for %s", e.Capacity, e.Scope)
}

func NewRateLimited(scope string, capacity int) error {
	return &RateLimited{Scope: scope, Capacity: capacity}
}

// ProviderSendFailed wraps the error returned by the provider adapter.
type ProviderSendFailed struct {
	MessageID string
	Err       error
}

func (e *ProviderSendFailed) Error() string {
	return fmt.Sprintf("provider send failed for message %s: %v", e.MessageID, e.Err)
}

func (e *ProviderSendFailed) Unwrap() error {
	return e.Err
}

func NewProviderSendFailed(messageID string, err error) error {
	return &ProviderSendFailed{MessageID: messageID, Err: err}
}

type MessageNotFound struct {
	MessageID string
}

func (e *MessageNotFound) Error() string {
	return fmt.Sprintf("message %s not found", e.MessageID)
}

func NewMessageNotFound(id string) error {
	return &MessageNotFound{MessageID: id}
}

// InvalidTransition is returned when a terminal message is asked to move to a
// different terminal status.
type InvalidTransition struct {
	MessageID string
	From      string
	To        string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("message %s cannot move from %s to %s", e.MessageID, e.From, e.To)
}

func NewInvalidTransition(id, from, to string) error {
	return &InvalidTransition{MessageID: id, From: from, To: to}
}

type UnknownProviderStatus struct {
	Status string
}

func (e *UnknownProviderStatus) Error() string {
	return fmt.Sprintf("unknown provider status %q", e.Status)
}

func NewUnknownProviderStatus(status string) error {
	return &UnknownProviderStatus{Status: status}
}

// IsNotFound reports whether err means a conversation, contact address or message is missing.
func IsNotFound(err error) bool {
	var conv *ConversationNotFound
	var addr *ContactAddressMissing
	var msg *MessageNotFound
	return errors.As(err, &conv) || errors.As(err, &addr) || errors.As(err, &msg)
}

// HTTPStatus maps an error from the dispatcher onto a response code.
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		limited    *RateLimited
		sendFailed *ProviderSendFailed
		transition *InvalidTransition
		unknown    *UnknownProviderStatus
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	case errors.As(err, &sendFailed):
		return http.StatusBadGateway
	case errors.As(err, &transition), errors.Is(err, ErrStatusConflict):
		return http.StatusConflict
	case errors.As(err, &unknown):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
