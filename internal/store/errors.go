package store

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input the store refuses to accept.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	// ErrChatIDRequired is returned when a command names no chat.
	ErrChatIDRequired = &ValidationError{Field: "chatId", Reason: "required"}
	// ErrNameRequired is returned when saving a contact for an unknown chat without a name.
	ErrNameRequired = &ValidationError{Field: "name", Reason: "required for contacts without an existing chat"}
)

// ErrNotFound is returned when a chat or contact does not exist.
var ErrNotFound = errors.New("not found")
