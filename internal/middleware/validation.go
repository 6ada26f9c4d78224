package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/thread-engine/internal/transport"
)

// ValidateMessageBody validates an operator-authored message.
func ValidateMessageBody(body string) error {
	if len(body) == 0 {
		return errors.New("body cannot be empty")
	}
	if utf8.RuneCountInString(body) > transport.MaxBodyLength {
		return errors.New("body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("body must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID validates a thread ID.
func ValidateThreadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid thread ID format")
	}
	return nil
}

// ValidateOperatorID validates an operator ID.
func ValidateOperatorID(id string) error {
	if len(id) == 0 {
		return errors.New("operator ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("operator ID exceeds maximum length")
	}
	return nil
}
