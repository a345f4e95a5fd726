package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAIResponse = errors.New("invalid AI response")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNoRecognizer      = errors.New("no text recognizer configured")
)

func invalidInputf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

func invalidResponsef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidAIResponse)
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
