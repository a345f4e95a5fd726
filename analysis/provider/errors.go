package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/theimaginaryfoundation/vibe-o-meter/analysis"
)

// ClassifyError tags upstream model errors with analysis.ErrUnauthorized or analysis.ErrRateLimited
// so the HTTP layer can map them to 401 and 429. Other errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, analysis.ErrUnauthorized) || errors.Is(err, analysis.ErrRateLimited) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", analysis.ErrUnauthorized, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", analysis.ErrRateLimited, err)
		}
	}

	switch {
	case isAuthError(err):
		return fmt.Errorf("%w: %w", analysis.ErrUnauthorized, err)
	case isRateLimitError(err):
		return fmt.Errorf("%w: %w", analysis.ErrRateLimited, err)
	}
	return err
}

func isAuthError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "api key") ||
		strings.Contains(errStr, "api_key") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "permission_denied")
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error") ||
		strings.Contains(errStr, "unavailable")
}
