package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/iago/vidai-studio/internal/domain"
)

var ErrMissingAPIKey = errors.New("gemini api key is not configured")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) modelNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "gemini transport error: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// isRetryable covers transient transport failures and 5xx answers. Quota (429)
// and every other 4xx are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var transportErr *transportError
	return errors.As(err, &transportErr)
}

var retryDelayPattern = regexp.MustCompile(`(?i)retry[_ ]?(?:in|delay)?[:\s"]*(\d+)`)

// classify maps a backend failure onto the BackendError taxonomy with an operator-facing message.
func classify(err error, model string) error {
	if err == nil {
		return nil
	}
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		return err
	}
	if errors.Is(err, ErrMissingAPIKey) {
		return domain.NewJobError(domain.ErrorKindBackendAuth, "API key not set. Add it in Settings.", err)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		lower := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || strings.Contains(lower, "api key not valid") || strings.Contains(lower, "api_key_invalid"):
			return domain.NewJobError(domain.ErrorKindBackendAuth, "Invalid API key. Check your key in Settings.", err)
		case apiErr.StatusCode == http.StatusForbidden:
			return domain.NewJobError(domain.ErrorKindBackendAuth, "Permission denied. Your API key may not have access to this model.", err)
		case apiErr.StatusCode == http.StatusTooManyRequests || strings.Contains(lower, "quota"):
			wait := "60"
			if match := retryDelayPattern.FindStringSubmatch(apiErr.Message); len(match) == 2 {
				wait = match[1]
			}
			return domain.NewJobError(domain.ErrorKindBackendQuota,
				fmt.Sprintf("Rate limit reached for %s. Wait ~%ss or switch model.", model, wait), err)
		case apiErr.StatusCode == http.StatusNotFound:
			return domain.NewJobError(domain.ErrorKindBackendRejected,
				fmt.Sprintf("Model '%s' not found. Select a different model.", model), err)
		case apiErr.StatusCode >= 500:
			return domain.NewJobError(domain.ErrorKindBackendNetwork, "AI service is temporarily unavailable.", err)
		case strings.Contains(lower, "unsupported") || strings.Contains(lower, "mime"):
			return domain.NewJobError(domain.ErrorKindBackendUnsupportedMedia, "The AI service cannot read this media file.", err)
		default:
			return domain.NewJobError(domain.ErrorKindBackendRejected, truncate(apiErr.Message, 200), err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewJobError(domain.ErrorKindBackendTimeout, "AI service did not answer in time.", err)
	}
	var transportErr *transportError
	if errors.As(err, &transportErr) {
		return domain.NewJobError(domain.ErrorKindBackendNetwork, "Could not reach the AI service.", err)
	}
	return err
}

func truncate(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > limit {
		return trimmed[:limit]
	}
	return trimmed
}
