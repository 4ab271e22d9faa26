package nexus

import "fmt"

// AuthError indicates the API key was rejected (401). Fatal to the current
// fetch, recoverable by the user supplying new credentials.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// ForbiddenError indicates a permission failure (403). Not retryable without
// user action.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Message)
}

// RateLimitError indicates the remote throttled the request (429).
// RetryAfterSeconds carries the server's hint when present.
type RateLimitError struct {
	RetryAfterSeconds int
	Message           string
}

func (e *RateLimitError) Error() string {
	s := "rate limited"
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.RetryAfterSeconds > 0 {
		s += fmt.Sprintf(", retry after %ds", e.RetryAfterSeconds)
	}
	return s
}

// TransportError covers any other non-2xx response or network failure.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}
