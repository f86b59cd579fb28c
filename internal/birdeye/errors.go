package birdeye

import (
	"errors"
	"fmt"
)

// ErrTokenNotFound is returned when the provider does not know the address (HTTP 404).
// It is never retried.
var ErrTokenNotFound = errors.New("token not found")

// APIError is a non-2xx provider response other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("birdeye API error %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}

// IsRateLimited reports whether err is an HTTP 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
