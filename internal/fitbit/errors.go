package fitbit

import (
	"errors"
	"fmt"
)

// ErrMissingRefreshToken is returned when a forced refresh is requested but
// the token file has no refresh token.
var ErrMissingRefreshToken = errors.New("refresh token is missing")

// ErrMissingClientCredentials is returned when a refresh is needed but the
// client id or secret is not configured.
var ErrMissingClientCredentials = errors.New("refreshing tokens requires FB_CLIENT_ID and FB_CLIENT_SECRET")

// APIError is a non-success response from the Fitbit API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fitbit API call failed with %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a 429 that outlasted the retry budget.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
