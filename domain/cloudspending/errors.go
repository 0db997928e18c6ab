package cloudspending

import (
	"fmt"
	"net/http"
)

// StatusNone marks a FetchError raised before any HTTP response arrived.
const StatusNone = 0

// FetchError reports a failed billing request. Status is the HTTP status
// code, or StatusNone for transport failures.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status == StatusNone {
		return fmt.Sprintf("billing request failed: %s", e.Message)
	}
	return fmt.Sprintf("billing request failed (%d %s): %s", e.Status, http.StatusText(e.Status), e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Unauthorized reports whether the upstream rejected the token.
func (e *FetchError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

const maxErrorBody = 512

// TrimBody shortens an upstream error body for use in a FetchError message.
func TrimBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
