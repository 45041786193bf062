// Package clients holds the HTTP clients for external providers and the error
// types they share.
package clients

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a provider has no data for the requested key
var ErrNotFound = errors.New("not found")

// StatusError is returned when a provider answers with an unexpected HTTP status
type StatusError struct {
	Provider   string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, e.Body)
}
