package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport marks failures worth retrying: network errors, 5xx
	// replies and payloads that could not be decoded.
	ErrTransport    = errors.New("backend transport failure")
	ErrUnauthorized = errors.New("backend rejected credentials")
	ErrMalformed    = fmt.Errorf("malformed backend payload: %w", ErrTransport)
	ErrCircuitOpen  = fmt.Errorf("backend circuit open: %w", ErrTransport)
)

// StatusError is a non-2xx reply. Message is the backend's "message" field
// when it sent one.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Code >= 500:
		return ErrTransport
	}
	return nil
}

// Retryable reports whether err is a transport-class failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
