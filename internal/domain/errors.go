package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound indicates the requested record is not cached
	ErrNotFound = errors.New("not found")

	// ErrServerOffline indicates the learning server is unreachable
	ErrServerOffline = errors.New("server is unreachable")

	// ErrAuthFailed indicates the bearer token was rejected
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrQuotaExceeded indicates a write would exceed the namespace's storage budget
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrRemoteRejected indicates the server permanently refused a payload
	ErrRemoteRejected = errors.New("rejected by server")

	// ErrRetryExhausted indicates a queued action ran out of attempts
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrInvalidTransition indicates an illegal download status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBlobTooLarge indicates a binary is over the offline size ceiling
	ErrBlobTooLarge = errors.New("binary too large for offline storage")
)

// RemoteError is a non-2xx answer from the server
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed if repeated unchanged
func (e *RemoteError) Temporary() bool {
	switch {
	case e.Status >= 500:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Is makes permanent remote errors match ErrRemoteRejected
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteRejected && !e.Temporary()
}

// IsPermanent reports whether retrying err can never succeed.
// Auth failures are not permanent: the payload is fine, the token is not.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRemoteRejected)
}
