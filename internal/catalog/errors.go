package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCredentialsUnavailable reports that the credential refresh exhausted its
// attempts. It is the only error that stops a scheduler run.
var ErrCredentialsUnavailable = errors.New("credentials unavailable")

// ErrRatingUnavailable is returned when the rating payload is absent from the
// remote page layout. Callers proceed without a rating.
var ErrRatingUnavailable = errors.New("rating unavailable")

const maxErrorBody = 512

// RemoteError is a non-2xx or empty response from the remote API.
type RemoteError struct {
	Status int
	Body   string
}

// NewRemoteError builds a RemoteError, truncating very large bodies.
func NewRemoteError(status int, body []byte) *RemoteError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &RemoteError{Status: status, Body: string(body)}
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d with empty body", e.Status)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Body)
}

// Empty reports a successful status carrying no payload, which the remote
// uses for identifiers that do not exist.
func (e *RemoteError) Empty() bool {
	return e.Status >= http.StatusOK && e.Status < http.StatusMultipleChoices && e.Body == ""
}

// Temporary reports whether the status is worth retrying.
func (e *RemoteError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// DecodeError is a response body that does not match the tolerant document shape.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StoreError wraps a backing store failure during ingest. The candidate is
// considered not ingested and is safe to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
