// Package apierrors provides shared error types for the courier client.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrInvalidKey is returned when key material is malformed or the public
	// and private halves of an identity do not match.
	ErrInvalidKey = errors.New("invalid key material")

	// ErrAuthentication is returned when a sender signature does not verify.
	ErrAuthentication = errors.New("untrusted sender")

	// ErrIntegrity is returned when decrypted content does not match its digest
	// or authenticated decryption fails.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrInvalidExpiration is returned when a deposit is requested with an
	// expiration that has already passed.
	ErrInvalidExpiration = errors.New("invalid expiration")

	// ErrRelayUnavailable is returned for transient relay failures. It is the
	// only error class eligible for retry.
	ErrRelayUnavailable = errors.New("relay unavailable")

	// ErrNotFound is returned when a blob or notification no longer exists.
	ErrNotFound = errors.New("not found")

	// ErrReferenceExpired is returned when a payload reference has expired.
	ErrReferenceExpired = errors.New("payload reference expired")

	// ErrUntrustedLocation is returned when a payload reference points at a
	// host that is not an allowed relay.
	ErrUntrustedLocation = errors.New("payload location is not an allowed relay")

	// ErrUnauthorized is returned when an inbox owner credential is rejected.
	ErrUnauthorized = errors.New("invalid inbox credential")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrInvalidImportData is returned when imported inbox data is invalid.
	ErrInvalidImportData = errors.New("invalid import data")
)

// RelayError describes a failed relay operation.
type RelayError struct {
	Op         string
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *RelayError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("relay %s %s: %v", e.Op, e.URL, e.Err)
	case e.Message != "":
		return fmt.Sprintf("relay %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("relay %s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RelayError) Is(target error) bool {
	switch target {
	case ErrRelayUnavailable:
		return e.Transient()
	case ErrNotFound:
		return e.StatusCode == 404 || e.StatusCode == 410
	case ErrUnauthorized:
		return e.StatusCode == 401 || e.StatusCode == 403
	}
	return false
}

// Transient reports whether the failure is a network or service failure
// that may succeed on retry.
func (e *RelayError) Transient() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// AuthenticationError indicates a notification whose signature or author
// binding could not be verified. It should be surfaced as "untrusted sender".
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// IntegrityError indicates content that failed decryption or its digest
// check. Stage is one of "reference", "payload", "hash" or "decode".
type IntegrityError struct {
	Stage string
	Err   error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity check failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("integrity check failed at %s", e.Stage)
}

// Unwrap returns the underlying error.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// ExpiredError reports a payload reference that expired before it was used.
// It matches both ErrReferenceExpired and ErrNotFound.
type ExpiredError struct {
	Location string
	Expired  string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("payload reference %s expired at %s", e.Location, e.Expired)
}

// Is implements errors.Is for sentinel error matching.
func (e *ExpiredError) Is(target error) bool {
	return target == ErrReferenceExpired || target == ErrNotFound
}
