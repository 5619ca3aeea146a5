package courier

import (
	"errors"
	"fmt"

	"github.com/courierproto/client-go/internal/apierrors"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrInvalidKey is returned when key material is malformed or the public
	// and private halves of an identity do not match. Not retried.
	ErrInvalidKey = apierrors.ErrInvalidKey

	// ErrAuthentication is returned when a notification's signature or author
	// binding does not verify. Surface it as "untrusted sender".
	ErrAuthentication = apierrors.ErrAuthentication

	// ErrIntegrity is returned when decrypted content does not match its
	// digest or authenticated decryption fails.
	ErrIntegrity = apierrors.ErrIntegrity

	// ErrInvalidExpiration is returned, before any network call, when content
	// is deposited with an expiration that has already passed.
	ErrInvalidExpiration = apierrors.ErrInvalidExpiration

	// ErrRelayUnavailable is returned for transient relay failures. It is the
	// only error class that is retried.
	ErrRelayUnavailable = apierrors.ErrRelayUnavailable

	// ErrNotFound is returned for unknown recipients and for blobs that the
	// relay no longer holds.
	ErrNotFound = apierrors.ErrNotFound

	// ErrReferenceExpired is returned when a payload reference has expired.
	// It also matches ErrNotFound.
	ErrReferenceExpired = apierrors.ErrReferenceExpired

	// ErrUntrustedLocation is returned when a payload reference points at a
	// host that is not an allowed relay.
	ErrUntrustedLocation = apierrors.ErrUntrustedLocation

	// ErrUnauthorized is returned when the relay rejects an inbox credential.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = apierrors.ErrClientClosed

	// ErrInvalidImportData is returned when imported inbox data is invalid.
	ErrInvalidImportData = apierrors.ErrInvalidImportData

	// ErrInboxAlreadyExists is returned when importing an inbox the client
	// already tracks.
	ErrInboxAlreadyExists = errors.New("inbox already exists")

	// ErrInboxClosed is returned for operations on an expired or deleted inbox.
	ErrInboxClosed = errors.New("inbox is expired or deleted")

	// ErrNoResolver is returned by SendTo when the client has no resolver.
	ErrNoResolver = errors.New("no recipient resolver configured")
)

// RelayError describes a failed relay operation. It matches
// ErrRelayUnavailable, ErrNotFound or ErrUnauthorized depending on the status.
type RelayError = apierrors.RelayError

// AuthenticationError indicates a notification that could not be attributed
// to its claimed author.
type AuthenticationError = apierrors.AuthenticationError

// IntegrityError indicates content that failed decryption or its digest check.
type IntegrityError = apierrors.IntegrityError

// ExpiredError reports a payload reference that expired before it was used.
type ExpiredError = apierrors.ExpiredError

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Errors)
}

// DeliveryError reports recipients whose notification could not be posted.
// The payload was deposited and the remaining recipients were notified.
type DeliveryError struct {
	Failed []Delivery
}

func (e *DeliveryError) Error() string {
	if len(e.Failed) == 1 {
		return fmt.Sprintf("notify %s: %v", e.Failed[0].Recipient, e.Failed[0].Err)
	}
	return fmt.Sprintf("notify failed for %d recipients, first: %s: %v",
		len(e.Failed), e.Failed[0].Recipient, e.Failed[0].Err)
}

// Unwrap returns the per-recipient errors.
func (e *DeliveryError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, d := range e.Failed {
		errs[i] = d.Err
	}
	return errs
}
