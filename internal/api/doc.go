// Package api provides the HTTP binding of the relay contract: blob deposit
// and fetch, inbox creation, and notification post, list and delete.
//
// # Retry Behavior
//
// Idempotent requests (GET and DELETE) are retried with exponential backoff
// when the relay is unavailable: network failures and these statuses:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// Deposits are never retried here. A retried deposit must be re-encrypted by
// the caller so that no key or iv is reused; see [RetryConfig.Retry].
//
// # Errors
//
// Failed requests return *apierrors.RelayError, which matches
// ErrRelayUnavailable, ErrNotFound or ErrUnauthorized through errors.Is.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
