package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRelayError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RelayError
		expected string
	}{
		{
			name:     "status code only",
			err:      &RelayError{Op: "upload", URL: "https://relay.example/blob", StatusCode: 500},
			expected: "relay upload https://relay.example/blob: status 500",
		},
		{
			name:     "with message",
			err:      &RelayError{Op: "fetch", URL: "https://relay.example/blob/1", StatusCode: 404, Message: "gone"},
			expected: "relay fetch https://relay.example/blob/1: status 404: gone",
		},
		{
			name:     "with underlying error",
			err:      &RelayError{Op: "create inbox", URL: "https://relay.example/inbox/create", Err: errors.New("connection refused")},
			expected: "relay create inbox https://relay.example/inbox/create: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRelayError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      *RelayError
		target   error
		expected bool
	}{
		{"network failure is transient", &RelayError{Err: errors.New("reset")}, ErrRelayUnavailable, true},
		{"503 is transient", &RelayError{StatusCode: 503}, ErrRelayUnavailable, true},
		{"429 is transient", &RelayError{StatusCode: 429}, ErrRelayUnavailable, true},
		{"408 is transient", &RelayError{StatusCode: 408}, ErrRelayUnavailable, true},
		{"400 is not transient", &RelayError{StatusCode: 400}, ErrRelayUnavailable, false},
		{"404 is not transient", &RelayError{StatusCode: 404}, ErrRelayUnavailable, false},
		{"404 matches ErrNotFound", &RelayError{StatusCode: 404}, ErrNotFound, true},
		{"410 matches ErrNotFound", &RelayError{StatusCode: 410}, ErrNotFound, true},
		{"500 does not match ErrNotFound", &RelayError{StatusCode: 500}, ErrNotFound, false},
		{"401 matches ErrUnauthorized", &RelayError{StatusCode: 401}, ErrUnauthorized, true},
		{"403 matches ErrUnauthorized", &RelayError{StatusCode: 403}, ErrUnauthorized, true},
		{"empty error is not transient", &RelayError{}, ErrRelayUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.expected)
			}
		})
	}
}

func TestRelayError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := &RelayError{Op: "fetch", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false, want true")
	}

	wrapped := fmt.Errorf("deposit: %w", err)
	var relayErr *RelayError
	if !errors.As(wrapped, &relayErr) {
		t.Fatal("errors.As() failed to find RelayError")
	}
	if relayErr.Op != "fetch" {
		t.Errorf("Op = %q, want fetch", relayErr.Op)
	}
}

func TestAuthenticationError(t *testing.T) {
	err := &AuthenticationError{Reason: "signature mismatch"}
	if !errors.Is(err, ErrAuthentication) {
		t.Error("errors.Is(err, ErrAuthentication) = false, want true")
	}
	if errors.Is(err, ErrIntegrity) {
		t.Error("errors.Is(err, ErrIntegrity) = true, want false")
	}
	if got, want := err.Error(), "authentication failed: signature mismatch"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	inner := errors.New("bad encoding")
	withCause := &AuthenticationError{Reason: "malformed signature", Err: inner}
	if !errors.Is(withCause, inner) {
		t.Error("errors.Is(withCause, inner) = false, want true")
	}
}

func TestIntegrityError(t *testing.T) {
	err := fmt.Errorf("receive: %w", &IntegrityError{Stage: "hash"})
	if !errors.Is(err, ErrIntegrity) {
		t.Error("errors.Is(err, ErrIntegrity) = false, want true")
	}
	if errors.Is(err, ErrAuthentication) {
		t.Error("errors.Is(err, ErrAuthentication) = true, want false")
	}

	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatal("errors.As() failed to find IntegrityError")
	}
	if integrityErr.Stage != "hash" {
		t.Errorf("Stage = %q, want hash", integrityErr.Stage)
	}
}

func TestExpiredError(t *testing.T) {
	err := &ExpiredError{Location: "https://relay.example/blob/1", Expired: "2024-01-01T00:00:00Z"}
	if !errors.Is(err, ErrReferenceExpired) {
		t.Error("errors.Is(err, ErrReferenceExpired) = false, want true")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false, want true")
	}
	if errors.Is(err, ErrRelayUnavailable) {
		t.Error("errors.Is(err, ErrRelayUnavailable) = true, want false")
	}
}
