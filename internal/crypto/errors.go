package crypto

import (
	"errors"

	"github.com/courierproto/client-go/internal/apierrors"
)

var (
	// ErrInvalidKey is returned for malformed key material. It is the same
	// value as the client's public ErrInvalidKey.
	ErrInvalidKey = apierrors.ErrInvalidKey

	// ErrIntegrity is returned when authenticated decryption fails.
	ErrIntegrity = apierrors.ErrIntegrity

	// ErrInvalidSignature is returned when a signature is not well formed.
	// A well formed signature that does not verify is not an error.
	ErrInvalidSignature = errors.New("malformed signature")

	// ErrInvalidCiphertext is returned when a ciphertext is too short to
	// contain its framing.
	ErrInvalidCiphertext = errors.New("malformed ciphertext")

	// ErrUnknownSuite is returned by New for an unsupported suite name.
	ErrUnknownSuite = errors.New("unknown crypto suite")

	// ErrUnknownHash is returned by New for an unsupported hash algorithm.
	ErrUnknownHash = errors.New("unknown hash algorithm")
)
