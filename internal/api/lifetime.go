package api

import (
	"fmt"
	"math"
	"time"

	"github.com/courierproto/client-go/internal/apierrors"
)

const (
	// MaxLifetimeMinutes is sent to the relay for content that should be
	// retained as long as the relay allows.
	MaxLifetimeMinutes = math.MaxInt32

	// SkewTolerance absorbs small clock differences between the caller and
	// the moment the lifetime is computed.
	SkewTolerance = 5 * time.Second
)

// LifetimeMinutes converts an absolute expiration into the whole number of
// minutes the relay should retain content. A zero expiresAt means forever.
// Expirations in the past, or less than a minute away, are rejected with
// ErrInvalidExpiration.
func LifetimeMinutes(expiresAt, now time.Time) (int, error) {
	if expiresAt.IsZero() {
		return MaxLifetimeMinutes, nil
	}
	remaining := expiresAt.Sub(now) + SkewTolerance
	if remaining <= SkewTolerance {
		return 0, fmt.Errorf("%w: %s is not in the future", apierrors.ErrInvalidExpiration, expiresAt.Format(time.RFC3339))
	}
	minutes := remaining / time.Minute
	if minutes < 1 {
		return 0, fmt.Errorf("%w: %s is less than a minute away", apierrors.ErrInvalidExpiration, expiresAt.Format(time.RFC3339))
	}
	if minutes > MaxLifetimeMinutes {
		return MaxLifetimeMinutes, nil
	}
	return int(minutes), nil
}
