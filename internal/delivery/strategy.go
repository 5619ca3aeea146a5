package delivery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/api"
)

// InboxInfo identifies an inbox to watch and carries the credential needed
// to read it.
type InboxInfo struct {
	// ReceiveEndpoint is the inbox URL. It also keys the inbox within a
	// strategy.
	ReceiveEndpoint string

	// Credential is the owner credential returned at inbox creation.
	Credential string
}

// Lister lists the notifications waiting in an inbox. *api.Client
// implements it.
type Lister interface {
	ListNotifications(ctx context.Context, receiveEndpoint, credential string) ([]api.Notification, error)
}

// EventHandler is invoked for each notification not yet handled
// successfully. Returning an error leaves the notification eligible for
// redelivery on a later poll.
type EventHandler func(ctx context.Context, inbox InboxInfo, n *api.Notification) error

// Strategy defines the interface for notification delivery mechanisms.
//
// The typical lifecycle is:
//  1. Create a strategy with NewPollingStrategy(cfg)
//  2. Call Start(ctx, inboxes, handler) to begin receiving events
//  3. Optionally call AddInbox/RemoveInbox to modify monitored inboxes
//  4. Call Stop() when done to release resources
//
// All implementations are safe for concurrent use.
type Strategy interface {
	// Start begins watching the given inboxes. Start returns immediately;
	// delivery is asynchronous.
	Start(ctx context.Context, inboxes []InboxInfo, handler EventHandler) error

	// Stop shuts down the strategy. After Stop returns, no more events are
	// delivered. Stop is idempotent.
	Stop() error

	// AddInbox adds an inbox to watch.
	AddInbox(inbox InboxInfo) error

	// RemoveInbox stops watching the inbox with the given receive endpoint.
	RemoveInbox(receiveEndpoint string) error

	// Name returns the strategy name for logging and debugging.
	Name() string
}

// Config holds delivery configuration.
type Config struct {
	// Lister is used to read inboxes. Required.
	Lister Lister

	// PollingInitialInterval is the starting interval between polls.
	// If zero, defaults to DefaultPollingInitialInterval.
	PollingInitialInterval time.Duration

	// PollingMaxBackoff is the maximum interval between polls.
	// If zero, defaults to DefaultPollingMaxBackoff.
	PollingMaxBackoff time.Duration

	// PollingBackoffMultiplier is the factor by which the interval
	// increases after each poll with nothing new.
	// If zero, defaults to DefaultPollingBackoffMultiplier.
	PollingBackoffMultiplier float64

	// PollingJitterFactor is the maximum random jitter added to
	// poll intervals (as a fraction of the interval).
	// If zero, defaults to DefaultPollingJitterFactor.
	PollingJitterFactor float64

	// Logger receives poll failures. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Default polling configuration values.
const (
	DefaultPollingInitialInterval   = 2 * time.Second
	DefaultPollingMaxBackoff        = 30 * time.Second
	DefaultPollingBackoffMultiplier = 1.5
	DefaultPollingJitterFactor      = 0.3
)

func (c Config) withDefaults() Config {
	if c.PollingInitialInterval == 0 {
		c.PollingInitialInterval = DefaultPollingInitialInterval
	}
	if c.PollingMaxBackoff == 0 {
		c.PollingMaxBackoff = DefaultPollingMaxBackoff
	}
	if c.PollingMaxBackoff < c.PollingInitialInterval {
		c.PollingMaxBackoff = c.PollingInitialInterval
	}
	if c.PollingBackoffMultiplier == 0 {
		c.PollingBackoffMultiplier = DefaultPollingBackoffMultiplier
	}
	if c.PollingJitterFactor == 0 {
		c.PollingJitterFactor = DefaultPollingJitterFactor
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}
