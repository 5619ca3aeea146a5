package courier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/courierproto/client-go/internal/api"
)

// InboxState is the lifecycle state of an inbox.
type InboxState int

const (
	// InboxCreated means the relay registered the inbox and it has not been
	// read yet.
	InboxCreated InboxState = iota + 1
	// InboxActive means the inbox has been read successfully.
	InboxActive
	// InboxExpired means the relay's expiration for the inbox has passed.
	InboxExpired
	// InboxDeleted means the inbox was deleted through this client.
	InboxDeleted
)

func (s InboxState) String() string {
	switch s {
	case InboxCreated:
		return "created"
	case InboxActive:
		return "active"
	case InboxExpired:
		return "expired"
	case InboxDeleted:
		return "deleted"
	}
	return fmt.Sprintf("InboxState(%d)", int(s))
}

// Inbox is a relay inbox owned by the client's identity.
type Inbox struct {
	receiveEndpoint string
	credential      string
	expiresAt       time.Time
	client          *Client

	mu    sync.Mutex
	state InboxState
}

// ReceiveEndpoint returns the URL senders post notifications to.
func (i *Inbox) ReceiveEndpoint() string {
	return i.receiveEndpoint
}

// ExpiresAt returns when the relay expires the inbox. Zero means never.
func (i *Inbox) ExpiresAt() time.Time {
	return i.expiresAt
}

// IsExpired checks if the inbox has expired.
func (i *Inbox) IsExpired() bool {
	return !i.expiresAt.IsZero() && i.client.now().After(i.expiresAt)
}

// State returns the inbox's lifecycle state.
func (i *Inbox) State() InboxState {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != InboxDeleted && i.IsExpired() {
		return InboxExpired
	}
	return i.state
}

// Endpoint returns the client's identity with this inbox as its inbox URL.
// This is what to hand to senders.
func (i *Inbox) Endpoint() Endpoint {
	ep := i.client.identity.Public()
	ep.InboxURL = i.receiveEndpoint
	return ep
}

// Receive processes waiting notifications. See Client.Receive.
func (i *Inbox) Receive(ctx context.Context, handler MessageHandler) ([]ReceiveResult, error) {
	return i.client.Receive(ctx, i, handler)
}

// Messages returns the messages waiting in the inbox without consuming
// them. Notifications that fail to process are skipped.
func (i *Inbox) Messages(ctx context.Context) ([]*ReceivedMessage, error) {
	if err := i.client.checkClosed(); err != nil {
		return nil, err
	}
	if err := i.checkOpen(); err != nil {
		return nil, err
	}

	items, err := i.client.apiClient.ListNotifications(ctx, i.receiveEndpoint, i.credential)
	if err != nil {
		return nil, err
	}
	i.markActive()

	messages := make([]*ReceivedMessage, 0, len(items))
	for n := range items {
		m, err := i.client.processItem(ctx, i, &items[n])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// Delete deletes the inbox from the relay.
func (i *Inbox) Delete(ctx context.Context) error {
	return i.client.DeleteInbox(ctx, i.receiveEndpoint)
}

func (i *Inbox) checkOpen() error {
	switch i.State() {
	case InboxExpired, InboxDeleted:
		return fmt.Errorf("%w: %s", ErrInboxClosed, i.receiveEndpoint)
	}
	return nil
}

func (i *Inbox) markActive() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == InboxCreated {
		i.state = InboxActive
	}
}

func (i *Inbox) markDeleted() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = InboxDeleted
}

func newInboxFromRegistration(reg *api.InboxRegistration, c *Client) *Inbox {
	return &Inbox{
		receiveEndpoint: reg.ReceiveEndpoint,
		credential:      reg.OwnerCredential,
		expiresAt:       reg.ExpiresAt,
		client:          c,
		state:           InboxCreated,
	}
}
