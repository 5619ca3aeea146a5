package courier

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/api"
	"github.com/courierproto/client-go/internal/crypto"
)

// ReceivedMessage is a message that passed every authentication and
// integrity check.
type ReceivedMessage struct {
	Message *Message
	// Sender is the endpoint whose signature covered the notification. It
	// equals Message.Author.
	Sender Endpoint
	// Reference is the decrypted reference to the message payload.
	Reference *PayloadReference
	// NotificationID is the relay's id for the notification. Empty for
	// messages processed with ProcessNotification.
	NotificationID string
	// Digest identifies the notification content. Stores use it to make
	// saves idempotent.
	Digest string
	// Inbox is the receive endpoint the notification was read from.
	Inbox      string
	ReceivedAt time.Time
}

// MessageHandler consumes a received message. Returning nil acknowledges it
// and the notification is deleted from the relay.
type MessageHandler func(ctx context.Context, m *ReceivedMessage) error

// ReceiveResult is the outcome of processing one notification.
type ReceiveResult struct {
	NotificationID string
	// Message is set when the notification authenticated and decrypted,
	// even if the handler or the deletion failed afterwards.
	Message *ReceivedMessage
	// Deleted reports whether the notification was removed from the relay.
	Deleted bool
	Err     error
}

// ProcessNotification authenticates and decrypts a raw notification
// addressed to the client's identity and fetches the message it points at.
//
// The signature is checked before anything is decrypted, and the reference
// is checked for expiry and an allowed location before anything is fetched.
// Failures are *AuthenticationError, *IntegrityError, *ExpiredError,
// ErrUntrustedLocation or relay errors.
func (c *Client) ProcessNotification(ctx context.Context, content []byte) (*ReceivedMessage, error) {
	ref, author, err := openNotification(c.engine, c.identity, content)
	if err != nil {
		return nil, err
	}
	if ref.ContentType != MessageContentType {
		return nil, &IntegrityError{Stage: "decode", Err: fmt.Errorf("unexpected content type %q", ref.ContentType)}
	}

	plain, err := c.fetchPayload(ctx, ref)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(plain, &msg); err != nil {
		return nil, &IntegrityError{Stage: "decode", Err: err}
	}
	if !msg.Author.Equal(author) {
		return nil, &AuthenticationError{Reason: "message author does not match notification signer"}
	}

	return &ReceivedMessage{
		Message:    &msg,
		Sender:     author,
		Reference:  ref,
		Digest:     notificationDigest(content),
		ReceivedAt: c.now().UTC(),
	}, nil
}

// FetchAttachment fetches, decrypts and verifies the payload ref points at.
func (c *Client) FetchAttachment(ctx context.Context, ref *PayloadReference) ([]byte, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, &IntegrityError{Stage: "reference", Err: errors.New("nil reference")}
	}
	return c.fetchPayload(ctx, ref)
}

// fetchPayload retrieves the payload ref points at and checks it against the
// reference's hash.
func (c *Client) fetchPayload(ctx context.Context, ref *PayloadReference) ([]byte, error) {
	location, err := c.checkReference(ref)
	if err != nil {
		return nil, err
	}

	ciphertext, err := c.apiClient.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}

	plain, err := c.engine.DecryptSymmetric(&crypto.SymmetricResult{
		Key:        ref.Key,
		IV:         ref.IV,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, &IntegrityError{Stage: "payload", Err: err}
	}

	sum, err := crypto.HashWith(ref.HashAlgorithm, plain)
	if err != nil {
		return nil, &IntegrityError{Stage: "hash", Err: err}
	}
	if subtle.ConstantTimeCompare(sum, ref.Hash) != 1 {
		return nil, &IntegrityError{Stage: "hash"}
	}
	return plain, nil
}

// checkReference rejects expired references and locations outside the
// allowed relays. No network calls are made.
func (c *Client) checkReference(ref *PayloadReference) (*url.URL, error) {
	if ref.Expired(c.now()) {
		return nil, &ExpiredError{Location: ref.Location, Expired: ref.ExpiresAt.UTC().Format(time.RFC3339)}
	}
	location, err := ref.LocationURL()
	if err != nil {
		return nil, &IntegrityError{Stage: "decode", Err: err}
	}
	if !c.allowedHost(location) {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedLocation, location.Host)
	}
	return location, nil
}

func (c *Client) allowedHost(u *url.URL) bool {
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	if _, ok := c.allowedHosts[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := c.allowedHosts[strings.ToLower(u.Hostname())]
	return ok
}

// Receive reads inbox once and processes every waiting notification in
// order. A notification is deleted only after the MessageStore (if any) and
// handler both succeed. Notifications that can never succeed, because they
// fail authentication or integrity checks or point at a payload that is gone,
// are logged and deleted. Everything else stays for a later attempt.
//
// The returned error covers listing the inbox; per-notification failures are
// reported in the results.
func (c *Client) Receive(ctx context.Context, inbox *Inbox, handler MessageHandler) ([]ReceiveResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if err := inbox.checkOpen(); err != nil {
		return nil, err
	}

	items, err := c.apiClient.ListNotifications(ctx, inbox.receiveEndpoint, inbox.credential)
	if err != nil {
		return nil, err
	}
	inbox.markActive()

	results := make([]ReceiveResult, 0, len(items))
	for i := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.consume(ctx, inbox, &items[i], handler))
	}
	return results, nil
}

func (c *Client) consume(ctx context.Context, inbox *Inbox, n *api.Notification, handler MessageHandler) ReceiveResult {
	res := ReceiveResult{NotificationID: n.ID}

	m, err := c.processItem(ctx, inbox, n)
	if err != nil {
		res.Err = err
		if permanent(err) {
			res.Deleted = c.discard(ctx, inbox, n, err)
		}
		return res
	}
	res.Message = m

	if c.store != nil {
		if err := c.store.SaveMessage(ctx, m); err != nil {
			res.Err = fmt.Errorf("save message: %w", err)
			return res
		}
	}
	if handler != nil {
		if err := handler(ctx, m); err != nil {
			res.Err = err
			return res
		}
	}
	c.listeners.dispatch(inbox.receiveEndpoint, m)

	if err := c.apiClient.DeleteNotification(ctx, inbox.receiveEndpoint, inbox.credential, n.ID); err != nil {
		res.Err = fmt.Errorf("delete notification: %w", err)
		return res
	}
	res.Deleted = true
	return res
}

// processItem processes a listed notification and records where it came from.
func (c *Client) processItem(ctx context.Context, inbox *Inbox, n *api.Notification) (*ReceivedMessage, error) {
	m, err := c.ProcessNotification(ctx, n.Content)
	if err != nil {
		return nil, err
	}
	m.NotificationID = n.ID
	m.Inbox = inbox.receiveEndpoint
	return m, nil
}

// permanent reports whether reprocessing a notification that failed with
// err can never succeed.
func permanent(err error) bool {
	if errors.Is(err, ErrRelayUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUntrustedLocation)
}

// discard logs a rejected notification and deletes it from the relay.
// It reports whether the deletion succeeded.
func (c *Client) discard(ctx context.Context, inbox *Inbox, n *api.Notification, cause error) bool {
	c.log.WithFields(logrus.Fields{
		"inbox":        inbox.receiveEndpoint,
		"notification": n.ID,
		"digest":       notificationDigest(n.Content)[:16],
		"error":        cause,
	}).Warn("rejected notification")

	if err := c.apiClient.DeleteNotification(ctx, inbox.receiveEndpoint, inbox.credential, n.ID); err != nil {
		c.log.WithFields(logrus.Fields{
			"inbox":        inbox.receiveEndpoint,
			"notification": n.ID,
			"error":        err,
		}).Warn("deleting rejected notification failed")
		return false
	}
	return true
}
