package courier

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Delivery is the outcome of notifying one recipient.
type Delivery struct {
	Recipient Endpoint
	Err       error
}

// SendResult describes a sent message.
type SendResult struct {
	// Reference points at the deposited message payload. It is what a reply
	// puts in InReplyTo.
	Reference *PayloadReference
	// Deliveries has one entry per recipient, in AllRecipients order.
	Deliveries []Delivery
}

// Failed returns the deliveries that did not succeed.
func (r *SendResult) Failed() []Delivery {
	var failed []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			failed = append(failed, d)
		}
	}
	return failed
}

// Send deposits msg with the relay and notifies every recipient.
//
// Author defaults to the client's identity and CreatedAt to the current
// time; both are written back to msg. The payload is deposited once before
// any recipient is notified, and nothing is notified if the deposit fails.
// When some notifications fail Send returns the result together with a
// *DeliveryError naming them.
func (c *Client) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &ValidationError{Errors: []string{"message is nil"}}
	}

	if msg.Author.IsZero() {
		msg.Author = c.identity.Public()
	} else if !msg.Author.Equal(c.identity.Endpoint) {
		return nil, &ValidationError{Errors: []string{"author does not match the client identity"}}
	}
	now := c.now()
	if !msg.ExpiresAt.IsZero() && !msg.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: %s is not in the future", ErrInvalidExpiration, msg.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now.UTC()
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	content, err := marshalMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	ref, err := c.deposit(ctx, content, MessageContentType, msg.CreatedAt, msg.ExpiresAt)
	if err != nil {
		return nil, err
	}

	result := &SendResult{
		Reference:  ref,
		Deliveries: c.notifyAll(ctx, msg.AllRecipients(), ref, msg.ExpiresAt),
	}
	if failed := result.Failed(); len(failed) > 0 {
		return result, &DeliveryError{Failed: failed}
	}
	return result, nil
}

// SendTo resolves identifiers with the configured Resolver, appends them to
// msg's recipients and sends it. An identifier that does not resolve fails
// with ErrNotFound before anything is deposited. msg is only updated once
// the message has been deposited, so a rejected message can be retried
// unchanged.
func (c *Client) SendTo(ctx context.Context, msg *Message, identifiers ...string) (*SendResult, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if c.resolver == nil {
		return nil, ErrNoResolver
	}
	if msg == nil {
		return nil, &ValidationError{Errors: []string{"message is nil"}}
	}

	draft := *msg
	draft.Recipients = append([]Endpoint(nil), msg.Recipients...)
	for _, id := range identifiers {
		ep, found, err := c.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", id, err)
		}
		if !found || ep == nil {
			return nil, fmt.Errorf("%w: recipient %q", ErrNotFound, id)
		}
		draft.Recipients = append(draft.Recipients, *ep)
	}

	res, err := c.Send(ctx, &draft)
	if res != nil {
		*msg = draft
	}
	return res, err
}

// DepositAttachment encrypts content and deposits it with the relay. The
// returned reference can be placed in Message.Attachments; recipients read
// it with FetchAttachment.
func (c *Client) DepositAttachment(ctx context.Context, content []byte, contentType string, expiresAt time.Time) (*PayloadReference, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.deposit(ctx, content, contentType, c.now().UTC(), expiresAt)
}

// deposit encrypts content and uploads it. Transient relay failures are
// retried with a fresh key and iv on every attempt, so no two uploads share
// key material.
func (c *Client) deposit(ctx context.Context, content []byte, contentType string, createdAt, expiresAt time.Time) (*PayloadReference, error) {
	hash := c.engine.Hash(content)

	var ref *PayloadReference
	err := c.retry.Retry(ctx, c.log, "deposit", func() error {
		sym, err := c.engine.EncryptSymmetric(content)
		if err != nil {
			return err
		}
		payload := &Payload{
			Ciphertext:  sym.Ciphertext,
			ContentType: contentType,
			Owner:       hex.EncodeToString(hash),
		}
		location, err := c.apiClient.Upload(ctx, payload.Ciphertext, expiresAt, "application/octet-stream", "")
		if err != nil {
			return err
		}
		ref = &PayloadReference{
			Location:      location.String(),
			Key:           sym.Key,
			IV:            sym.IV,
			Hash:          hash,
			HashAlgorithm: c.engine.HashAlgorithm(),
			ContentType:   payload.ContentType,
			CreatedAt:     createdAt,
			ExpiresAt:     expiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deposit payload: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"owner":       hex.EncodeToString(hash)[:16],
		"contentType": contentType,
	}).Debug("deposited payload")
	return ref, nil
}

// notifyAll posts a notification to every recipient concurrently. Failures
// are recorded per recipient and do not stop the others.
func (c *Client) notifyAll(ctx context.Context, recipients []Endpoint, ref *PayloadReference, expiresAt time.Time) []Delivery {
	deliveries := make([]Delivery, len(recipients))

	var g errgroup.Group
	g.SetLimit(c.sendConcurrency)
	for i, r := range recipients {
		deliveries[i].Recipient = r
		g.Go(func() error {
			deliveries[i].Err = c.notify(ctx, r, ref, expiresAt)
			return nil
		})
	}
	_ = g.Wait()
	return deliveries
}

func (c *Client) notify(ctx context.Context, recipient Endpoint, ref *PayloadReference, expiresAt time.Time) error {
	sealed, err := sealNotification(c.engine, c.identity, recipient, ref)
	if err != nil {
		return err
	}

	err = c.retry.Retry(ctx, c.log, "post notification", func() error {
		return c.apiClient.PostNotification(ctx, recipient.InboxURL, sealed, expiresAt)
	})
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"recipient": recipient.String(),
			"error":     err,
		}).Warn("notification not delivered")
		return err
	}
	return nil
}
