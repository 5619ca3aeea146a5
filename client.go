package courier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/api"
	"github.com/courierproto/client-go/internal/crypto"
	"github.com/courierproto/client-go/internal/delivery"
)

// notificationTimeout bounds processing of one notification picked up by
// the background watcher.
const notificationTimeout = 30 * time.Second

// Resolver maps a human identifier (an email address, a hash, an entry id)
// to a recipient endpoint. A miss is reported as found=false with a nil
// error; errors are reserved for lookup failures.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (*Endpoint, bool, error)
}

// MessageStore persists received messages. SaveMessage must be idempotent
// by ReceivedMessage.Digest: the same notification may be processed more
// than once.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *ReceivedMessage) error
}

// Client sends and receives messages as a single identity. It is safe for
// concurrent use.
type Client struct {
	identity  *OwnEndpoint
	engine    crypto.Engine
	apiClient *api.Client
	strategy  delivery.Strategy
	log       *logrus.Logger
	resolver  Resolver
	store     MessageStore
	retry     *api.RetryConfig
	now       func() time.Time

	allowedHosts    map[string]struct{}
	sendConcurrency int

	inboxes map[string]*Inbox // keyed by receive endpoint
	mu      sync.RWMutex
	closed  bool

	// Consumers of messages read by Receive and the background watcher
	listeners *listeners

	strategyCtx    context.Context
	strategyCancel context.CancelFunc
}

// buildAPIClient creates and configures an API client from the given config.
func buildAPIClient(cfg *clientConfig) (*api.Client, error) {
	retry := cfg.retry
	if retry == nil {
		retry = api.DefaultRetryConfig()
		if cfg.retries > 0 {
			retry.MaxRetries = cfg.retries
		}
	}
	return api.New(api.Config{
		RelayURL:   cfg.relayURL,
		HTTPClient: cfg.httpClient,
		Timeout:    cfg.timeout,
		Retry:      retry,
		Logger:     cfg.logger,
		Now:        cfg.clock,
	})
}

// createDeliveryStrategy creates the background inbox watcher.
func createDeliveryStrategy(cfg *clientConfig, apiClient *api.Client) delivery.Strategy {
	return delivery.NewPollingStrategy(delivery.Config{
		Lister:                 apiClient,
		PollingInitialInterval: cfg.pollingInitialInterval,
		PollingMaxBackoff:      cfg.pollingMaxBackoff,
		Logger:                 cfg.logger,
	})
}

// New creates a client acting as identity.
//
// The relay defaults to the scheme and host of identity's inbox URL.
// Payload references are only fetched from the relay's host and from hosts
// added with WithAllowedRelayHosts.
func New(identity *OwnEndpoint, opts ...Option) (*Client, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidKey)
	}

	cfg := &clientConfig{
		timeout:         defaultTimeout,
		cryptoConfig:    crypto.DefaultConfig(),
		clock:           time.Now,
		sendConcurrency: defaultSendConcurrency,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = logrus.New()
		cfg.logger.SetOutput(os.Stderr)
		cfg.logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.relayURL == "" {
		cfg.relayURL = relayFromInbox(identity.InboxURL)
	}
	if cfg.relayURL == "" {
		return nil, errors.New("relay URL is required: set WithRelayURL or give the identity an inbox")
	}
	if cfg.sendConcurrency <= 0 {
		cfg.sendConcurrency = defaultSendConcurrency
	}

	engine := cfg.engine
	if engine == nil {
		var err error
		if engine, err = crypto.New(cfg.cryptoConfig); err != nil {
			return nil, err
		}
	}
	if identity.Suite() != engine.Suite() {
		return nil, fmt.Errorf("%w: identity uses suite %q, engine uses %q", ErrInvalidKey, identity.Suite(), engine.Suite())
	}

	apiClient, err := buildAPIClient(cfg)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(cfg.allowedHosts)+1)
	allowed[strings.ToLower(apiClient.RelayURL().Host)] = struct{}{}
	for _, h := range cfg.allowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}

	strategyCtx, strategyCancel := context.WithCancel(context.Background())

	c := &Client{
		identity:        identity,
		engine:          engine,
		apiClient:       apiClient,
		strategy:        createDeliveryStrategy(cfg, apiClient),
		log:             cfg.logger,
		resolver:        cfg.resolver,
		store:           cfg.store,
		retry:           apiClient.RetryConfig(),
		now:             cfg.clock,
		allowedHosts:    allowed,
		sendConcurrency: cfg.sendConcurrency,
		inboxes:         make(map[string]*Inbox),
		listeners:       newListeners(),
		strategyCtx:     strategyCtx,
		strategyCancel:  strategyCancel,
	}

	if err := c.strategy.Start(strategyCtx, nil, c.handleNotification); err != nil {
		strategyCancel()
		return nil, fmt.Errorf("start delivery strategy: %w", err)
	}

	return c, nil
}

func relayFromInbox(inboxURL string) string {
	if inboxURL == "" {
		return ""
	}
	u, err := url.Parse(inboxURL)
	if err != nil || !u.IsAbs() {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Identity returns the client's public endpoint.
func (c *Client) Identity() Endpoint {
	return c.identity.Public()
}

// Engine returns the crypto engine the client was configured with.
func (c *Client) Engine() crypto.Engine {
	return c.engine
}

// checkClosed returns ErrClientClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// registerInbox adds an inbox to the client's tracking map and delivery strategy.
func (c *Client) registerInbox(inbox *Inbox) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.inboxes[inbox.receiveEndpoint] = inbox
	return c.strategy.AddInbox(delivery.InboxInfo{
		ReceiveEndpoint: inbox.receiveEndpoint,
		Credential:      inbox.credential,
	})
}

func (c *Client) unregisterInbox(receiveEndpoint string) *Inbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	inbox, ok := c.inboxes[receiveEndpoint]
	if !ok {
		return nil
	}
	delete(c.inboxes, receiveEndpoint)
	c.strategy.RemoveInbox(receiveEndpoint)
	return inbox
}

// CreateInbox registers a new inbox with the relay. The returned inbox's
// credential must be persisted by the caller (see Inbox.Export) to read the
// inbox after a restart.
func (c *Client) CreateInbox(ctx context.Context) (*Inbox, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	reg, err := c.apiClient.CreateInbox(ctx)
	if err != nil {
		return nil, err
	}

	inbox := newInboxFromRegistration(reg, c)
	if err := c.registerInbox(inbox); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"inbox":   inbox.receiveEndpoint,
		"expires": inbox.expiresAt,
	}).Info("created inbox")
	return inbox, nil
}

// ImportInbox restores a previously exported inbox. The credential is
// checked against the relay before the inbox is registered.
func (c *Client) ImportInbox(ctx context.Context, data *ExportedInbox) (*Inbox, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: exported inbox data cannot be nil", ErrInvalidImportData)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if _, exists := c.inboxes[data.ReceiveEndpoint]; exists {
		c.mu.Unlock()
		return nil, ErrInboxAlreadyExists
	}
	c.mu.Unlock()

	inbox, err := newInboxFromExport(data, c)
	if err != nil {
		return nil, err
	}

	// Verify inbox still exists on the relay
	if _, err := c.apiClient.ListNotifications(ctx, inbox.receiveEndpoint, inbox.credential); err != nil {
		return nil, fmt.Errorf("verify inbox: %w", err)
	}
	inbox.markActive()

	if err := c.registerInbox(inbox); err != nil {
		return nil, err
	}
	return inbox, nil
}

// DeleteInbox deletes an inbox by receive endpoint.
func (c *Client) DeleteInbox(ctx context.Context, receiveEndpoint string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	inbox := c.unregisterInbox(receiveEndpoint)
	if inbox == nil {
		return fmt.Errorf("%w: inbox %s", ErrNotFound, receiveEndpoint)
	}
	if err := c.apiClient.DeleteInbox(ctx, inbox.receiveEndpoint, inbox.credential); err != nil {
		return err
	}
	inbox.markDeleted()
	return nil
}

// GetInbox returns an inbox by receive endpoint.
func (c *Client) GetInbox(receiveEndpoint string) (*Inbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inbox, exists := c.inboxes[receiveEndpoint]
	return inbox, exists
}

// Inboxes returns all inboxes managed by this client.
func (c *Client) Inboxes() []*Inbox {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Inbox, 0, len(c.inboxes))
	for _, inbox := range c.inboxes {
		result = append(result, inbox)
	}
	return result
}

// ExportInboxToFile exports an inbox to a JSON file with secure permissions (0600).
func (c *Client) ExportInboxToFile(inbox *Inbox, filePath string) error {
	if inbox == nil {
		return fmt.Errorf("inbox is nil")
	}

	jsonData, err := json.MarshalIndent(inbox.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal inbox data: %w", err)
	}

	if err := os.WriteFile(filePath, jsonData, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// ImportInboxFromFile imports an inbox from a JSON file.
func (c *Client) ImportInboxFromFile(ctx context.Context, filePath string) (*Inbox, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	jsonData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var data ExportedInbox
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return nil, fmt.Errorf("%w: parse inbox data: %v", ErrInvalidImportData, err)
	}
	return c.ImportInbox(ctx, &data)
}

// InboxEvent represents a message arriving in a specific inbox.
type InboxEvent struct {
	Inbox   *Inbox
	Message *ReceivedMessage
}

// WatchInboxes returns a channel that receives events from multiple inboxes.
// The channel is not closed when the context is cancelled; use a select
// on ctx.Done() to detect cancellation.
func (c *Client) WatchInboxes(ctx context.Context, inboxes ...*Inbox) <-chan *InboxEvent {
	ch := make(chan *InboxEvent, 16)

	if len(inboxes) == 0 {
		close(ch)
		return ch
	}

	stops := make([]func(), 0, len(inboxes))
	for _, inbox := range inboxes {
		stop := c.listeners.add(inbox.receiveEndpoint, func(m *ReceivedMessage) {
			go func() {
				select {
				case ch <- &InboxEvent{Inbox: inbox, Message: m}:
				case <-ctx.Done():
				}
			}()
		})
		stops = append(stops, stop)
	}

	// The channel is left open: a callback may still be sending after
	// cancellation.
	go func() {
		<-ctx.Done()
		for _, stop := range stops {
			stop()
		}
	}()

	return ch
}

// WatchInboxesFunc calls fn for each event from multiple inboxes until
// context is cancelled.
func (c *Client) WatchInboxesFunc(ctx context.Context, fn func(*InboxEvent), inboxes ...*Inbox) {
	events := c.WatchInboxes(ctx, inboxes...)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event != nil {
				fn(event)
			}
		}
	}
}

// MonitorInboxes returns a monitor that invokes callbacks for messages
// arriving in any of inboxes.
func (c *Client) MonitorInboxes(inboxes ...*Inbox) *InboxMonitor {
	return newInboxMonitor(c, inboxes)
}

// errNoConsumer leaves a notification in place for a later poll when
// nothing would receive it.
var errNoConsumer = errors.New("no consumer for inbox")

// handleNotification is the background watcher's handler. Messages are
// handed to listeners. With a MessageStore configured the message is
// persisted first and the notification deleted afterwards; without one the
// notification stays in the inbox until Receive consumes it.
func (c *Client) handleNotification(ctx context.Context, info delivery.InboxInfo, n *api.Notification) error {
	inbox, ok := c.GetInbox(info.ReceiveEndpoint)
	if !ok {
		return nil
	}
	if c.store == nil && !c.listeners.has(info.ReceiveEndpoint) {
		return errNoConsumer
	}
	inbox.markActive()

	ctx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	m, err := c.processItem(ctx, inbox, n)
	if err != nil {
		if permanent(err) {
			c.discard(ctx, inbox, n, err)
			return nil
		}
		return err
	}

	if c.store != nil {
		if err := c.store.SaveMessage(ctx, m); err != nil {
			c.log.WithFields(logrus.Fields{
				"inbox":        inbox.receiveEndpoint,
				"notification": n.ID,
				"error":        err,
			}).Warn("persisting message failed")
			return err
		}
	}

	c.listeners.dispatch(inbox.receiveEndpoint, m)

	if c.store != nil {
		if err := c.apiClient.DeleteNotification(ctx, inbox.receiveEndpoint, inbox.credential, n.ID); err != nil {
			c.log.WithFields(logrus.Fields{
				"inbox":        inbox.receiveEndpoint,
				"notification": n.ID,
				"error":        err,
			}).Warn("deleting notification failed")
		}
	}
	return nil
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.inboxes = make(map[string]*Inbox)
	c.mu.Unlock()

	if c.strategyCancel != nil {
		c.strategyCancel()
	}
	// Stop waits for an in-flight poll, whose handler takes c.mu.
	if err := c.strategy.Stop(); err != nil {
		return err
	}
	c.listeners.stopAll()
	return nil
}
