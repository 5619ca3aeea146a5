package courier

import (
	"sync"
)

// Subscription represents an active subscription that can be unsubscribed.
type Subscription interface {
	// Unsubscribe stops the subscription and releases resources.
	Unsubscribe()
}

// MessageCallback is called when a new message arrives.
type MessageCallback func(inbox *Inbox, m *ReceivedMessage)

// InboxMonitor monitors multiple inboxes for new messages in an
// event-emitter style. Callbacks run on their own goroutines.
type InboxMonitor struct {
	client        *Client
	inboxes       []*Inbox
	callbacks     []MessageCallback
	mu            sync.RWMutex
	started       bool
	unsubscribers map[string]func() // receive endpoint -> unsubscribe function
}

// internalSubscription implements the Subscription interface.
type internalSubscription struct {
	cancel func()
}

func (s *internalSubscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

func newInboxMonitor(client *Client, inboxes []*Inbox) *InboxMonitor {
	return &InboxMonitor{
		client:        client,
		inboxes:       inboxes,
		unsubscribers: make(map[string]func()),
	}
}

// OnMessage registers a callback for messages arriving in any monitored
// inbox. The returned Subscription removes only this callback.
func (m *InboxMonitor) OnMessage(callback MessageCallback) Subscription {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	callbackIndex := len(m.callbacks) - 1
	m.mu.Unlock()

	m.startMonitoring()

	return &internalSubscription{
		cancel: func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// Nil out rather than remove to keep indices stable
			if callbackIndex < len(m.callbacks) {
				m.callbacks[callbackIndex] = nil
			}
		},
	}
}

// Unsubscribe stops monitoring all inboxes and releases all resources.
func (m *InboxMonitor) Unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsub := range m.unsubscribers {
		unsub()
	}
	m.callbacks = nil
	m.unsubscribers = make(map[string]func())
	m.started = false
}

func (m *InboxMonitor) startMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	for _, inbox := range m.inboxes {
		m.unsubscribers[inbox.receiveEndpoint] = m.client.listeners.add(inbox.receiveEndpoint, func(msg *ReceivedMessage) {
			m.emit(inbox, msg)
		})
	}
}

// emit calls all registered callbacks with the new message.
func (m *InboxMonitor) emit(inbox *Inbox, msg *ReceivedMessage) {
	m.mu.RLock()
	callbacks := make([]MessageCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	for _, callback := range callbacks {
		if callback != nil {
			go callback(inbox, msg)
		}
	}
}
