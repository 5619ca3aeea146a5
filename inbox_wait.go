package courier

import (
	"context"
	"fmt"
)

// Watch returns a channel that receives messages as the background watcher
// picks them up. The channel is not closed when the context is cancelled;
// use a select on ctx.Done() to detect cancellation.
//
// Without a MessageStore, watched messages stay in the inbox until Receive
// consumes them.
//
// Example:
//
//	ch := inbox.Watch(ctx)
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case m := <-ch:
//	        fmt.Printf("New message: %s\n", m.Message.Subject)
//	    }
//	}
func (i *Inbox) Watch(ctx context.Context) <-chan *ReceivedMessage {
	ch := make(chan *ReceivedMessage, 16)

	stop := i.client.listeners.add(i.receiveEndpoint, func(m *ReceivedMessage) {
		select {
		case ch <- m:
		default:
			// Buffer full; the message is still in the inbox or the store.
		}
	})

	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch
}

// WatchFunc calls fn for each message as it arrives until the context is
// cancelled.
func (i *Inbox) WatchFunc(ctx context.Context, fn func(*ReceivedMessage)) {
	messages := i.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-messages:
			if m != nil {
				fn(m)
			}
		}
	}
}

// WaitForMessage waits for a message matching the given criteria. Messages
// already waiting in the inbox are considered first. Nothing is consumed.
func (i *Inbox) WaitForMessage(ctx context.Context, opts ...WaitOption) (*ReceivedMessage, error) {
	cfg := &waitConfig{
		timeout: defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	// Watch before listing so nothing arrives unseen in between.
	messages := i.Watch(ctx)

	existing, err := i.Messages(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		if cfg.Matches(m) {
			return m, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m := <-messages:
			if m != nil && cfg.Matches(m) {
				return m, nil
			}
		}
	}
}

// WaitForMessageCount waits until at least count matching messages are found.
func (i *Inbox) WaitForMessageCount(ctx context.Context, count int, opts ...WaitOption) ([]*ReceivedMessage, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must be non-negative, got %d", count)
	}
	if count == 0 {
		return []*ReceivedMessage{}, nil
	}

	cfg := &waitConfig{
		timeout: defaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	// Keyed by digest: the same notification can be seen both in the
	// listing and through the watcher.
	seen := make(map[string]struct{})
	var results []*ReceivedMessage
	addIfNew := func(m *ReceivedMessage) {
		if _, ok := seen[m.Digest]; ok {
			return
		}
		if cfg.Matches(m) {
			seen[m.Digest] = struct{}{}
			results = append(results, m)
		}
	}

	messages := i.Watch(ctx)

	existing, err := i.Messages(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range existing {
		addIfNew(m)
		if len(results) >= count {
			return results[:count], nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m := <-messages:
			if m != nil {
				addIfNew(m)
				if len(results) >= count {
					return results[:count], nil
				}
			}
		}
	}
}
