// Package delivery watches relay inboxes and hands new notifications to a
// callback.
//
// # Usage
//
//	cfg := delivery.Config{Lister: apiClient}
//	strategy := delivery.NewPollingStrategy(cfg)
//
//	inboxes := []delivery.InboxInfo{{ReceiveEndpoint: url, Credential: cred}}
//	strategy.Start(ctx, inboxes, func(ctx context.Context, inbox delivery.InboxInfo, n *api.Notification) error {
//	    // Verify, decrypt and persist, then delete the notification.
//	    return nil
//	})
//	defer strategy.Stop()
//
// # Backoff
//
// Polling intervals grow from 2s to 30s when an inbox has nothing new and
// reset as soon as a notification arrives. Jitter keeps watchers from
// polling in lockstep.
//
// # Redelivery
//
// A notification whose handler returns an error is offered again on the next
// poll. A notification is offered once per strategy after its handler
// succeeds, even if it remains listed until the handler's delete lands.
//
// # Thread Safety
//
// All strategy types are safe for concurrent use. Inboxes can be added or
// removed while the strategy is running.
package delivery
