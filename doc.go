// Package courier is a client for store-and-forward secure messaging over
// untrusted relays.
//
// A sender encrypts a Message under a fresh symmetric key, deposits the
// ciphertext with a relay, and posts each recipient a small notification:
// a PayloadReference (location, key, iv, hash) encrypted to the recipient and
// signed by the sender. Relays only ever hold ciphertext and signed
// ciphertext. A recipient verifies the signature before decrypting anything
// and checks the payload hash before trusting the content.
//
// Basic usage:
//
//	engine, _ := crypto.New(crypto.DefaultConfig())
//	me, err := courier.GenerateOwnEndpoint(engine, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := courier.New(me, courier.WithRelayURL("https://relay.example"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	inbox, err := client.CreateInbox(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Publish inbox.Endpoint() to senders, persist inbox.Export().
//
//	_, err = client.Send(ctx, &courier.Message{
//	    Recipients: []courier.Endpoint{bob},
//	    Subject:    "hello",
//	    Body:       "hello",
//	})
//
//	results, err := inbox.Receive(ctx, func(ctx context.Context, m *courier.ReceivedMessage) error {
//	    fmt.Println(m.Message.Subject)
//	    return nil
//	})
//
// Delivery is at-least-once: a notification is deleted from the relay only
// after the message was handled, so handlers and stores must tolerate seeing
// the same message twice (ReceivedMessage.Digest identifies it).
package courier
