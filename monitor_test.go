package courier

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestInboxMonitor(t *testing.T) {
	relay := newTestRelay(t)
	alice, _ := newParty(t, relay, suites[1])
	bob, first := watchingParty(t, relay)
	second, err := bob.CreateInbox(ctxT(t))
	if err != nil {
		t.Fatal(err)
	}

	monitor := bob.MonitorInboxes(first, second)

	events := make(chan *Inbox, 4)
	var removedCalls atomic.Int32
	monitor.OnMessage(func(inbox *Inbox, m *ReceivedMessage) {
		events <- inbox
	})
	removed := monitor.OnMessage(func(*Inbox, *ReceivedMessage) {
		removedCalls.Add(1)
	})
	removed.Unsubscribe()

	sendHello(t, alice, first)

	select {
	case inbox := <-events:
		if inbox != first {
			t.Errorf("callback for %s, want %s", inbox.ReceiveEndpoint(), first.ReceiveEndpoint())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("monitor callback not called")
	}
	if removedCalls.Load() != 0 {
		t.Error("unsubscribed callback was called")
	}

	monitor.Unsubscribe()
	if bob.listeners.has(first.ReceiveEndpoint()) || bob.listeners.has(second.ReceiveEndpoint()) {
		t.Error("monitor left subscriptions behind")
	}
}

func TestInternalSubscription_NilCancel(t *testing.T) {
	(&internalSubscription{}).Unsubscribe()
}
