package courier

import (
	"sync"
	"sync/atomic"
)

// listener is one consumer of the messages read from an inbox.
type listener struct {
	fn      func(*ReceivedMessage)
	stopped atomic.Bool
}

// listeners fans messages out to the consumers of each inbox. The per-inbox
// slices are copy-on-write: dispatch reads a snapshot without copying, and
// a stopped listener is skipped even if it is still in that snapshot.
type listeners struct {
	mu      sync.Mutex
	byInbox map[string][]*listener // receive endpoint -> listeners
}

func newListeners() *listeners {
	return &listeners{byInbox: make(map[string][]*listener)}
}

// add registers fn for messages from inbox. fn runs on the goroutine that
// read the message. The returned stop function may be called any number of
// times, including from inside fn.
func (l *listeners) add(inbox string, fn func(*ReceivedMessage)) (stop func()) {
	ln := &listener{fn: fn}

	l.mu.Lock()
	cur := l.byInbox[inbox]
	next := make([]*listener, len(cur), len(cur)+1)
	copy(next, cur)
	l.byInbox[inbox] = append(next, ln)
	l.mu.Unlock()

	return func() { l.remove(inbox, ln) }
}

func (l *listeners) remove(inbox string, ln *listener) {
	if ln.stopped.Swap(true) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.byInbox[inbox]
	next := make([]*listener, 0, len(cur))
	for _, other := range cur {
		if other != ln {
			next = append(next, other)
		}
	}
	if len(next) == 0 {
		delete(l.byInbox, inbox)
		return
	}
	l.byInbox[inbox] = next
}

// has reports whether anything listens to inbox. The background watcher
// leaves notifications alone when nothing does and no store is configured.
func (l *listeners) has(inbox string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byInbox[inbox]) > 0
}

// dispatch hands m to every live listener of inbox.
func (l *listeners) dispatch(inbox string, m *ReceivedMessage) {
	l.mu.Lock()
	snapshot := l.byInbox[inbox]
	l.mu.Unlock()

	for _, ln := range snapshot {
		if !ln.stopped.Load() {
			ln.fn(m)
		}
	}
}

// stopAll stops every listener. Used by Client.Close.
func (l *listeners) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lns := range l.byInbox {
		for _, ln := range lns {
			ln.stopped.Store(true)
		}
	}
	l.byInbox = make(map[string][]*listener)
}
