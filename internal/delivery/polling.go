package delivery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PollingStrategy delivers notifications by listing inboxes periodically.
// Each inbox keeps its own interval: it grows by the backoff multiplier after
// every poll in which the handler accepts nothing and resets when it accepts
// a notification. Notifications the handler rejects are offered again on
// later polls.
type PollingStrategy struct {
	cfg     Config
	inboxes map[string]*polledInbox // keyed by receive endpoint
	handler EventHandler
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.RWMutex
	started bool
}

type polledInbox struct {
	info InboxInfo
	// handled holds notification ids the handler accepted. Ids are pruned
	// once the relay stops listing them.
	handled  map[string]struct{}
	interval time.Duration
	nextPoll time.Time
}

// NewPollingStrategy creates a new polling strategy.
func NewPollingStrategy(cfg Config) *PollingStrategy {
	return &PollingStrategy{
		cfg:     cfg.withDefaults(),
		inboxes: make(map[string]*polledInbox),
	}
}

// Name returns the strategy name.
func (p *PollingStrategy) Name() string {
	return "polling"
}

// Start begins polling the given inboxes.
func (p *PollingStrategy) Start(ctx context.Context, inboxes []InboxInfo, handler EventHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.handler = handler
	for _, inbox := range inboxes {
		p.inboxes[inbox.ReceiveEndpoint] = p.newPolledInbox(inbox)
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.pollLoop(ctx, p.done)
	return nil
}

// Stop shuts down the strategy and waits for the poll loop to exit.
func (p *PollingStrategy) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.started = false
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// AddInbox adds an inbox to poll. It is polled on the next cycle.
func (p *PollingStrategy) AddInbox(inbox InboxInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inboxes[inbox.ReceiveEndpoint] = p.newPolledInbox(inbox)
	return nil
}

// RemoveInbox stops polling an inbox.
func (p *PollingStrategy) RemoveInbox(receiveEndpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inboxes, receiveEndpoint)
	return nil
}

func (p *PollingStrategy) newPolledInbox(info InboxInfo) *polledInbox {
	return &polledInbox{
		info:     info,
		handled:  make(map[string]struct{}),
		interval: p.cfg.PollingInitialInterval,
	}
}

func (p *PollingStrategy) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		wait := p.pollDue(ctx, time.Now())

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// pollDue polls every inbox whose next poll time has passed and returns how
// long to wait before the earliest next poll.
func (p *PollingStrategy) pollDue(ctx context.Context, now time.Time) time.Duration {
	p.mu.RLock()
	inboxList := make([]*polledInbox, 0, len(p.inboxes))
	for _, inbox := range p.inboxes {
		inboxList = append(inboxList, inbox)
	}
	p.mu.RUnlock()

	if len(inboxList) == 0 {
		return p.cfg.PollingInitialInterval
	}

	var minWait time.Duration
	for _, inbox := range inboxList {
		if ctx.Err() != nil {
			return 0
		}
		if !now.Before(inbox.nextPoll) {
			p.pollInbox(ctx, inbox)
			inbox.nextPoll = now.Add(p.getWaitDuration(inbox))
		}
		wait := inbox.nextPoll.Sub(now)
		if minWait == 0 || wait < minWait {
			minWait = wait
		}
	}
	return minWait
}

func (p *PollingStrategy) pollInbox(ctx context.Context, inbox *polledInbox) {
	if p.cfg.Lister == nil {
		return
	}

	items, err := p.cfg.Lister.ListNotifications(ctx, inbox.info.ReceiveEndpoint, inbox.info.Credential)
	if err != nil {
		if ctx.Err() == nil {
			p.cfg.Logger.WithFields(logrus.Fields{
				"inbox": inbox.info.ReceiveEndpoint,
				"error": err,
			}).Warn("poll failed")
		}
		p.backoff(inbox)
		return
	}

	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	listed := make(map[string]struct{}, len(items))
	delivered := 0
	for i := range items {
		n := &items[i]
		listed[n.ID] = struct{}{}
		if _, ok := inbox.handled[n.ID]; ok {
			continue
		}
		if handler == nil {
			continue
		}
		if err := handler(ctx, inbox.info, n); err != nil {
			continue
		}
		inbox.handled[n.ID] = struct{}{}
		delivered++
	}

	for id := range inbox.handled {
		if _, ok := listed[id]; !ok {
			delete(inbox.handled, id)
		}
	}

	if delivered == 0 {
		p.backoff(inbox)
		return
	}
	inbox.interval = p.cfg.PollingInitialInterval
}

func (p *PollingStrategy) backoff(inbox *polledInbox) {
	next := time.Duration(float64(inbox.interval) * p.cfg.PollingBackoffMultiplier)
	if next > p.cfg.PollingMaxBackoff {
		next = p.cfg.PollingMaxBackoff
	}
	inbox.interval = next
}

func (p *PollingStrategy) getWaitDuration(inbox *polledInbox) time.Duration {
	// Jitter keeps many watchers from polling in lockstep
	jitter := time.Duration(rand.Float64() * p.cfg.PollingJitterFactor * float64(inbox.interval))
	return inbox.interval + jitter
}
