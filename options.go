package courier

import (
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/api"
	"github.com/courierproto/client-go/internal/crypto"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultWaitTimeout     = 60 * time.Second
	defaultSendConcurrency = 8
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	relayURL     string
	allowedHosts []string
	httpClient   *http.Client
	timeout      time.Duration
	retries      int
	retry        *api.RetryConfig
	cryptoConfig crypto.Config
	engine       crypto.Engine
	logger       *logrus.Logger
	resolver     Resolver
	store        MessageStore
	clock        func() time.Time

	sendConcurrency int

	// Polling configuration
	pollingInitialInterval time.Duration
	pollingMaxBackoff      time.Duration
}

// waitConfig holds configuration for waiting on messages.
type waitConfig struct {
	subject      string
	subjectRegex *regexp.Regexp
	author       *Endpoint
	predicate    func(*ReceivedMessage) bool
	timeout      time.Duration
}

// Option configures the client.
type Option func(*clientConfig)

// WaitOption configures message waiting.
type WaitOption func(*waitConfig)

// WithRelayURL sets the relay used for deposits and inbox creation.
func WithRelayURL(url string) Option {
	return func(c *clientConfig) {
		c.relayURL = url
	}
}

// WithAllowedRelayHosts sets the hosts payload references may point at.
// The relay URL's host is always allowed.
func WithAllowedRelayHosts(hosts ...string) Option {
	return func(c *clientConfig) {
		c.allowedHosts = append(c.allowedHosts, hosts...)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for transient relay failures.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryConfig replaces the whole retry policy.
func WithRetryConfig(cfg *api.RetryConfig) Option {
	return func(c *clientConfig) {
		c.retry = cfg
	}
}

// WithCryptoConfig selects the crypto engine by configuration.
// Ignored when WithEngine is also given.
func WithCryptoConfig(cfg crypto.Config) Option {
	return func(c *clientConfig) {
		c.cryptoConfig = cfg
	}
}

// WithEngine sets an already constructed crypto engine.
func WithEngine(engine crypto.Engine) Option {
	return func(c *clientConfig) {
		c.engine = engine
	}
}

// WithLogger sets the logger. Default: warnings and above to stderr.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithResolver sets the resolver SendTo uses to find recipients.
func WithResolver(r Resolver) Option {
	return func(c *clientConfig) {
		c.resolver = r
	}
}

// WithMessageStore persists every received message before it is handed to
// handlers and before its notification is deleted.
func WithMessageStore(s MessageStore) Option {
	return func(c *clientConfig) {
		c.store = s
	}
}

// WithClock overrides the time source used for expirations.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.clock = now
	}
}

// WithSendConcurrency bounds how many recipients are notified in parallel.
// Default: 8
func WithSendConcurrency(n int) Option {
	return func(c *clientConfig) {
		c.sendConcurrency = n
	}
}

// WithPollingInterval sets the initial inbox polling interval.
// Default: 2 seconds
func WithPollingInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingInitialInterval = interval
	}
}

// WithPollingMaxBackoff sets the maximum polling interval for idle inboxes.
// Default: 30 seconds
func WithPollingMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *clientConfig) {
		c.pollingMaxBackoff = maxBackoff
	}
}

// WithSubject filters messages by exact subject match.
func WithSubject(subject string) WaitOption {
	return func(c *waitConfig) {
		c.subject = subject
	}
}

// WithSubjectRegex filters messages by subject regex.
func WithSubjectRegex(pattern *regexp.Regexp) WaitOption {
	return func(c *waitConfig) {
		c.subjectRegex = pattern
	}
}

// WithAuthor filters messages by sender identity.
func WithAuthor(author Endpoint) WaitOption {
	return func(c *waitConfig) {
		c.author = &author
	}
}

// WithPredicate filters messages by custom predicate.
func WithPredicate(fn func(*ReceivedMessage) bool) WaitOption {
	return func(c *waitConfig) {
		c.predicate = fn
	}
}

// WithWaitTimeout sets the timeout for waiting.
func WithWaitTimeout(timeout time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = timeout
	}
}

// Matches checks if a message matches the wait criteria.
func (w *waitConfig) Matches(m *ReceivedMessage) bool {
	if w.subject != "" && m.Message.Subject != w.subject {
		return false
	}
	if w.subjectRegex != nil && !w.subjectRegex.MatchString(m.Message.Subject) {
		return false
	}
	if w.author != nil && !m.Sender.Equal(*w.author) {
		return false
	}
	if w.predicate != nil && !w.predicate(m) {
		return false
	}
	return true
}
