package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/apierrors"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize bounds the size of any relay response body.
	maxResponseSize = 64 << 20
)

// Config configures the relay client.
type Config struct {
	// RelayURL is the base URL of the relay used for deposits and inbox
	// creation. Required.
	RelayURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retry controls retries of idempotent requests. Defaults to
	// DefaultRetryConfig.
	Retry *RetryConfig
	// Logger receives retry and request diagnostics. Defaults to a logger
	// that discards below warning level.
	Logger logrus.FieldLogger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Client talks to a relay over HTTP. It is safe for concurrent use.
type Client struct {
	relayURL   *url.URL
	httpClient *http.Client
	retry      *RetryConfig
	log        logrus.FieldLogger
	now        func() time.Time
}

// New creates a relay client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.RelayURL == "" {
		return nil, errors.New("relay URL is required")
	}
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse relay URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("relay URL %q: scheme must be http or https", cfg.RelayURL)
	}

	c := &Client{
		relayURL:   u,
		httpClient: cfg.HTTPClient,
		retry:      cfg.Retry,
		log:        cfg.Logger,
		now:        cfg.Now,
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.retry == nil {
		c.retry = DefaultRetryConfig()
	}
	if c.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		c.log = l
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// RelayURL returns the configured relay base URL.
func (c *Client) RelayURL() *url.URL {
	u := *c.relayURL
	return &u
}

// RetryConfig returns the retry policy used by the client.
func (c *Client) RetryConfig() *RetryConfig {
	return c.retry
}

// request describes a single relay call.
type request struct {
	op         string
	method     string
	url        string
	header     http.Header
	body       []byte
	wantStatus int
}

// do executes req. GET and DELETE are retried on transient failures.
func (c *Client) do(ctx context.Context, req *request) ([]byte, error) {
	if req.method != http.MethodGet && req.method != http.MethodDelete {
		return c.doOnce(ctx, req)
	}

	var body []byte
	err := c.retry.Retry(ctx, c.log, req.op, func() error {
		var err error
		body, err = c.doOnce(ctx, req)
		return err
	})
	return body, err
}

func (c *Client) doOnce(ctx context.Context, req *request) ([]byte, error) {
	var bodyReader io.Reader
	if req.body != nil {
		bodyReader = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, bodyReader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", req.op)
	}
	for k, v := range req.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &apierrors.RelayError{Op: req.op, URL: req.url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &apierrors.RelayError{Op: req.op, URL: req.url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(req, resp.StatusCode, data)
	}
	if req.wantStatus != 0 && resp.StatusCode != req.wantStatus {
		return nil, &apierrors.RelayError{
			Op:         req.op,
			URL:        req.url,
			StatusCode: resp.StatusCode,
			Message:    "unexpected status",
		}
	}
	return data, nil
}

func parseErrorResponse(req *request, status int, body []byte) error {
	relayErr := &apierrors.RelayError{Op: req.op, URL: req.url, StatusCode: status}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		relayErr.Message = errResp.Error
	}
	return relayErr
}

func decodeJSON(op string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s response", op)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, apierrors.ErrNotFound)
}
