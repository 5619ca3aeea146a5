package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/courierproto/client-go/internal/api"
	"github.com/courierproto/client-go/internal/crypto"
	"github.com/courierproto/client-go/relayserver"
)

var suites = []string{crypto.SuitePQ, crypto.SuiteNaCl}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testEngine(t *testing.T, suite string) crypto.Engine {
	t.Helper()
	cfg := crypto.DefaultConfig()
	cfg.Suite = suite
	engine, err := crypto.New(cfg)
	if err != nil {
		t.Fatalf("crypto.New(%s) error = %v", suite, err)
	}
	return engine
}

func fastRetry() *api.RetryConfig {
	return &api.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

// testRelay wraps a relayserver with request counters and fault injection.
type testRelay struct {
	*httptest.Server
	relay *relayserver.Server
	blobs *relayserver.MemoryBlobStore

	requests atomic.Int64
	fetches  atomic.Int64
	uploads  atomic.Int64
	posts    atomic.Int64

	// failUploads and failPosts make that many next requests fail with 503.
	failUploads atomic.Int64
	failPosts   atomic.Int64

	mu                 sync.Mutex
	uploaded           [][]byte // every upload body, including failed attempts
	mutateBlob         func([]byte) []byte
	mutateNotification func([]byte) []byte
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{blobs: relayserver.NewMemoryBlobStore(nil)}
	tr.relay = relayserver.New(relayserver.Config{
		Blobs:  tr.blobs,
		Logger: quietLogger(),
	})
	tr.Server = httptest.NewServer(http.HandlerFunc(tr.serve))
	t.Cleanup(tr.Close)
	return tr
}

func (tr *testRelay) serve(w http.ResponseWriter, r *http.Request) {
	tr.requests.Add(1)

	isUpload := r.Method == http.MethodPost && r.URL.Path == "/blob"
	isPost := r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/inbox/") && r.URL.Path != "/inbox/create"
	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/blob/") {
		tr.fetches.Add(1)
	}

	var body []byte
	if isUpload || isPost {
		body, _ = io.ReadAll(r.Body)
	}
	if isUpload {
		tr.mu.Lock()
		tr.uploaded = append(tr.uploaded, append([]byte(nil), body...))
		tr.mu.Unlock()
	}

	switch {
	case isUpload:
		tr.uploads.Add(1)
		if tr.failUploads.Add(-1) >= 0 {
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		tr.failUploads.Store(0)
	case isPost:
		tr.posts.Add(1)
		if tr.failPosts.Add(-1) >= 0 {
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		tr.failPosts.Store(0)
	}

	if isUpload || isPost {
		tr.mu.Lock()
		if isUpload && tr.mutateBlob != nil {
			body = tr.mutateBlob(body)
		}
		if isPost && tr.mutateNotification != nil {
			body = tr.mutateNotification(body)
		}
		tr.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	tr.relay.ServeHTTP(w, r)
}

func (tr *testRelay) host() string {
	return strings.TrimPrefix(tr.URL, "http://")
}

// newParty creates an identity with a client on relay and an inbox there.
func newParty(t *testing.T, relay *testRelay, suite string, opts ...Option) (*Client, *Inbox) {
	t.Helper()
	engine := testEngine(t, suite)
	id, err := GenerateOwnEndpoint(engine, "")
	if err != nil {
		t.Fatalf("GenerateOwnEndpoint() error = %v", err)
	}

	base := []Option{
		WithRelayURL(relay.URL),
		WithEngine(engine),
		WithLogger(quietLogger()),
		WithRetryConfig(fastRetry()),
		WithPollingInterval(time.Hour),
	}
	c, err := New(id, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	inbox, err := c.CreateInbox(ctxT(t))
	if err != nil {
		t.Fatalf("CreateInbox() error = %v", err)
	}
	return c, inbox
}

// rewriteJSONField decodes a JSON object, replaces one string field with
// fn's result and encodes it again.
func rewriteJSONField(field string, fn func(string) string) func([]byte) []byte {
	return func(body []byte) []byte {
		var m map[string]interface{}
		if err := json.Unmarshal(body, &m); err != nil {
			return body
		}
		if s, ok := m[field].(string); ok {
			m[field] = fn(s)
		}
		out, err := json.Marshal(m)
		if err != nil {
			return body
		}
		return out
	}
}

// flipB64 flips one bit of base64url-encoded data.
func flipB64(s string) string {
	data, err := crypto.FromBase64URL(s)
	if err != nil || len(data) == 0 {
		return s
	}
	data[len(data)/2] ^= 0x01
	return crypto.ToBase64URL(data)
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
