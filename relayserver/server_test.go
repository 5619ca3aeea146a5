package relayserver

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, clock *fakeClock, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := Config{Logger: quietLogger(), Now: clock.Now}
	for _, m := range mutate {
		m(&cfg)
	}
	s := New(cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, credential string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestServer_Blobs(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	status, body := do(t, http.MethodPost, ts.URL+"/blob?lifetimeInMinutes=10", "", []byte("ciphertext"))
	require.Equal(t, http.StatusCreated, status, string(body))

	var created struct {
		Location string `json:"location"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, strings.HasPrefix(created.Location, ts.URL+"/blob/"), created.Location)

	status, body = do(t, http.MethodGet, created.Location, "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ciphertext", string(body))

	clock.Advance(10 * time.Minute)
	status, body = do(t, http.MethodGet, created.Location, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), `"error"`)
}

func TestServer_Lifetime(t *testing.T) {
	clock := newFakeClock()
	blobs := NewMemoryBlobStore(clock.Now)
	_, ts := newTestServer(t, clock, func(c *Config) {
		c.Blobs = blobs
		c.MaxLifetime = time.Hour
	})

	tests := []struct {
		query  string
		status int
	}{
		{"", http.StatusBadRequest},
		{"?lifetimeInMinutes=0", http.StatusBadRequest},
		{"?lifetimeInMinutes=-3", http.StatusBadRequest},
		{"?lifetimeInMinutes=abc", http.StatusBadRequest},
		{"?lifetimeInMinutes=1", http.StatusCreated},
		{"?lifetimeInMinutes=" + strconv.Itoa(ForeverMinutes), http.StatusCreated},
		{"?lifetimeInMinutes=200000000", http.StatusCreated},
		{"?lifetimeInMinutes=" + strconv.FormatInt(math.MaxInt64, 10), http.StatusCreated},
		{"?lifetimeInMinutes=99999999999999999999", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			status, body := do(t, http.MethodPost, ts.URL+"/blob"+tt.query, "", []byte("x"))
			assert.Equal(t, tt.status, status, string(body))
		})
	}

	assert.Equal(t, 4, blobs.Len())

	// Every accepted lifetime is capped, including ones too large for a
	// time.Duration.
	clock.Advance(time.Hour)
	assert.Equal(t, 4, blobs.Sweep())
	assert.Equal(t, 0, blobs.Len())
}

func TestServer_ForeverCappedByMaxLifetime(t *testing.T) {
	clock := newFakeClock()
	blobs := NewMemoryBlobStore(clock.Now)
	_, ts := newTestServer(t, clock, func(c *Config) {
		c.Blobs = blobs
		c.MaxLifetime = time.Hour
	})

	status, _ := do(t, http.MethodPost, ts.URL+"/blob?lifetimeInMinutes="+strconv.Itoa(ForeverMinutes), "", []byte("x"))
	require.Equal(t, http.StatusCreated, status)

	clock.Advance(time.Hour)
	assert.Equal(t, 1, blobs.Sweep())
}

func TestServer_BlobTooLarge(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock(), func(c *Config) { c.MaxBlobSize = 4 })

	status, _ := do(t, http.MethodPost, ts.URL+"/blob?lifetimeInMinutes=1", "", []byte("12345"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func createInbox(t *testing.T, baseURL string) (endpoint, credential string) {
	t.Helper()
	status, body := do(t, http.MethodPost, baseURL+"/inbox/create", "", nil)
	require.Equal(t, http.StatusCreated, status, string(body))

	var reg struct {
		ReceiveEndpoint string `json:"receiveEndpoint"`
		OwnerCredential string `json:"ownerCredential"`
	}
	require.NoError(t, json.Unmarshal(body, &reg))
	require.NotEmpty(t, reg.ReceiveEndpoint)
	require.NotEmpty(t, reg.OwnerCredential)
	return reg.ReceiveEndpoint, reg.OwnerCredential
}

type listed struct {
	Items []struct {
		ID       string    `json:"id"`
		Content  []byte    `json:"content"`
		PostedAt time.Time `json:"postedAt"`
	} `json:"items"`
}

func TestServer_Inbox(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)
	endpoint, credential := createInbox(t, ts.URL)

	status, _ := do(t, http.MethodPost, endpoint+"?lifetimeInMinutes=5", "", []byte(`{"n":1}`))
	require.Equal(t, http.StatusAccepted, status)
	clock.Advance(time.Second)
	status, _ = do(t, http.MethodPost, endpoint+"?lifetimeInMinutes=60", "", []byte(`{"n":2}`))
	require.Equal(t, http.StatusAccepted, status)

	status, _ = do(t, http.MethodGet, endpoint, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = do(t, http.MethodGet, endpoint, "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := do(t, http.MethodGet, endpoint, credential, nil)
	require.Equal(t, http.StatusOK, status)
	var list listed
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, `{"n":1}`, string(list.Items[0].Content))
	assert.Equal(t, `{"n":2}`, string(list.Items[1].Content))

	status, _ = do(t, http.MethodDelete, endpoint+"/"+list.Items[1].ID, credential, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, http.MethodDelete, endpoint+"/"+list.Items[1].ID, credential, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// The first notification expires.
	clock.Advance(5 * time.Minute)
	status, body = do(t, http.MethodGet, endpoint, credential, nil)
	require.Equal(t, http.StatusOK, status)
	list = listed{}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list.Items)

	status, _ = do(t, http.MethodDelete, endpoint, "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = do(t, http.MethodDelete, endpoint, credential, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = do(t, http.MethodPost, endpoint+"?lifetimeInMinutes=5", "", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_InboxLifetime(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock, func(c *Config) { c.InboxLifetime = time.Hour })
	endpoint, credential := createInbox(t, ts.URL)

	status, _ := do(t, http.MethodGet, endpoint, credential, nil)
	assert.Equal(t, http.StatusOK, status)

	clock.Advance(time.Hour)
	status, _ = do(t, http.MethodGet, endpoint, credential, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_EmptyNotification(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())
	endpoint, _ := createInbox(t, ts.URL)

	status, _ := do(t, http.MethodPost, endpoint+"?lifetimeInMinutes=5", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_Sweep(t *testing.T) {
	clock := newFakeClock()
	blobs := NewMemoryBlobStore(clock.Now)
	s, ts := newTestServer(t, clock, func(c *Config) { c.Blobs = blobs })
	endpoint, credential := createInbox(t, ts.URL)

	do(t, http.MethodPost, ts.URL+"/blob?lifetimeInMinutes=1", "", []byte("x"))
	do(t, http.MethodPost, endpoint+"?lifetimeInMinutes=1", "", []byte("{}"))

	clock.Advance(time.Minute)
	s.Sweep()
	assert.Equal(t, 0, blobs.Len())

	s.mu.Lock()
	for _, ib := range s.inboxes {
		assert.Empty(t, ib.notifications)
	}
	s.mu.Unlock()

	status, _ := do(t, http.MethodGet, endpoint, credential, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_BaseURL(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock(), func(c *Config) { c.BaseURL = "https://relay.example/" })

	status, body := do(t, http.MethodPost, ts.URL+"/blob?lifetimeInMinutes=1", "", []byte("x"))
	require.Equal(t, http.StatusCreated, status)
	assert.Contains(t, string(body), `"location":"https://relay.example/blob/`)
}

func TestServer_NotFound(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	status, body := do(t, http.MethodGet, ts.URL+"/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "no such resource")
}
