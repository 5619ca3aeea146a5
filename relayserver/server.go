package relayserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// ForeverMinutes is the lifetime a client sends to ask for unbounded
	// retention.
	ForeverMinutes = math.MaxInt32

	// DefaultMaxBlobSize bounds a deposited blob.
	DefaultMaxBlobSize = 32 << 20

	// DefaultMaxNotificationSize bounds a posted notification.
	DefaultMaxNotificationSize = 64 << 10

	// maxDurationMinutes is the largest minute count a time.Duration holds.
	maxDurationMinutes = int64(math.MaxInt64 / int64(time.Minute))
)

// Config configures a relay server.
type Config struct {
	// BaseURL is the externally visible URL of the relay, used to build blob
	// locations and inbox endpoints. When empty it is derived from each
	// request's Host.
	BaseURL string
	// Blobs stores deposited content. Defaults to a MemoryBlobStore.
	Blobs BlobStore
	// MaxLifetime caps every requested lifetime. Zero means no cap, and
	// ForeverMinutes requests are kept until deleted.
	MaxLifetime time.Duration
	// InboxLifetime is how long a created inbox lives. Zero means forever.
	InboxLifetime time.Duration
	// MaxBlobSize and MaxNotificationSize bound request bodies.
	MaxBlobSize         int64
	MaxNotificationSize int64
	// Logger receives request logs. Defaults to the standard logrus logger.
	Logger logrus.FieldLogger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Server is a development relay: it stores opaque blobs under
// server-assigned locations and keeps per-inbox notification queues readable
// only with the inbox's owner credential. It never inspects content.
type Server struct {
	cfg    Config
	router *mux.Router

	mu      sync.Mutex
	inboxes map[string]*inbox
}

type inbox struct {
	credential    string
	expiresAt     time.Time
	notifications []*storedNotification
}

type storedNotification struct {
	ID        string    `json:"id"`
	Content   []byte    `json:"content"`
	PostedAt  time.Time `json:"postedAt"`
	expiresAt time.Time
}

// New creates a relay server.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Blobs == nil {
		cfg.Blobs = NewMemoryBlobStore(cfg.Now)
	}
	if cfg.MaxBlobSize == 0 {
		cfg.MaxBlobSize = DefaultMaxBlobSize
	}
	if cfg.MaxNotificationSize == 0 {
		cfg.MaxNotificationSize = DefaultMaxNotificationSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	s := &Server{
		cfg:     cfg,
		inboxes: make(map[string]*inbox),
	}

	r := mux.NewRouter()
	r.Handle("/blob", s.handler("upload", s.createBlob)).Methods(http.MethodPost)
	r.Handle("/blob/{id}", s.handler("fetch", s.getBlob)).Methods(http.MethodGet)
	r.Handle("/inbox/create", s.handler("create inbox", s.createInbox)).Methods(http.MethodPost)
	r.Handle("/inbox/{inbox}", s.handler("post notification", s.postNotification)).Methods(http.MethodPost)
	r.Handle("/inbox/{inbox}", s.handler("list notifications", s.listNotifications)).Methods(http.MethodGet)
	r.Handle("/inbox/{inbox}", s.handler("delete inbox", s.deleteInbox)).Methods(http.MethodDelete)
	r.Handle("/inbox/{inbox}/{id}", s.handler("delete notification", s.deleteNotification)).Methods(http.MethodDelete)
	r.NotFoundHandler = s.handler("not found", func(w http.ResponseWriter, r *http.Request) error {
		return errNotFound("no such resource")
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handlerFunc is an http handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handler(op string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := h(w, r)
		status := http.StatusOK
		if err != nil {
			status = encodeError(err, w)
		}

		entry := s.cfg.Logger.WithFields(logrus.Fields{
			"op":       op,
			"method":   r.Method,
			"status":   status,
			"duration": time.Since(start),
		})
		if status >= http.StatusInternalServerError {
			entry.WithField("error", err).Error("request failed")
		} else {
			entry.Debug("request")
		}
	})
}

// statusError carries the HTTP status a failure maps to.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string   { return e.msg }
func (e *statusError) StatusCode() int { return e.status }

func errBadRequest(msg string) error   { return &statusError{http.StatusBadRequest, msg} }
func errNotFound(msg string) error     { return &statusError{http.StatusNotFound, msg} }
func errUnauthorized(msg string) error { return &statusError{http.StatusUnauthorized, msg} }
func errTooLarge(msg string) error     { return &statusError{http.StatusRequestEntityTooLarge, msg} }

type statusCoder interface {
	StatusCode() int
}

func encodeError(err error, w http.ResponseWriter) int {
	status := http.StatusInternalServerError
	if e, ok := errors.Cause(err).(statusCoder); ok {
		status = e.StatusCode()
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
	return status
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// lifetime parses lifetimeInMinutes and applies MaxLifetime. A zero result
// means no expiration. ForeverMinutes and any count too large for a
// time.Duration ask for no expiration, which MaxLifetime still caps.
func (s *Server) lifetime(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("lifetimeInMinutes")
	if raw == "" {
		return 0, errBadRequest("lifetimeInMinutes is required")
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 1 {
		return 0, errBadRequest("lifetimeInMinutes must be a positive integer")
	}

	var ttl time.Duration
	if minutes < ForeverMinutes && int64(minutes) <= maxDurationMinutes {
		ttl = time.Duration(minutes) * time.Minute
	}
	if s.cfg.MaxLifetime > 0 && (ttl == 0 || ttl > s.cfg.MaxLifetime) {
		ttl = s.cfg.MaxLifetime
	}
	return ttl, nil
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge("request body too large")
	}
	return data, nil
}

func (s *Server) createBlob(w http.ResponseWriter, r *http.Request) error {
	ttl, err := s.lifetime(r)
	if err != nil {
		return err
	}
	content, err := readBody(r, s.cfg.MaxBlobSize)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	blob := &Blob{
		Content:         content,
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: r.Header.Get("Content-Encoding"),
	}
	if err := s.cfg.Blobs.Put(r.Context(), id, blob, ttl); err != nil {
		return err
	}

	return writeJSON(w, http.StatusCreated, map[string]string{
		"location": s.baseURL(r) + "/blob/" + id,
	})
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) error {
	blob, err := s.cfg.Blobs.Get(r.Context(), mux.Vars(r)["id"])
	if err == ErrBlobNotFound {
		return errNotFound("blob not found")
	}
	if err != nil {
		return err
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if blob.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", blob.ContentEncoding)
	}
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(blob.Content)
	return err
}

func (s *Server) createInbox(w http.ResponseWriter, r *http.Request) error {
	credential, err := newCredential()
	if err != nil {
		return err
	}
	id := uuid.New().String()

	ib := &inbox{credential: credential}
	if s.cfg.InboxLifetime > 0 {
		ib.expiresAt = s.cfg.Now().Add(s.cfg.InboxLifetime).UTC()
	}

	s.mu.Lock()
	s.inboxes[id] = ib
	s.mu.Unlock()

	resp := map[string]interface{}{
		"receiveEndpoint": s.baseURL(r) + "/inbox/" + id,
		"ownerCredential": credential,
	}
	if !ib.expiresAt.IsZero() {
		resp["expiresAt"] = ib.expiresAt
	}
	return writeJSON(w, http.StatusCreated, resp)
}

func newCredential() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate credential")
	}
	return hex.EncodeToString(b), nil
}

// lookupInbox returns the live inbox with the given id. s.mu must be held.
func (s *Server) lookupInbox(id string) (*inbox, error) {
	ib, ok := s.inboxes[id]
	if !ok {
		return nil, errNotFound("inbox not found")
	}
	if expired(ib.expiresAt, s.cfg.Now()) {
		delete(s.inboxes, id)
		return nil, errNotFound("inbox not found")
	}
	return ib, nil
}

// authorize checks the bearer credential for inbox id. s.mu must be held.
func (s *Server) authorize(r *http.Request, id string) (*inbox, error) {
	ib, err := s.lookupInbox(id)
	if err != nil {
		return nil, err
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(ib.credential)) != 1 {
		return nil, errUnauthorized("invalid inbox credential")
	}
	return ib, nil
}

func (s *Server) postNotification(w http.ResponseWriter, r *http.Request) error {
	ttl, err := s.lifetime(r)
	if err != nil {
		return err
	}
	content, err := readBody(r, s.cfg.MaxNotificationSize)
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return errBadRequest("empty notification")
	}

	now := s.cfg.Now()
	n := &storedNotification{
		ID:       uuid.New().String(),
		Content:  content,
		PostedAt: now.UTC(),
	}
	if ttl > 0 {
		n.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ib, err := s.lookupInbox(mux.Vars(r)["inbox"])
	if err != nil {
		return err
	}
	ib.notifications = append(ib.notifications, n)

	return writeJSON(w, http.StatusAccepted, map[string]string{"id": n.ID})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) error {
	s.mu.Lock()
	ib, err := s.authorize(r, mux.Vars(r)["inbox"])
	if err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.cfg.Now()
	live := ib.notifications[:0]
	for _, n := range ib.notifications {
		if !expired(n.expiresAt, now) {
			live = append(live, n)
		}
	}
	ib.notifications = live
	items := make([]storedNotification, len(live))
	for i, n := range live {
		items[i] = *n
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool { return items[i].PostedAt.Before(items[j].PostedAt) })
	return writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) deleteNotification(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	ib, err := s.authorize(r, vars["inbox"])
	if err != nil {
		return err
	}
	for i, n := range ib.notifications {
		if n.ID == vars["id"] {
			ib.notifications = append(ib.notifications[:i], ib.notifications[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
	}
	return errNotFound("notification not found")
}

func (s *Server) deleteInbox(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["inbox"]

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.authorize(r, id); err != nil {
		return err
	}
	delete(s.inboxes, id)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Sweep drops expired inboxes and notifications, and expired blobs when the
// blob store is a MemoryBlobStore.
func (s *Server) Sweep() {
	now := s.cfg.Now()
	removed := 0

	s.mu.Lock()
	for id, ib := range s.inboxes {
		if expired(ib.expiresAt, now) {
			delete(s.inboxes, id)
			removed++
			continue
		}
		live := ib.notifications[:0]
		for _, n := range ib.notifications {
			if !expired(n.expiresAt, now) {
				live = append(live, n)
			}
		}
		removed += len(ib.notifications) - len(live)
		ib.notifications = live
	}
	s.mu.Unlock()

	if m, ok := s.cfg.Blobs.(*MemoryBlobStore); ok {
		removed += m.Sweep()
	}
	if removed > 0 {
		s.cfg.Logger.WithField("removed", removed).Debug("swept expired content")
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
