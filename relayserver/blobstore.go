package relayserver

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrBlobNotFound is returned by BlobStore.Get for missing or expired blobs.
var ErrBlobNotFound = errors.New("blob not found")

// Blob is deposited content as the relay stores it.
type Blob struct {
	Content         []byte    `json:"content"`
	ContentType     string    `json:"contentType,omitempty"`
	ContentEncoding string    `json:"contentEncoding,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
}

// BlobStore holds deposited blobs. A zero ttl keeps the blob until the
// store is cleared.
type BlobStore interface {
	Put(ctx context.Context, id string, b *Blob, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Blob, error)
	Delete(ctx context.Context, id string) error
}

// MemoryBlobStore is an in-process BlobStore. Expired blobs are invisible
// immediately and removed by Sweep.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*Blob
	now   func() time.Time
}

// NewMemoryBlobStore returns an empty store. now defaults to time.Now.
func NewMemoryBlobStore(now func() time.Time) *MemoryBlobStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlobStore{
		blobs: make(map[string]*Blob),
		now:   now,
	}
}

// Put stores b under id, replacing any previous blob.
func (s *MemoryBlobStore) Put(ctx context.Context, id string, b *Blob, ttl time.Duration) error {
	cp := *b
	cp.Content = append([]byte(nil), b.Content...)
	if ttl > 0 {
		cp.ExpiresAt = s.now().Add(ttl)
	} else {
		cp.ExpiresAt = time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = &cp
	return nil
}

// Get returns a copy of the blob stored under id.
func (s *MemoryBlobStore) Get(ctx context.Context, id string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[id]
	if !ok || expired(b.ExpiresAt, s.now()) {
		return nil, ErrBlobNotFound
	}
	cp := *b
	cp.Content = append([]byte(nil), b.Content...)
	return &cp, nil
}

// Delete removes the blob stored under id. Missing blobs are not an error.
func (s *MemoryBlobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
	return nil
}

// Sweep removes expired blobs and returns how many were removed.
func (s *MemoryBlobStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.blobs {
		if expired(b.ExpiresAt, now) {
			delete(s.blobs, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored blobs, expired or not.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
