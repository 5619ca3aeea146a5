package addressbook

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoItem is returned by a Store when a key does not exist.
	ErrNoItem = errors.New("item not found")

	// ErrConflict is returned by a Store when a conditional insert finds the
	// key already taken.
	ErrConflict = errors.New("item already exists")
)

// Store is the table an AddressBook is kept in. Entries and aliases are
// insert-only; the one mutation is appending an alias digest to an entry.
type Store interface {
	// GetEntry returns the entry stored under key or ErrNoItem.
	GetEntry(ctx context.Context, key string) (*Entry, error)

	// GetAlias returns the entry key an alias digest points at or ErrNoItem.
	GetAlias(ctx context.Context, hash string) (string, error)

	// PutEntry inserts e under e.Key(), or returns ErrConflict if the key is
	// taken.
	PutEntry(ctx context.Context, e *Entry) error

	// PutAlias points hash at entryKey. It succeeds if hash already points at
	// entryKey and returns ErrConflict if it points elsewhere.
	PutAlias(ctx context.Context, hash, entryKey string) error

	// AddEmailHash records hash on the entry stored under key, or returns
	// ErrNoItem.
	AddEmailHash(ctx context.Context, key, hash string) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	sync.RWMutex

	entries map[string]*Entry
	aliases map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		aliases: make(map[string]string),
	}
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	cp.EmailHashes = append([]string(nil), e.EmailHashes...)
	return &cp
}

func (m *MemoryStore) GetEntry(ctx context.Context, key string) (*Entry, error) {
	m.RLock()
	defer m.RUnlock()

	e, found := m.entries[key]
	if !found {
		return nil, ErrNoItem
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) GetAlias(ctx context.Context, hash string) (string, error) {
	m.RLock()
	defer m.RUnlock()

	key, found := m.aliases[hash]
	if !found {
		return "", ErrNoItem
	}
	return key, nil
}

func (m *MemoryStore) PutEntry(ctx context.Context, e *Entry) error {
	m.Lock()
	defer m.Unlock()

	if _, found := m.entries[e.Key()]; found {
		return ErrConflict
	}
	m.entries[e.Key()] = copyEntry(e)
	return nil
}

func (m *MemoryStore) PutAlias(ctx context.Context, hash, entryKey string) error {
	m.Lock()
	defer m.Unlock()

	if existing, found := m.aliases[hash]; found {
		if existing != entryKey {
			return ErrConflict
		}
		return nil
	}
	m.aliases[hash] = entryKey
	return nil
}

func (m *MemoryStore) AddEmailHash(ctx context.Context, key, hash string) error {
	m.Lock()
	defer m.Unlock()

	e, found := m.entries[key]
	if !found {
		return ErrNoItem
	}
	if !e.hasHash(hash) {
		e.EmailHashes = append(e.EmailHashes, hash)
	}
	return nil
}
