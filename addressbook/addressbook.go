// Package addressbook resolves recipient identifiers to courier endpoints.
//
// Entries are keyed by (provider, user) and reachable through any number of
// email aliases. Aliases are stored only as digests of the normalized
// address, so the raw address is never kept at rest.
package addressbook

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	courier "github.com/courierproto/client-go"
)

var (
	// ErrUnavailable is matched by every error caused by the backing store
	// rather than by the lookup itself. A miss is never an error.
	ErrUnavailable = errors.New("address book unavailable")

	// ErrAlreadyRegistered is returned when a (provider, user) pair is
	// registered again with a different endpoint.
	ErrAlreadyRegistered = errors.New("user already registered with a different endpoint")

	// ErrAliasTaken is returned when an email already resolves to another
	// entry.
	ErrAliasTaken = errors.New("email already registered to another user")

	// ErrInvalidEntry is returned for registrations missing required fields.
	ErrInvalidEntry = errors.New("invalid address book entry")
)

// UnavailableError wraps a store failure. It matches ErrUnavailable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("address book %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Entry associates a user of an identity provider with an endpoint.
type Entry struct {
	ID         string
	ProviderID string
	UserID     string
	// EmailHashes are the hex digests of the entry's normalized email
	// aliases. The list only ever grows.
	EmailHashes []string
	Endpoint    courier.Endpoint
	CreatedAt   time.Time
}

// Key returns the store key of the entry.
func (e *Entry) Key() string {
	return EntryKey(e.ProviderID, e.UserID)
}

func (e *Entry) hasHash(hash string) bool {
	for _, h := range e.EmailHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// EntryKey is the store key for a (provider, user) pair.
func EntryKey(providerID, userID string) string {
	return "entry#" + providerID + "#" + userID
}

// Hasher digests identifiers. A crypto engine from the courier client
// satisfies it, so aliases are hashed with the same algorithm as payloads.
type Hasher interface {
	Hash(data []byte) []byte
}

// Option configures an AddressBook.
type Option func(*AddressBook)

// WithLogger sets the logger. Defaults to a logrus logger at Warn level.
func WithLogger(l *logrus.Logger) Option {
	return func(a *AddressBook) { a.log = l }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(a *AddressBook) { a.now = now }
}

// AddressBook resolves identifiers against a Store.
type AddressBook struct {
	store  Store
	hasher Hasher
	log    *logrus.Logger
	now    func() time.Time
}

// New creates an AddressBook over store, hashing aliases with hasher.
func New(store Store, hasher Hasher, opts ...Option) *AddressBook {
	a := &AddressBook{
		store:  store,
		hasher: hasher,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logrus.New()
		a.log.SetLevel(logrus.WarnLevel)
	}
	return a
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex digest of the normalized address.
func (a *AddressBook) HashEmail(email string) string {
	return hex.EncodeToString(a.hasher.Hash([]byte(NormalizeEmail(email))))
}

// Register creates an entry for (providerID, userID) and adds the given
// email aliases. Registering the same endpoint again is a no-op apart from
// adding new aliases.
func (a *AddressBook) Register(ctx context.Context, providerID, userID string, endpoint courier.Endpoint, emails ...string) (*Entry, error) {
	if providerID == "" || userID == "" {
		return nil, fmt.Errorf("%w: provider and user are required", ErrInvalidEntry)
	}
	if len(endpoint.SigningKey) == 0 || len(endpoint.EncryptionKey) == 0 {
		return nil, fmt.Errorf("%w: endpoint has no key material", ErrInvalidEntry)
	}
	for _, email := range emails {
		if NormalizeEmail(email) == "" {
			return nil, fmt.Errorf("%w: empty email", ErrInvalidEntry)
		}
	}

	entry := &Entry{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		UserID:     userID,
		Endpoint:   endpoint,
		CreatedAt:  a.now().UTC(),
	}

	err := a.store.PutEntry(ctx, entry)
	switch {
	case errors.Is(err, ErrConflict):
		existing, err := a.store.GetEntry(ctx, entry.Key())
		if err != nil {
			return nil, &UnavailableError{Op: "register", Err: err}
		}
		if !existing.Endpoint.Equal(endpoint) {
			return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyRegistered, providerID, userID)
		}
		entry = existing
	case err != nil:
		return nil, &UnavailableError{Op: "register", Err: err}
	default:
		a.log.WithFields(logrus.Fields{
			"provider": providerID,
			"entry":    entry.ID,
			"endpoint": endpoint.Fingerprint(),
		}).Info("registered address book entry")
	}

	for _, email := range emails {
		if err := a.addHash(ctx, entry, a.HashEmail(email)); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// AddEmail adds an alias to an existing entry.
func (a *AddressBook) AddEmail(ctx context.Context, providerID, userID, email string) error {
	if NormalizeEmail(email) == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidEntry)
	}
	entry, found, err := a.Lookup(ctx, providerID, userID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", courier.ErrNotFound, providerID, userID)
	}
	return a.addHash(ctx, entry, a.HashEmail(email))
}

// addHash claims the alias before recording it on the entry, so an alias
// item never points at an entry that does not list it for long.
func (a *AddressBook) addHash(ctx context.Context, entry *Entry, hash string) error {
	err := a.store.PutAlias(ctx, hash, entry.Key())
	if errors.Is(err, ErrConflict) {
		return ErrAliasTaken
	}
	if err != nil {
		return &UnavailableError{Op: "add alias", Err: err}
	}
	if entry.hasHash(hash) {
		return nil
	}
	if err := a.store.AddEmailHash(ctx, entry.Key(), hash); err != nil {
		return &UnavailableError{Op: "add alias", Err: err}
	}
	entry.EmailHashes = append(entry.EmailHashes, hash)
	return nil
}

// Lookup finds the entry for (providerID, userID).
func (a *AddressBook) Lookup(ctx context.Context, providerID, userID string) (*Entry, bool, error) {
	entry, err := a.store.GetEntry(ctx, EntryKey(providerID, userID))
	if errors.Is(err, ErrNoItem) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &UnavailableError{Op: "lookup", Err: err}
	}
	return entry, true, nil
}

// LookupByEmail hashes email and looks the digest up. The raw address is
// never sent to the store.
func (a *AddressBook) LookupByEmail(ctx context.Context, email string) (*Entry, bool, error) {
	if NormalizeEmail(email) == "" {
		return nil, false, nil
	}
	return a.LookupByEmailHash(ctx, a.HashEmail(email))
}

// LookupByEmailHash finds the entry an alias digest belongs to.
func (a *AddressBook) LookupByEmailHash(ctx context.Context, hash string) (*Entry, bool, error) {
	key, err := a.store.GetAlias(ctx, strings.ToLower(hash))
	if errors.Is(err, ErrNoItem) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &UnavailableError{Op: "lookup alias", Err: err}
	}

	entry, err := a.store.GetEntry(ctx, key)
	if errors.Is(err, ErrNoItem) {
		a.log.WithFields(logrus.Fields{"alias": hash, "entry": key}).Warn("alias points at a missing entry")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &UnavailableError{Op: "lookup alias", Err: err}
	}
	return entry, true, nil
}

// Resolve implements courier.Resolver. Identifiers containing "@" are
// treated as email addresses, anything else as an email digest.
func (a *AddressBook) Resolve(ctx context.Context, identifier string) (*courier.Endpoint, bool, error) {
	var (
		entry *Entry
		found bool
		err   error
	)
	if strings.Contains(identifier, "@") {
		entry, found, err = a.LookupByEmail(ctx, identifier)
	} else {
		entry, found, err = a.LookupByEmailHash(ctx, identifier)
	}
	if err != nil || !found {
		return nil, found, err
	}
	ep := entry.Endpoint
	return &ep, true, nil
}
