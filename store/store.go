// Package store persists courier client state in a local badger database:
// inbox credentials, received messages and a local address book.
//
// A *DB is a courier.MessageStore, so a client configured with it saves each
// message before the notification is deleted from the relay.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	courier "github.com/courierproto/client-go"
)

const (
	inboxPrefix   = "inbox:"
	messagePrefix = "msg:"
	bookPrefix    = "book:"
)

// Config configures Open.
type Config struct {
	// Path is the database directory. Empty keeps everything in memory.
	Path string

	// Logger receives badger's own logging as well. Defaults to
	// logrus.New() at Warn level.
	Logger *logrus.Logger

	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool
}

// DB is the client's local database.
type DB struct {
	db  *badger.DB
	log *logrus.Logger
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*DB, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(cfg.Logger).WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", cfg.Path, err)
	}
	return &DB{db: db, log: cfg.Logger}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) put(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func getJSON(txn *badger.Txn, key string, v interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// scan decodes every value under prefix with fn.
func (d *DB) scan(prefix string, fn func(val []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}

// SaveInbox stores an inbox export, replacing any previous one for the same
// receive endpoint.
func (d *DB) SaveInbox(ctx context.Context, inbox *courier.ExportedInbox) error {
	if err := inbox.Validate(); err != nil {
		return err
	}
	return d.put(inboxPrefix+inbox.ReceiveEndpoint, inbox)
}

// LoadInboxes returns every stored inbox export.
func (d *DB) LoadInboxes(ctx context.Context) ([]*courier.ExportedInbox, error) {
	var inboxes []*courier.ExportedInbox
	err := d.scan(inboxPrefix, func(val []byte) error {
		var inbox courier.ExportedInbox
		if err := json.Unmarshal(val, &inbox); err != nil {
			return err
		}
		inboxes = append(inboxes, &inbox)
		return nil
	})
	return inboxes, err
}

// DeleteInbox removes a stored inbox and its messages.
func (d *DB) DeleteInbox(ctx context.Context, receiveEndpoint string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(inboxPrefix + receiveEndpoint)); err != nil {
			return err
		}

		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		p := []byte(messagePrefix + receiveEndpoint + "#")
		var keys [][]byte
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func messageKey(inbox, digest string) string {
	return messagePrefix + inbox + "#" + digest
}

// SaveMessage implements courier.MessageStore. Saving a message whose
// digest is already stored is a no-op, so redelivery after a crash between
// save and delete does not duplicate it.
func (d *DB) SaveMessage(ctx context.Context, m *courier.ReceivedMessage) error {
	if m.Digest == "" {
		return fmt.Errorf("save message: missing digest")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := []byte(messageKey(m.Inbox, m.Digest))
	saved := false
	err = d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		saved = true
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if saved {
		d.log.WithFields(logrus.Fields{
			"inbox":  m.Inbox,
			"digest": m.Digest,
		}).Debug("message saved")
	}
	return nil
}

// Messages returns the stored messages of inbox, or of every inbox when
// inbox is empty, ordered by key.
func (d *DB) Messages(ctx context.Context, inbox string) ([]*courier.ReceivedMessage, error) {
	prefix := messagePrefix
	if inbox != "" {
		prefix += inbox + "#"
	}

	var out []*courier.ReceivedMessage
	err := d.scan(prefix, func(val []byte) error {
		var m courier.ReceivedMessage
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}

// DeleteMessage removes a stored message. Deleting a missing message is not
// an error.
func (d *DB) DeleteMessage(ctx context.Context, inbox, digest string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(messageKey(inbox, digest)))
	})
}
