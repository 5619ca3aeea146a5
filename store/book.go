package store

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/courierproto/client-go/addressbook"
)

var _ addressbook.Store = (*DB)(nil)

func bookEntryKey(key string) []byte {
	return []byte(bookPrefix + key)
}

func bookAliasKey(hash string) []byte {
	return []byte(bookPrefix + "alias#" + hash)
}

// GetEntry implements addressbook.Store.
func (d *DB) GetEntry(ctx context.Context, key string) (*addressbook.Entry, error) {
	var e addressbook.Entry
	err := d.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, string(bookEntryKey(key)), &e)
	})
	if err == badger.ErrKeyNotFound {
		return nil, addressbook.ErrNoItem
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetAlias implements addressbook.Store.
func (d *DB) GetAlias(ctx context.Context, hash string) (string, error) {
	var key string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bookAliasKey(hash))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		key = string(v)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", addressbook.ErrNoItem
	}
	return key, err
}

// PutEntry implements addressbook.Store.
func (d *DB) PutEntry(ctx context.Context, e *addressbook.Entry) error {
	k := bookEntryKey(e.Key())
	return d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return addressbook.ErrConflict
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return txn.Set(k, data)
	})
}

// PutAlias implements addressbook.Store.
func (d *DB) PutAlias(ctx context.Context, hash, entryKey string) error {
	k := bookAliasKey(hash)
	return d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		switch {
		case err == badger.ErrKeyNotFound:
			return txn.Set(k, []byte(entryKey))
		case err != nil:
			return err
		}
		existing, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(existing) != entryKey {
			return addressbook.ErrConflict
		}
		return nil
	})
}

// AddEmailHash implements addressbook.Store.
func (d *DB) AddEmailHash(ctx context.Context, key, hash string) error {
	k := bookEntryKey(key)
	err := d.db.Update(func(txn *badger.Txn) error {
		var e addressbook.Entry
		if err := getJSON(txn, string(k), &e); err != nil {
			return err
		}
		for _, h := range e.EmailHashes {
			if h == hash {
				return nil
			}
		}
		e.EmailHashes = append(e.EmailHashes, hash)
		data, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return txn.Set(k, data)
	})
	if err == badger.ErrKeyNotFound {
		return addressbook.ErrNoItem
	}
	return err
}
