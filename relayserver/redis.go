package relayserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// DefaultRedisKeyPrefix namespaces blob keys.
const DefaultRedisKeyPrefix = "courier:blob:"

// RedisBlobStore keeps blobs in redis. Expiration is delegated to redis key
// TTLs, so expired blobs disappear without sweeping.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
}

// NewRedisBlobStore wraps an existing redis client.
func NewRedisBlobStore(client *redis.Client, prefix string) *RedisBlobStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisBlobStore{client: client, prefix: prefix}
}

// DialRedis connects to the redis server at a redis:// URL and checks it
// responds.
func DialRedis(connstr string) (*redis.Client, error) {
	opt, err := redis.ParseURL(connstr)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	c := redis.NewClient(opt)
	if err := c.Ping().Err(); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return c, nil
}

func (s *RedisBlobStore) key(id string) string {
	return s.prefix + id
}

// Put stores b under id with the given ttl. A zero ttl never expires.
func (s *RedisBlobStore) Put(ctx context.Context, id string, b *Blob, ttl time.Duration) error {
	cp := *b
	if ttl > 0 {
		cp.ExpiresAt = time.Now().Add(ttl).UTC()
	} else {
		cp.ExpiresAt = time.Time{}
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.Wrap(err, "encode blob")
	}
	if err := s.client.WithContext(ctx).Set(s.key(id), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "store blob %s", id)
	}
	return nil
}

// Get returns the blob stored under id.
func (s *RedisBlobStore) Get(ctx context.Context, id string) (*Blob, error) {
	data, err := s.client.WithContext(ctx).Get(s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load blob %s", id)
	}
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrapf(err, "decode blob %s", id)
	}
	return &b, nil
}

// Delete removes the blob stored under id.
func (s *RedisBlobStore) Delete(ctx context.Context, id string) error {
	if err := s.client.WithContext(ctx).Del(s.key(id)).Err(); err != nil {
		return errors.Wrapf(err, "delete blob %s", id)
	}
	return nil
}
