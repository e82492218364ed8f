package articles

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// cacheBucket holds every cached entry, keyed by the already-canonicalized
// cache key.
var cacheBucket = []byte("articles_cache")

// BoltCacheStore is the reference CacheStore: a local bbolt file storing
// (expiresAtUnix uint64 || value) under each key, grounded on the teacher
// pack's BoltDB store idiom (open-once, one bucket per concern, JSON-free
// binary framing for the TTL prefix since the value itself is already an
// opaque compressed blob).
type BoltCacheStore struct {
	db *bolt.DB
}

func NewBoltCacheStore(path string) (*BoltCacheStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	return &BoltCacheStore{db: db}, nil
}

func (s *BoltCacheStore) Close() error {
	return s.db.Close()
}

func (s *BoltCacheStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Get returns (nil, false, nil) both for an absent key and for one whose
// stored expiry has passed; an expired entry is not evicted eagerly here,
// only masked, to keep Get a read-only bolt.View.
func (s *BoltCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		expiresAt, body, err := decodeCacheEntry(raw)
		if err != nil {
			return err
		}
		if time.Now().Unix() >= expiresAt {
			return nil
		}
		value = append([]byte(nil), body...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (s *BoltCacheStore) Set(ctx context.Context, key string, body []byte, expSeconds int, useOldTTL bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		expiresAt := time.Now().Add(time.Duration(expSeconds) * time.Second).Unix()
		if useOldTTL {
			if existing := b.Get([]byte(key)); existing != nil {
				if oldExpiry, _, err := decodeCacheEntry(existing); err == nil {
					expiresAt = oldExpiry
				}
			}
		}
		return b.Put([]byte(key), encodeCacheEntry(expiresAt, body))
	})
}

func (s *BoltCacheStore) Del(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Delete([]byte(key))
	})
}

func (s *BoltCacheStore) SetExpire(ctx context.Context, key string, seconds int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		existing := b.Get([]byte(key))
		if existing == nil {
			return nil
		}
		_, body, err := decodeCacheEntry(existing)
		if err != nil {
			return err
		}
		expiresAt := time.Now().Add(time.Duration(seconds) * time.Second).Unix()
		return b.Put([]byte(key), encodeCacheEntry(expiresAt, body))
	})
}

// encodeCacheEntry frames the entry as an 8-byte big-endian unix expiry
// timestamp followed by the opaque body.
func encodeCacheEntry(expiresAt int64, body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[:8], uint64(expiresAt))
	copy(out[8:], body)
	return out
}

func decodeCacheEntry(raw []byte) (int64, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("corrupt cache entry: %d bytes", len(raw))
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[:8]))
	return expiresAt, raw[8:], nil
}
