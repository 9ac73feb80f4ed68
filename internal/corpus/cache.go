package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketPacks = []byte("packs")

// CacheEntry is a raw pack body remembered together with its revalidation token.
type CacheEntry struct {
	ETag      string    `json:"etag"`
	Digest    string    `json:"digest"`
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache persists the last good pack body per URL.
type Cache interface {
	Get(url string) (*CacheEntry, error)
	Put(url string, entry CacheEntry) error
}

// BoltCache stores pack bodies in a bbolt file so revalidation tokens survive restarts.
type BoltCache struct {
	db *bbolt.DB
}

// OpenBoltCache opens (or creates) the cache file at path.
func OpenBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating pack cache directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening pack cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPacks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating pack bucket: %w", err)
	}
	return &BoltCache{db: db}, nil
}

// Get returns the cached entry for url, or nil when there is none.
func (c *BoltCache) Get(url string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPacks).Get([]byte(url))
		if data == nil {
			return nil
		}
		var e CacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding cache entry for %s: %w", url, err)
		}
		entry = &e
		return nil
	})
	return entry, err
}

// Put replaces the cached entry for url.
func (c *BoltCache) Put(url string, entry CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPacks).Put([]byte(url), data)
	})
}

// Close releases the underlying file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
