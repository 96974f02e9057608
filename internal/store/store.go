// Package store implements the embedded ordered key-value store that
// backs every piece of APEX state: task queues, briefings, outputs,
// agent status, snapshots. Keys are opaque byte strings ordered
// lexicographically; the semantic structure described in the data
// model lives entirely in how callers compose key paths.
//
// The backing engine is bbolt: a single-file, single-writer,
// multi-reader B+tree with byte-ordered keys and cursor-based range
// scans — the same structural shape as the original Python
// implementation's LMDB store. All keys live in one flat top-level
// bucket; "/"-separated key segments are never turned into nested
// buckets, since nesting would break the flat prefix-scan model Read,
// ListKeys and Scan depend on.
package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	bolt "go.etcd.io/bbolt"

	"github.com/nibzard/apex/internal/apexerr"
)

var rootBucket = []byte("apex")

// Store is the ordered key-value interface every component depends on.
type Store interface {
	Read(key []byte) (value []byte, found bool, err error)
	Write(key, value []byte) error
	Delete(key []byte) error
	ListKeys(prefix []byte) ([][]byte, error)
	Scan(start, end []byte, limit int) ([]KV, error)
	Transact(ops []Op) ([]OpResult, error)
	Close() error
}

// KV is a single key/value pair returned by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// BoltStore is the production Store backed by a memory-mapped bbolt
// file. Re-opening the same path recovers state exactly, since bbolt
// persists its B+tree pages to the file on every committed
// transaction.
type BoltStore struct {
	db     *bolt.DB
	path   string
	maxLen int64 // APEX_STORE_MAX_BYTES, 0 = unbounded

	mu sync.Mutex // serializes the single writer, per spec §4.A
}

// Options configures Open.
type Options struct {
	// MaxBytes bounds the on-disk file size; Write returns an
	// apexerr.ResourceExhausted error once exceeded. 0 means unbounded.
	MaxBytes int64
	// Timeout bounds how long Open waits for the file lock held by
	// another process before giving up.
	Timeout time.Duration
}

// Open opens (creating if absent) the bbolt file at path and ensures
// the root bucket exists.
func Open(path string, opts Options) (*BoltStore, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, apexerr.New(apexerr.IOFailure, "store", "Open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apexerr.New(apexerr.IOFailure, "store", "Open", err)
	}

	return &BoltStore{
		db:     db,
		path:   path,
		maxLen: opts.MaxBytes,
	}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// withRetry wraps a store operation in the §7 IOFailure retry policy:
// base 1s, factor 2, cap 60s, at most 3 attempts.
func withRetry(op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0

	var attempt int
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= 3 {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, 2))
}

// Read fetches the value at key. found is false when the key is absent;
// that is not itself an error per spec §4.A.
func (s *BoltStore) Read(key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := withRetry(func() error {
		return s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(rootBucket)
			v := b.Get(key)
			if v != nil {
				found = true
				value = append([]byte(nil), v...)
			}
			return nil
		})
	})
	if err != nil {
		return nil, false, apexerr.New(apexerr.IOFailure, "store", "Read", err)
	}
	return value, found, nil
}

// Write commits a single key/value pair.
func (s *BoltStore) Write(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxLen > 0 {
		if sz, _ := s.sizeEstimate(); sz+int64(len(key)+len(value)) > s.maxLen {
			return apexerr.New(apexerr.ResourceExhausted, "store", "Write", fmt.Errorf("store at capacity (%d bytes)", s.maxLen))
		}
	}

	err := withRetry(func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(rootBucket).Put(key, value)
		})
	})
	if err != nil {
		return apexerr.New(apexerr.IOFailure, "store", "Write", err)
	}
	return nil
}

// Delete removes key; deleting an absent key is a no-op success.
func (s *BoltStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(rootBucket).Delete(key)
		})
	})
	if err != nil {
		return apexerr.New(apexerr.IOFailure, "store", "Delete", err)
	}
	return nil
}

func (s *BoltStore) sizeEstimate() (int64, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
