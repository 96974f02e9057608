package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/nibzard/apex/internal/apexerr"
)

// ListKeys returns every key under prefix in ascending lexicographic
// order. It reflects any transaction committed before the scan began,
// per the consistent-snapshot guarantee bbolt's read transactions
// provide.
func (s *BoltStore) ListKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := withRetry(func() error {
		keys = nil
		return s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(rootBucket).Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return nil, apexerr.New(apexerr.IOFailure, "store", "ListKeys", err)
	}
	return keys, nil
}

// Scan returns up to limit ordered (key, value) pairs in [start, end).
// An empty end means "no upper bound". limit <= 0 means unbounded.
func (s *BoltStore) Scan(start, end []byte, limit int) ([]KV, error) {
	var out []KV
	err := withRetry(func() error {
		out = nil
		return s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(rootBucket).Cursor()
			for k, v := c.Seek(start); k != nil; k, v = c.Next() {
				if len(end) > 0 && bytes.Compare(k, end) >= 0 {
					break
				}
				out = append(out, KV{
					Key:   append([]byte(nil), k...),
					Value: append([]byte(nil), v...),
				})
				if limit > 0 && len(out) >= limit {
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, apexerr.New(apexerr.IOFailure, "store", "Scan", err)
	}
	return out, nil
}
