package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"github.com/nibzard/apex/internal/apexerr"
)

// OpKind selects the action a single Op within a Transact call performs.
type OpKind string

const (
	OpRead   OpKind = "read"
	OpWrite  OpKind = "write"
	OpDelete OpKind = "delete"
)

// Op is a single step of a transaction. For OpRead, ExpectValue (if
// non-nil) turns the read into an optimistic check: if the stored
// value doesn't match, the whole transaction aborts with Conflict.
type Op struct {
	Kind        OpKind
	Key         []byte
	Value       []byte
	ExpectValue []byte
	ExpectFound *bool
}

// OpResult carries the per-op outcome of a committed transaction.
type OpResult struct {
	Found bool
	Value []byte
}

// Transact executes ops as a single all-or-nothing bbolt read-write
// transaction. Single-writer serializability is provided by bbolt
// itself (one writer transaction at a time); Conflict is returned if
// any Op's optimistic expectation doesn't hold against the value seen
// inside that same transaction.
func (s *BoltStore) Transact(ops []Op) ([]OpResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]OpResult, len(ops))
	err := withRetry(func() error {
		return s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(rootBucket)
			for i, op := range ops {
				switch op.Kind {
				case OpRead:
					v := b.Get(op.Key)
					found := v != nil
					if op.ExpectFound != nil && *op.ExpectFound != found {
						return apexerr.New(apexerr.Conflict, "store", "Transact", errConflict)
					}
					if op.ExpectValue != nil && !bytes.Equal(v, op.ExpectValue) {
						return apexerr.New(apexerr.Conflict, "store", "Transact", errConflict)
					}
					if found {
						results[i] = OpResult{Found: true, Value: append([]byte(nil), v...)}
					}
				case OpWrite:
					if err := b.Put(op.Key, op.Value); err != nil {
						return err
					}
				case OpDelete:
					if err := b.Delete(op.Key); err != nil {
						return err
					}
				default:
					return apexerr.New(apexerr.InvalidInput, "store", "Transact", errUnknownOpKind)
				}
			}
			return nil
		})
	})
	if err != nil {
		if apexerr.Is(err, apexerr.Conflict) || apexerr.Is(err, apexerr.InvalidInput) {
			return nil, err
		}
		return nil, apexerr.New(apexerr.IOFailure, "store", "Transact", err)
	}
	return results, nil
}

var (
	errConflict      = txnError("transaction expectation mismatch")
	errUnknownOpKind = txnError("unknown op kind")
)

type txnError string

func (e txnError) Error() string { return string(e) }
