package store

import (
	"fmt"
	"iter"
	"log/slog"

	bolt "go.etcd.io/bbolt"
)

// Query reads from one bucket within a single read-only transaction.
type Query struct {
	tx     *bolt.Tx
	store  *Store
	bucket []byte
}

func (q *Query) GetPlain(key []byte) ([]byte, error) {
	b := q.tx.Bucket(q.bucket)
	if b == nil {
		return nil, ErrMissingBucket
	}
	value := b.Get(key)
	if value == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (q *Query) GetEncrypted(key []byte) ([]byte, error) {
	value, err := q.GetPlain(key)
	if err != nil {
		return nil, err
	}
	data, err := q.store.cipher.Decrypt(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedDecryption, err)
	}
	return data, nil
}

// IteratePlain walks every key/value pair in the bucket in key order.
func (q *Query) IteratePlain() iter.Seq2[[]byte, []byte] {
	b := q.tx.Bucket(q.bucket)
	return func(yield func(k, v []byte) bool) {
		if b == nil {
			return
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			kc := make([]byte, len(k))
			copy(kc, k)
			vc := make([]byte, len(v))
			copy(vc, v)
			if !yield(kc, vc) {
				return
			}
		}
	}
}

// IterateEncrypted walks the bucket, decrypting each value. A value that
// fails to decrypt is logged and skipped rather than aborting the walk.
func (q *Query) IterateEncrypted() iter.Seq2[[]byte, []byte] {
	plain := q.IteratePlain()
	return func(yield func(k, v []byte) bool) {
		plain(func(k, v []byte) bool {
			data, err := q.store.cipher.Decrypt(v)
			if err != nil {
				slog.Warn("decrypting stored value",
					slog.String("bucket", string(q.bucket)),
					slog.Any("error", err),
				)
				return true
			}
			return yield(k, data)
		})
	}
}
