package store

import bolt "go.etcd.io/bbolt"

// Command writes to one bucket within a single read-write transaction.
type Command struct {
	bucket *bolt.Bucket
	store  *Store
}

func (c *Command) AddPlain(key, value []byte) error {
	return c.bucket.Put(key, value)
}

func (c *Command) AddEncrypted(key, value []byte) error {
	return c.AddPlain(key, c.store.cipher.Encrypt(value))
}

// Delete removes key from the bucket. Deleting an absent key is not an
// error.
func (c *Command) Delete(key []byte) error {
	return c.bucket.Delete(key)
}
