// Package store is a small bbolt-backed encrypted key-value layer: a
// passphrase wraps a data-encryption key, which in turn encrypts every
// value written through Command/Query. Used for local chat history and
// peer fingerprint bookkeeping, never for session key material (that
// lives in pkg/secbuf and is zeroized on Close, not persisted).
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aegis-chat/aegis/internal/enigma"
)

const (
	// PeersBucket holds TOFU-style "seen this fingerprint before" entries.
	PeersBucket = "peers"

	// ChatBucketPrefix namespaces the per-session chat-history buckets;
	// the full bucket name is ChatBucketPrefix + sessionID, created lazily
	// on first write so sessions never seen yet don't clutter the DB.
	ChatBucketPrefix = "chat_"

	authBucket = "auth"

	kek = "key-encryption-key"
	dek = "data-encryption-key"
	dpk = "derived-passphrase-key"

	wrappedSaltKey = "wrapped-salt"
	wrappedKey     = "wrapped-key"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
)

var (
	ErrMissingBucket    = errors.New("store: bucket not found")
	ErrNotFound         = errors.New("store: item not found")
	ErrFailedDecryption = errors.New("store: decryption failed")
)

// Store is one open, passphrase-unlocked local database.
type Store struct {
	db     *bolt.DB
	cipher *enigma.Enigma
}

func open(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	var secretSalt, deriveSalt, wrappedSalt, wrapped []byte
	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		wrapped = bucket.Get([]byte(wrappedKey))
		deriveSalt = bucket.Get([]byte(deriveSaltKey))
		wrappedSalt = bucket.Get([]byte(wrappedSaltKey))
		secretSalt = bucket.Get([]byte(secretSaltKey))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	if secretSalt == nil || deriveSalt == nil || wrappedSalt == nil || wrapped == nil {
		return nil, ErrNotFound
	}
	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	secret, err := keyCipher.Decrypt(wrapped)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}
	return dataCipher, nil
}

func create(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	secret, secretSalt := random32Bits(), random32Bits()
	deriveSalt, wrappedSalt := random32Bits(), random32Bits()

	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	wrapped := keyCipher.Encrypt(secret)
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		if err := bucket.Put([]byte(wrappedKey), wrapped); err != nil {
			return fmt.Errorf("put wrapped key: %w", err)
		}
		if err := bucket.Put([]byte(wrappedSaltKey), wrappedSalt); err != nil {
			return fmt.Errorf("put wrapped salt: %w", err)
		}
		if err := bucket.Put([]byte(deriveSaltKey), deriveSalt); err != nil {
			return fmt.Errorf("put derive salt: %w", err)
		}
		if err := bucket.Put([]byte(secretSaltKey), secretSalt); err != nil {
			return fmt.Errorf("put secret salt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update db: %w", err)
	}

	return dataCipher, nil
}

func random32Bits() []byte {
	src := make([]byte, 32)
	_, _ = rand.Read(src)
	return src
}

// New opens (or creates) the bbolt database at path, unlocking it with
// passphrase. An empty passphrase is valid and common for local-only demo
// use; it still wraps a randomly generated data-encryption key, so the
// on-disk bytes are never plaintext.
func New(passphrase []byte, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{PeersBucket, authBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}

	cipher, err := open(passphrase, db)
	if errors.Is(err, ErrNotFound) {
		cipher, err = create(passphrase, db)
	}
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &Store{db: db, cipher: cipher}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn against a read-only Query scoped to bucket.
func (s *Store) View(bucket string, fn func(*Query) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Query{tx: tx, store: s, bucket: []byte(bucket)})
	})
}

// Update runs fn against a Command scoped to bucket, creating the bucket
// if it doesn't already exist.
func (s *Store) Update(bucket string, fn func(*Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("creating bucket %q: %w", bucket, err)
		}
		return fn(&Command{bucket: b, store: s})
	})
}

// AddPeer records a fingerprint as seen, with an expiry after which
// PeerExists stops reporting it (a lightweight TOFU aid, not an identity
// system: entries key on the raw ephemeral public key bytes, per spec).
func (s *Store) AddPeer(fingerprint []byte, expiry time.Time) error {
	e, err := expiry.UTC().MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling expiry: %w", err)
	}
	return s.Update(PeersBucket, func(c *Command) error {
		return c.AddEncrypted(fingerprint, e)
	})
}

// RemovePeer forgets a previously recorded fingerprint.
func (s *Store) RemovePeer(fingerprint []byte) error {
	return s.Update(PeersBucket, func(c *Command) error {
		return c.Delete(fingerprint)
	})
}

// PeerExists reports whether fingerprint was recorded and hasn't expired,
// removing it if it has.
func (s *Store) PeerExists(fingerprint []byte) bool {
	var exists bool
	err := s.View(PeersBucket, func(q *Query) error {
		raw, err := q.GetEncrypted(fingerprint)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMissingBucket) {
			return nil
		}
		if err != nil {
			return err
		}
		var expiry time.Time
		if err := expiry.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("unmarshaling expiry: %w", err)
		}
		if expiry.Before(time.Now().UTC()) {
			_ = s.RemovePeer(fingerprint)
			return nil
		}
		exists = true
		return nil
	})
	return err == nil && exists
}
