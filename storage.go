package aegis

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/term"

	"github.com/aegis-chat/aegis/pkg/store"
)

// ChatEntry is one decrypted chat message recovered from local history.
type ChatEntry struct {
	Timestamp   time.Time
	Data        []byte
	SentByLocal bool
}

// PassphraseHandler supplies the passphrase that unlocks a Storage's
// database. Called once, at OpenStorage time.
type PassphraseHandler func() ([]byte, error)

func defaultPassphraseHandler() ([]byte, error) {
	if envPass := os.Getenv("AEGIS_DB_PASSPHRASE"); envPass != "" {
		return []byte(envPass), nil
	}
	fmt.Println("Enter passphrase:")
	pass, err := term.ReadPassword(0)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return bytes.TrimSpace(pass), nil
}

// Storage is a passphrase-unlocked local database recording chat history
// and previously seen peer fingerprints. It never holds session key
// material: ratchet state is zeroized on Session.Close, not persisted
// (§3, §9).
type Storage struct {
	passphraseHandler PassphraseHandler
	store             *store.Store
	dbPath            string
	peerExpiry        time.Duration
}

// StorageOption configures a Storage, following the teacher's functional
// options convention.
type StorageOption func(*Storage)

func StorageWithDBPath(path string) StorageOption {
	return func(s *Storage) { s.dbPath = path }
}

func StorageWithPassphraseHandler(fn PassphraseHandler) StorageOption {
	return func(s *Storage) { s.passphraseHandler = fn }
}

// StorageWithNoPassphrase unlocks the database with an empty passphrase,
// for local-only demo use. The on-disk bytes are still never plaintext:
// an empty passphrase still wraps a randomly generated data-encryption key.
func StorageWithNoPassphrase() StorageOption {
	return func(s *Storage) {
		s.passphraseHandler = func() ([]byte, error) { return []byte(""), nil }
	}
}

// StorageWithPeerExpiry sets how long a recorded peer fingerprint is
// considered trusted before PeerExists forgets it.
func StorageWithPeerExpiry(d time.Duration) StorageOption {
	return func(s *Storage) { s.peerExpiry = d }
}

// OpenStorage opens (or creates) a local database, defaulting to
// ~/.config/aegis/db and a terminal passphrase prompt.
func OpenStorage(opts ...StorageOption) (*Storage, error) {
	s := &Storage{
		passphraseHandler: defaultPassphraseHandler,
		peerExpiry:        7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dbPath == "" {
		if envPath := os.Getenv("AEGIS_DB_PATH"); envPath != "" {
			s.dbPath = envPath
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("getting user's home directory: %w", err)
			}
			s.dbPath = filepath.Join(home, ".config", "aegis", "db")
		}
	}

	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0740); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	slog.Info("opening aegis storage", slog.String("db_path", s.dbPath))

	pass, err := s.passphraseHandler()
	if err != nil {
		return nil, fmt.Errorf("getting passphrase: %w", err)
	}
	db, err := store.New(pass, s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening aegis db: %w", err)
	}
	s.store = db

	return s, nil
}

func (s *Storage) Close() error {
	return s.store.Close()
}

// RememberPeer records fingerprint as seen, trusted until the configured
// peer expiry elapses.
func (s *Storage) RememberPeer(fingerprint []byte) error {
	return s.store.AddPeer(fingerprint, time.Now().UTC().Add(s.peerExpiry))
}

// KnowsPeer reports whether fingerprint was previously recorded and
// hasn't expired.
func (s *Storage) KnowsPeer(fingerprint []byte) bool {
	return s.store.PeerExists(fingerprint)
}

// AddChatEntry stores one chat message under the bucket scoped to
// sessionID. The key is 13 bytes: an 8-byte big-endian UnixNano
// timestamp, a sender flag byte (1 if sent by the local side), and a
// 4-byte random suffix to avoid collisions between same-timestamp
// messages. If ts is zero, the current time is used.
func (s *Storage) AddChatEntry(sessionID string, data []byte, ts time.Time, sentByLocal bool) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	key := make([]byte, 13)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	if sentByLocal {
		key[8] = 1
	}
	if _, err := rand.Read(key[9:]); err != nil {
		return fmt.Errorf("generating key suffix: %w", err)
	}

	bucket := ChatBucketName(sessionID)
	err := s.store.Update(bucket, func(c *store.Command) error {
		return c.AddEncrypted(key, data)
	})
	if err != nil {
		return fmt.Errorf("storing chat entry: %w", err)
	}
	return nil
}

// GetChatHistory returns every chat entry recorded for sessionID, in
// timestamp order.
func (s *Storage) GetChatHistory(sessionID string) ([]ChatEntry, error) {
	var entries []ChatEntry
	bucket := ChatBucketName(sessionID)
	err := s.store.View(bucket, func(q *store.Query) error {
		for key, value := range q.IterateEncrypted() {
			if len(key) < 9 {
				continue
			}
			nanos := int64(binary.BigEndian.Uint64(key[:8]))
			entries = append(entries, ChatEntry{
				Timestamp:   time.Unix(0, nanos),
				Data:        value,
				SentByLocal: key[8] == 1,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading chat history: %w", err)
	}
	return entries, nil
}

// ChatBucketName returns the bbolt bucket name used for a session's chat
// history, exported so callers can reason about storage layout (e.g. when
// scripting a DB inspection tool) without duplicating the prefix.
func ChatBucketName(sessionID string) string {
	return store.ChatBucketPrefix + sessionID
}
