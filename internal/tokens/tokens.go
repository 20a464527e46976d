// Package tokens is the confirmation-token store for two-step
// destructive actions (kill-process, cache cleanup): a 60s-TTL,
// 200-entry-cap, single-use token map. Badger's native per-key TTL
// does the expiry work; the cap is enforced on issue.
package tokens

import (
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	defaultTTL = 60 * time.Second
	maxTokens  = 200
)

// ErrSaturated is returned when the store is at capacity; callers map
// this to HTTP 429 per §7's client-misuse taxonomy.
var ErrSaturated = fmt.Errorf("tokens: store saturated")

// ErrNotFound covers both an unknown token and one already redeemed
// or expired — callers don't need to distinguish them.
var ErrNotFound = fmt.Errorf("tokens: token not found or expired")

// Store issues and redeems confirmation tokens for a single action
// payload (e.g. "kill pid 1234"), backed by an in-process Badger
// instance running entirely in memory.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Open starts an in-memory Badger instance dedicated to token
// storage. No file is created on disk — confirmation tokens do not
// need to survive a restart.
func Open() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("tokens: open: %w", err)
	}
	return &Store{db: db, ttl: defaultTTL}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Issue mints a new token bound to action (an opaque description of
// what the token authorizes, e.g. "kill:1234" or "cleanup_cache:/tmp/x"),
// returning the token string the caller must present to Redeem.
func (s *Store) Issue(action string) (string, error) {
	if s.count() >= maxTokens {
		return "", ErrSaturated
	}
	token := uuid.NewString()
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(token), []byte(action)).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return "", fmt.Errorf("tokens: issue: %w", err)
	}
	return token, nil
}

// Redeem looks up and atomically deletes token, returning the bound
// action. A second Redeem of the same token returns ErrNotFound,
// enforcing single-use.
func (s *Store) Redeem(token string) (string, error) {
	var action string
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(token))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			action = string(val)
			return nil
		}); err != nil {
			return err
		}
		return txn.Delete([]byte(token))
	})
	if err != nil {
		if err == ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("tokens: redeem: %w", err)
	}
	return action, nil
}

// count walks live (non-expired) keys; Badger does not expose a cheap
// O(1) count, so this is an O(n) scan bounded by maxTokens — cheap
// enough at this cap.
func (s *Store) count() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}
