package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// BadgerRegistry persists bans on local disk so they survive a restart.
type BadgerRegistry struct {
	db     *badger.DB
	prefix []byte
	ttl    time.Duration
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

type badgerBan struct {
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewBadgerRegistry uses db, which may be shared with other components.
func NewBadgerRegistry(db *badger.DB, prefix string, ttl time.Duration) *BadgerRegistry {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &BadgerRegistry{db: db, prefix: []byte(prefix), ttl: ttl, now: time.Now}
}

// OpenBadger opens a badger store at dir, or in memory when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("auth: open badger: %w", err)
	}
	return db, nil
}

func (r *BadgerRegistry) key(token string) []byte {
	return []byte(tokenKey(string(r.prefix), token))
}

func (r *BadgerRegistry) Ban(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRegistryClosed
	}
	now := r.now()
	data, err := json.Marshal(badgerBan{BannedAt: now, ExpiresAt: now.Add(r.ttl)})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(r.key(token), data).WithTTL(r.ttl))
	})
}

func (r *BadgerRegistry) IsBanned(_ context.Context, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, ErrRegistryClosed
	}
	var banned bool
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var ban badgerBan
			if err := json.Unmarshal(val, &ban); err != nil {
				return err
			}
			banned = r.now().Before(ban.ExpiresAt)
			return nil
		})
	})
	return banned, err
}

func (r *BadgerRegistry) Claim(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, ErrRegistryClosed
	}
	key := r.key(token)
	claimed := false
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var ban badgerBan
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &ban) }); err != nil {
				return err
			}
			if r.now().Before(ban.ExpiresAt) {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := r.now()
		data, err := json.Marshal(badgerBan{BannedAt: now, ExpiresAt: now.Add(r.ttl)})
		if err != nil {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(key, data).WithTTL(r.ttl)); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent claim on the same key committed first.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Close marks the registry closed. The badger handle is owned by the caller.
func (r *BadgerRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
