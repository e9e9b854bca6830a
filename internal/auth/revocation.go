package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"accessgate.org/internal/obs"
)

// ErrRegistryClosed is returned after Close.
var ErrRegistryClosed = errors.New("auth: revocation registry closed")

const (
	defaultRegistryCapacity = 100_000
	defaultSweepInterval    = time.Minute
	// RevocationMargin is added to the longest token lifetime when sizing the ban TTL.
	RevocationMargin = time.Minute
)

// Registry tracks revoked tokens until they could no longer validate anyway.
type Registry interface {
	Ban(ctx context.Context, token string) error
	IsBanned(ctx context.Context, token string) (bool, error)
	// Claim bans token and reports whether it was not banned before.
	// Exactly one of several concurrent callers sees true.
	Claim(ctx context.Context, token string) (bool, error)
	Close() error
}

// RevocationTTL is how long a ban must live so no token outlives it.
func RevocationTTL(accessTTL, refreshTTL time.Duration) time.Duration {
	return max(accessTTL, refreshTTL) + RevocationMargin
}

// tokenKey keeps external store keys short and avoids storing bearer tokens verbatim.
func tokenKey(prefix, token string) string {
	sum := sha256.Sum256([]byte(token))
	return prefix + hex.EncodeToString(sum[:])
}

// MemoryRegistry is a single-process registry backed by a lock-protected map.
// Expired entries are treated as absent and removed by a lazy sweep.
type MemoryRegistry struct {
	mu         sync.RWMutex
	entries    map[string]time.Time
	ttl        time.Duration
	capacity   int
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
	closed     bool
}

// MemoryOption configures MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithCapacity sets the entry count that forces an early sweep.
func WithCapacity(n int) MemoryOption {
	return func(r *MemoryRegistry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithSweepInterval sets the minimum time between lazy sweeps.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(r *MemoryRegistry) {
		if d > 0 {
			r.sweepEvery = d
		}
	}
}

// WithRegistryClock overrides the time source.
func WithRegistryClock(fn func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewMemoryRegistry creates a registry whose bans last ttl.
func NewMemoryRegistry(ttl time.Duration, opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		capacity:   defaultRegistryCapacity,
		sweepEvery: defaultSweepInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.now()
	return r
}

// Ban records the token. Banning twice just extends the entry.
func (r *MemoryRegistry) Ban(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.banLocked(ctx, token)
	return nil
}

func (r *MemoryRegistry) banLocked(ctx context.Context, token string) {
	now := r.now()
	r.entries[token] = now.Add(r.ttl)
	if len(r.entries) > r.capacity || now.Sub(r.lastSweep) >= r.sweepEvery {
		r.sweepLocked(now)
		if len(r.entries) > r.capacity {
			// Live bans are never evicted; the bound only drives sweeping.
			obs.Ctx(ctx).Warn().Int("entries", len(r.entries)).Int("capacity", r.capacity).
				Msg("revocation registry above capacity")
		}
	}
	revocationsActive.Set(float64(len(r.entries)))
}

// IsBanned reports whether the token has an unexpired ban.
func (r *MemoryRegistry) IsBanned(_ context.Context, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false, ErrRegistryClosed
	}
	exp, ok := r.entries[token]
	if !ok {
		return false, nil
	}
	return r.now().Before(exp), nil
}

func (r *MemoryRegistry) Claim(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrRegistryClosed
	}
	if exp, ok := r.entries[token]; ok && r.now().Before(exp) {
		return false, nil
	}
	r.banLocked(ctx, token)
	return true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

func (r *MemoryRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for token, exp := range r.entries {
		if !now.Before(exp) {
			delete(r.entries, token)
			removed++
		}
	}
	r.lastSweep = now
	revocationsActive.Set(float64(len(r.entries)))
	return removed
}

// Len returns the number of tracked entries, expired or not.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Start sweeps on every interval until ctx is done.
func (r *MemoryRegistry) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					obs.Logger().Debug().Int("removed", n).Msg("revocation sweep")
				}
			}
		}
	}()
}

func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.entries = nil
	return nil
}
