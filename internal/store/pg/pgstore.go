package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	"accessgate.org/internal/obs"
)

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store hands out request sessions over one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects through the pgx stdlib driver. No connection is made until first use.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return Classify(s.db.PingContext(ctx))
}

// Begin opens a session at level. The request deadline bounds only the wait
// for a connection; once open, the transaction is detached from ctx so a
// client disconnect cannot abort it halfway.
func (s *Store) Begin(ctx context.Context, level IsolationLevel) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, fmt.Errorf("%w: no connection pool", ErrDatabaseUnavailable)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	tx, err := conn.BeginTx(context.WithoutCancel(ctx), level.txOptions())
	if err != nil {
		_ = conn.Close()
		return nil, Classify(err)
	}
	return newSession(conn, tx, level), nil
}

// InTx runs fn in a session, committing when it returns nil and rolling back
// otherwise. The session is always released.
func (s *Store) InTx(ctx context.Context, level IsolationLevel, fn func(*Session) error) error {
	sess, err := s.Begin(ctx, level)
	if err != nil {
		return err
	}
	defer sess.Release()
	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit()
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with a short jittered backoff.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialInterval: 20 * time.Millisecond, MaxInterval: 250 * time.Millisecond}

// Retry reruns fn while it fails with ErrSerializationFailure, up to
// policy.Attempts runs in total. fn must open its own transaction each time,
// typically through InTx. Other errors are returned at once.
func Retry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		obs.Ctx(ctx).Debug().Int("attempt", attempt).Err(err).Msg("serialization failure, retrying")
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Attempts-1)), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
